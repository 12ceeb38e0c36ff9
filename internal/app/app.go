package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"fmeta-go/internal/config"
	"fmeta-go/internal/database"
	"fmeta-go/internal/encryption"
	"fmeta-go/internal/gateway"
	"fmeta-go/internal/meta"
	"fmeta-go/internal/model"
	"fmeta-go/internal/pathfilter"
	"fmeta-go/internal/spool"
	"fmeta-go/internal/vault"
)

// App is the application layer between the CLI and MetaService.
// It constructs all dependencies from config, exposes operations keyed by
// raw IDs and paths, and manages the DB lifecycle on Close.
type App struct {
	cfg       *config.Config
	db        meta.Database
	vault     meta.Vault
	gateway   meta.Gateway
	spool     meta.EventSpool
	encryptor meta.Encryptor
	service   *meta.MetaService
	op        *Operation
	logFile   *os.File
}

// Options tunes how New builds the App.
type Options struct {
	// StderrLevel is the lowest level echoed to stderr. The log file gets everything.
	StderrLevel slog.Level
}

// New creates a fully wired App from the given config.
// operation names the CLI command being run (e.g. "NodeDelete", "EventProcess").
// The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, opts Options, operation string, args ...string) (*App, error) {
	if len(cfg.Vaults) == 0 {
		return nil, fmt.Errorf("no vaults configured")
	}
	v, err := vault.NewVaultFromConfig(ctx, cfg.Vaults[0])
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	// The vault snapshot is versioned by the last operation that produced it.
	remoteVersion, err := v.GetMetadataVersion(cfg.InstanceID, "db")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checking remote metadata version: %w", err)
	}
	localMax, err := db.MaxOperationID()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checking local metadata version: %w", err)
	}
	if remoteVersion > localMax {
		db.Close()
		return nil, fmt.Errorf("local database is behind remote (local=%d, remote=%d): restore from vault or re-initialize", localMax, remoteVersion)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	var gw meta.Gateway
	if cfg.Gateway.BaseURL != "" {
		g, err := gateway.NewGatewayFromConfig(cfg.Gateway)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("creating gateway client: %w", err)
		}
		gw = g
	}

	sp, err := spool.NewSpoolFromConfig(cfg.Spool)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating event spool: %w", err)
	}

	filter, err := eventFilter(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID, opts.StderrLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	svc := meta.NewMetaService(db, gw, v, enc, meta.DefaultRegistry(), &slogAdapter{l: logger}, meta.RealClock{}, meta.UUIDGenerator{})
	if filter != nil {
		svc.SetEventFilter(filter)
	}

	return &App{
		cfg:       cfg,
		db:        db,
		vault:     v,
		gateway:   gw,
		spool:     sp,
		encryptor: enc,
		service:   svc,
		op:        NewOperation(operation, args...),
		logFile:   logFile,
	}, nil
}

// eventFilter combines the configured ignore patterns with the instance's
// ignore file. It returns nil when there is nothing to ignore.
func eventFilter(cfg *config.Config) (*pathfilter.Filter, error) {
	patterns := append([]string{}, cfg.Events.Ignore...)
	if cfg.BaseDir != "" {
		fromFile, err := pathfilter.ReadPatternFile(filepath.Join(cfg.BaseDir, pathfilter.IgnoreFileName))
		if err != nil {
			return nil, fmt.Errorf("reading ignore file: %w", err)
		}
		patterns = append(patterns, fromFile...)
	}
	if len(patterns) == 0 {
		return nil, nil
	}
	f, err := pathfilter.New(patterns)
	if err != nil {
		return nil, fmt.Errorf("compiling ignore patterns: %w", err)
	}
	return f, nil
}

// persistOperation saves the operation to the database, giving it an auto-increment ID.
// Only DB-mutating commands call it.
func (a *App) persistOperation() error {
	if a.op.Persisted() {
		return nil
	}
	dbOp, err := a.db.CreateOperation(a.op.Name, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// mutate persists the operation, runs fn and records its outcome.
func (a *App) mutate(fn func() error) error {
	if err := a.persistOperation(); err != nil {
		return err
	}
	err := fn()
	a.op.Fail(err)
	return err
}

func (a *App) node(ctx context.Context, id string) (*model.FileNode, error) {
	return a.service.Resolve(ctx, id, nil)
}

// GetOrCreate returns the node at path under projectID's provider, creating it
// and any missing ancestors. A trailing "/" names a folder.
func (a *App) GetOrCreate(ctx context.Context, projectID, provider, path string) (*model.FileNode, error) {
	var node *model.FileNode
	err := a.mutate(func() error {
		var err error
		node, err = a.service.GetOrCreate(ctx, projectID, provider, path)
		return err
	})
	return node, err
}

// Mkdir creates a child of parentID.
func (a *App) Mkdir(ctx context.Context, parentID, name string, kind model.Kind) (*model.FileNode, error) {
	var node *model.FileNode
	err := a.mutate(func() error {
		parent, err := a.node(ctx, parentID)
		if err != nil {
			return err
		}
		node, err = a.service.CreateChild(ctx, parent, name, kind)
		return err
	})
	return node, err
}

// Children lists the live children of a folder.
func (a *App) Children(ctx context.Context, folderID string) ([]*model.FileNode, error) {
	folder, err := a.node(ctx, folderID)
	if err != nil {
		return nil, err
	}
	return a.service.ChildrenOf(ctx, folder)
}

// Tree returns the subtree rooted at nodeID.
func (a *App) Tree(ctx context.Context, nodeID string) (*meta.TreeEntry, error) {
	n, err := a.node(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	return a.service.Tree(ctx, n)
}

// Paths returns a node's materialized and exposed paths.
func (a *App) Paths(ctx context.Context, nodeID string) (materialized, exposed string, err error) {
	n, err := a.node(ctx, nodeID)
	if err != nil {
		return "", "", err
	}
	if materialized, err = a.service.MaterializedPath(ctx, n); err != nil {
		return "", "", err
	}
	if exposed, err = a.service.ExposedPath(ctx, n); err != nil {
		return "", "", err
	}
	return materialized, exposed, nil
}

// Checkout locks a file for userID. An empty userID releases the lock.
func (a *App) Checkout(ctx context.Context, fileID, userID string) error {
	return a.mutate(func() error {
		if userID == "" {
			return a.service.ReleaseCheckout(ctx, fileID)
		}
		_, err := a.service.Checkout(ctx, fileID, userID)
		return err
	})
}

// VersionLog returns a file's version history, newest first.
func (a *App) VersionLog(ctx context.Context, fileID string) ([]*meta.VersionHistoryEntry, error) {
	file, err := a.node(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return a.service.History(ctx, file)
}

// Touch refreshes a file's metadata from the gateway, recording a new version
// when the provider reports one.
func (a *App) Touch(ctx context.Context, fileID, revision string) (*model.FileVersion, error) {
	var version *model.FileVersion
	err := a.mutate(func() error {
		file, err := a.node(ctx, fileID)
		if err != nil {
			return err
		}
		version, err = a.service.Touch(ctx, file, revision)
		return err
	})
	return version, err
}

// Delete moves a node and its descendants to the trash.
func (a *App) Delete(ctx context.Context, nodeID, actor string) (*model.TrashedFileNode, error) {
	var tomb *model.TrashedFileNode
	err := a.mutate(func() error {
		n, err := a.node(ctx, nodeID)
		if err != nil {
			return err
		}
		tomb, err = a.service.Delete(ctx, n, actor)
		return err
	})
	return tomb, err
}

// Restore brings a tombstone back, under destParentID when set.
func (a *App) Restore(ctx context.Context, id, destParentID string, recursive bool) (*model.FileNode, error) {
	var node *model.FileNode
	err := a.mutate(func() error {
		var err error
		node, err = a.service.Restore(ctx, id, destParentID, recursive)
		return err
	})
	return node, err
}

// GuidFor returns the guid of a live node, allocating one if needed.
func (a *App) GuidFor(ctx context.Context, nodeID string) (*model.Guid, error) {
	var g *model.Guid
	err := a.mutate(func() error {
		if _, err := a.node(ctx, nodeID); err != nil {
			return err
		}
		var err error
		g, err = a.service.GuidFor(ctx, meta.FileReferent(nodeID))
		return err
	})
	return g, err
}

// GuidResolve looks up what a guid currently points at.
func (a *App) GuidResolve(ctx context.Context, guidID string) (*meta.GuidTarget, error) {
	target, err := a.service.LookupGuid(ctx, guidID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, fmt.Errorf("guid %s: %w", guidID, meta.ErrNotFound)
	}
	return target, nil
}

// SetProviderRoot sets the folder a provider exposes for a project.
func (a *App) SetProviderRoot(ctx context.Context, projectID, provider, root string) error {
	return a.mutate(func() error {
		return a.service.SetProviderRoot(ctx, projectID, provider, root)
	})
}

// AddComment anchors a comment to a node's guid.
func (a *App) AddComment(ctx context.Context, nodeID, userID, content string) (*model.Comment, error) {
	var c *model.Comment
	err := a.mutate(func() error {
		var err error
		c, err = a.service.AddComment(ctx, nodeID, userID, content)
		return err
	})
	return c, err
}

// ListComments returns the comments anchored to guidID.
func (a *App) ListComments(ctx context.Context, guidID string) ([]*model.Comment, error) {
	return a.service.ListComments(ctx, guidID)
}

// Providers lists the registered providers, sorted by name.
func (a *App) Providers() []*meta.Provider {
	reg := a.service.Registry()
	var out []*meta.Provider
	for _, name := range reg.Providers() {
		if p, ok := reg.Provider(name); ok {
			out = append(out, p)
		}
	}
	return out
}

// GetHistory returns the most recent operations.
func (a *App) GetHistory(limit int) ([]*model.Operation, error) {
	return a.service.GetHistory(limit)
}

// ArchiveVersion encrypts the file at path and stores it as versionID's archive.
func (a *App) ArchiveVersion(ctx context.Context, versionID, path string) (*model.FileVersion, error) {
	var version *model.FileVersion
	err := a.mutate(func() error {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening content: %w", err)
		}
		defer f.Close()
		version, err = a.service.ArchiveVersion(ctx, versionID, f)
		return err
	})
	return version, err
}

// FetchArchive decrypts versionID's archive into w.
func (a *App) FetchArchive(ctx context.Context, versionID, passphrase string, w io.Writer) error {
	decryptCtx, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking private key: %w", err)
	}
	return a.service.FetchArchive(ctx, versionID, decryptCtx, w)
}

// Close finalizes the operation and closes all resources.
// For persisted operations: finishes the operation record, snapshots the DB, and uploads it to the vault.
// For non-persisted operations: just closes the database.
func (a *App) Close() error {
	var firstErr error
	setErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.op.Persisted() {
		if err := a.db.FinishOperation(a.op.ID, a.op.Status); err != nil {
			setErr(fmt.Errorf("finishing operation: %w", err))
		}

		tmpPath, err := a.snapshot()
		setErr(err)

		if err := a.db.Close(); err != nil {
			setErr(fmt.Errorf("closing database: %w", err))
		}

		if tmpPath != "" {
			setErr(a.uploadMetadata(tmpPath, a.op.ID))
			os.Remove(tmpPath)
		}
	} else if err := a.db.Close(); err != nil {
		setErr(fmt.Errorf("closing database: %w", err))
	}

	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// snapshot copies the database into a temp file and returns its path.
func (a *App) snapshot() (string, error) {
	tmpFile, err := os.CreateTemp("", "fmeta-db-snapshot-*.db")
	if err != nil {
		return "", fmt.Errorf("creating temp file for db snapshot: %w", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	// BackupTo writes a fresh database file.
	os.Remove(tmpPath)

	if err := a.db.BackupTo(tmpPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("snapshotting database: %w", err)
	}
	return tmpPath, nil
}

// uploadMetadata uploads the file at path to the vault as the "db" metadata item.
func (a *App) uploadMetadata(path string, version int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening db snapshot for upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat db snapshot: %w", err)
	}

	if err := a.vault.PutMetadata(a.cfg.InstanceID, "db", f, info.Size(), version); err != nil {
		return fmt.Errorf("uploading metadata to vault: %w", err)
	}
	return nil
}
