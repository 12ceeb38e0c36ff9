package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"fmeta-go/internal/meta"
	"fmeta-go/internal/model"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// store implements meta.Store on top of a DBTX.
type store struct {
	db DBTX
}

var _ meta.Store = (*store)(nil)

const nodeColumns = `id, project_id, parent_id, provider, kind, path, name, materialized_path,
	checkout_user_id, history, created_at, modified_at, last_touched`

const versionColumns = `id, node_id, seq, identifier, creator_id, location, location_hash, size,
	content_type, modified_at, sha256, archive_ref, draft, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func nodeFields(n *model.FileNode) []any {
	return []any{
		&n.ID, &n.ProjectID, &n.ParentID, &n.Provider, &n.Kind, &n.Path, &n.Name, &n.MaterializedPath,
		&n.CheckoutUserID, &n.History, &n.CreatedAt, &n.ModifiedAt, &n.LastTouched,
	}
}

func scanNode(row scanner) (*model.FileNode, error) {
	var n model.FileNode
	if err := row.Scan(nodeFields(&n)...); err != nil {
		return nil, err
	}
	return &n, nil
}

func scanTrashed(row scanner) (*model.TrashedFileNode, error) {
	var t model.TrashedFileNode
	if err := row.Scan(append(nodeFields(&t.FileNode), &t.DeletedBy, &t.DeletedAt)...); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanVersion(row scanner) (*model.FileVersion, error) {
	var v model.FileVersion
	err := row.Scan(&v.ID, &v.NodeID, &v.Seq, &v.Identifier, &v.CreatorID, &v.Location, &v.LocationHash,
		&v.Size, &v.ContentType, &v.ModifiedAt, &v.SHA256, &v.ArchiveRef, &v.Draft, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func scanGuid(row scanner) (*model.Guid, error) {
	var g model.Guid
	if err := row.Scan(&g.ID, &g.ReferentKind, &g.ReferentID, &g.CreatedAt); err != nil {
		return nil, err
	}
	return &g, nil
}

func scanComment(row scanner) (*model.Comment, error) {
	var c model.Comment
	if err := row.Scan(&c.ID, &c.ProjectID, &c.RootTarget, &c.UserID, &c.Content, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanOperation(row scanner) (*model.Operation, error) {
	var op model.Operation
	if err := row.Scan(&op.ID, &op.StartedAt, &op.FinishedAt, &op.Operation, &op.Parameters, &op.Status); err != nil {
		return nil, err
	}
	return &op, nil
}

// queryOne runs a single-row query. sql.ErrNoRows becomes (nil, nil).
func queryOne[T any](ctx context.Context, db DBTX, scan func(scanner) (*T, error), what, query string, args ...any) (*T, error) {
	v, err := scan(db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding %s: %w", what, err)
	}
	return v, nil
}

func queryMany[T any](ctx context.Context, db DBTX, scan func(scanner) (*T, error), what, query string, args ...any) ([]*T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("finding %s: %w", what, err)
	}
	defer rows.Close()

	var result []*T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", what, err)
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", what, err)
	}
	return result, nil
}

// translate maps SQLite uniqueness violations to meta.ErrConflict.
func translate(err error, action string) error {
	var serr sqlite3.Error
	if errors.As(err, &serr) &&
		(serr.ExtendedCode == sqlite3.ErrConstraintUnique || serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return fmt.Errorf("%s: %w: %v", action, meta.ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", action, err)
}

// Live nodes

func (s *store) FindNodeByID(ctx context.Context, id string) (*model.FileNode, error) {
	return queryOne(ctx, s.db, scanNode, "node",
		`SELECT `+nodeColumns+` FROM file_nodes WHERE id = ?`, id)
}

func (s *store) FindNodeByPath(ctx context.Context, projectID, provider, path string, kind model.Kind) (*model.FileNode, error) {
	return queryOne(ctx, s.db, scanNode, "node by path",
		`SELECT `+nodeColumns+` FROM file_nodes
		 WHERE project_id = ? AND provider = ? AND path = ? AND kind = ?
		 ORDER BY created_at LIMIT 1`, projectID, provider, path, kind)
}

func (s *store) FindRootNode(ctx context.Context, projectID, provider string) (*model.FileNode, error) {
	return queryOne(ctx, s.db, scanNode, "root node",
		`SELECT `+nodeColumns+` FROM file_nodes
		 WHERE project_id = ? AND provider = ? AND parent_id IS NULL`, projectID, provider)
}

func (s *store) FindChildren(ctx context.Context, parentID string) ([]*model.FileNode, error) {
	return queryMany(ctx, s.db, scanNode, "children",
		`SELECT `+nodeColumns+` FROM file_nodes WHERE parent_id = ? ORDER BY name, kind`, parentID)
}

func (s *store) FindChildByName(ctx context.Context, parentID, name string, kind model.Kind) (*model.FileNode, error) {
	return queryOne(ctx, s.db, scanNode, "child by name",
		`SELECT `+nodeColumns+` FROM file_nodes WHERE parent_id = ? AND name = ? AND kind = ?
		 ORDER BY created_at LIMIT 1`, parentID, name, kind)
}

func (s *store) CreateNode(ctx context.Context, n *model.FileNode) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_nodes (`+nodeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.ProjectID, n.ParentID, n.Provider, n.Kind, n.Path, n.Name, n.MaterializedPath,
		n.CheckoutUserID, n.History, n.CreatedAt, n.ModifiedAt, n.LastTouched)
	if err != nil {
		return translate(err, "creating node")
	}
	return nil
}

func (s *store) UpdateNode(ctx context.Context, n *model.FileNode) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE file_nodes SET project_id = ?, parent_id = ?, provider = ?, kind = ?, path = ?, name = ?,
		 materialized_path = ?, checkout_user_id = ?, history = ?, modified_at = ?, last_touched = ?
		 WHERE id = ?`,
		n.ProjectID, n.ParentID, n.Provider, n.Kind, n.Path, n.Name,
		n.MaterializedPath, n.CheckoutUserID, n.History, n.ModifiedAt, n.LastTouched, n.ID)
	if err != nil {
		return translate(err, "updating node")
	}
	return nil
}

func (s *store) DeleteNode(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM file_nodes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting node: %w", err)
	}
	return nil
}

// Tombstones

func (s *store) FindTrashedByID(ctx context.Context, id string) (*model.TrashedFileNode, error) {
	return queryOne(ctx, s.db, scanTrashed, "trashed node",
		`SELECT `+nodeColumns+`, deleted_by, deleted_at FROM trashed_nodes WHERE id = ?`, id)
}

func (s *store) FindTrashedChildren(ctx context.Context, parentID string) ([]*model.TrashedFileNode, error) {
	return queryMany(ctx, s.db, scanTrashed, "trashed children",
		`SELECT `+nodeColumns+`, deleted_by, deleted_at FROM trashed_nodes WHERE parent_id = ? ORDER BY name, kind`, parentID)
}

func (s *store) UpsertTrashed(ctx context.Context, t *model.TrashedFileNode) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO trashed_nodes (`+nodeColumns+`, deleted_by, deleted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.ParentID, t.Provider, t.Kind, t.Path, t.Name, t.MaterializedPath,
		t.CheckoutUserID, t.History, t.CreatedAt, t.ModifiedAt, t.LastTouched, t.DeletedBy, t.DeletedAt)
	if err != nil {
		return translate(err, "saving trashed node")
	}
	return nil
}

func (s *store) DeleteTrashed(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM trashed_nodes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting trashed node: %w", err)
	}
	return nil
}

// Versions

func (s *store) FindVersionsForNode(ctx context.Context, nodeID string) ([]*model.FileVersion, error) {
	return queryMany(ctx, s.db, scanVersion, "versions",
		`SELECT `+versionColumns+` FROM file_versions WHERE node_id = ? ORDER BY seq`, nodeID)
}

func (s *store) FindLatestVersion(ctx context.Context, nodeID string) (*model.FileVersion, error) {
	return queryOne(ctx, s.db, scanVersion, "latest version",
		`SELECT `+versionColumns+` FROM file_versions WHERE node_id = ? ORDER BY seq DESC LIMIT 1`, nodeID)
}

func (s *store) FindVersionByIdentifier(ctx context.Context, nodeID, identifier string) (*model.FileVersion, error) {
	return queryOne(ctx, s.db, scanVersion, "version by identifier",
		`SELECT `+versionColumns+` FROM file_versions WHERE node_id = ? AND identifier = ?`, nodeID, identifier)
}

func (s *store) FindVersionByID(ctx context.Context, id string) (*model.FileVersion, error) {
	return queryOne(ctx, s.db, scanVersion, "version",
		`SELECT `+versionColumns+` FROM file_versions WHERE id = ?`, id)
}

func (s *store) FindArchivedVersionBySHA256(ctx context.Context, sha256 string) (*model.FileVersion, error) {
	return queryOne(ctx, s.db, scanVersion, "archived version",
		`SELECT `+versionColumns+` FROM file_versions
		 WHERE sha256 = ? AND archive_ref IS NOT NULL
		 ORDER BY created_at LIMIT 1`, sha256)
}

func (s *store) CreateVersion(ctx context.Context, v *model.FileVersion) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_versions (`+versionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.NodeID, v.Seq, v.Identifier, v.CreatorID, v.Location, v.LocationHash, v.Size,
		v.ContentType, v.ModifiedAt, v.SHA256, v.ArchiveRef, v.Draft, v.CreatedAt)
	if err != nil {
		return translate(err, "creating version")
	}
	return nil
}

func (s *store) UpdateVersionArchive(ctx context.Context, id, sha256, archiveRef string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE file_versions SET sha256 = ?, archive_ref = ? WHERE id = ?`, sha256, archiveRef, id)
	if err != nil {
		return fmt.Errorf("updating version archive: %w", err)
	}
	return nil
}

// Guids

func (s *store) FindGuid(ctx context.Context, id string) (*model.Guid, error) {
	return queryOne(ctx, s.db, scanGuid, "guid",
		`SELECT id, referent_kind, referent_id, created_at FROM guids WHERE id = ?`, id)
}

func (s *store) FindGuidsByReferent(ctx context.Context, kind, referentID string) ([]*model.Guid, error) {
	return queryMany(ctx, s.db, scanGuid, "guids by referent",
		`SELECT id, referent_kind, referent_id, created_at FROM guids
		 WHERE referent_kind = ? AND referent_id = ? ORDER BY created_at, id`, kind, referentID)
}

func (s *store) CreateGuid(ctx context.Context, g *model.Guid) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guids (id, referent_kind, referent_id, created_at) VALUES (?, ?, ?, ?)`,
		g.ID, g.ReferentKind, g.ReferentID, g.CreatedAt)
	if err != nil {
		return translate(err, "creating guid")
	}
	return nil
}

func (s *store) RepointGuid(ctx context.Context, id, kind, referentID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE guids SET referent_kind = ?, referent_id = ? WHERE id = ?`, kind, referentID, id)
	if err != nil {
		return fmt.Errorf("repointing guid: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("repointing guid %s: %w", id, meta.ErrNotFound)
	}
	return nil
}

func (s *store) RepointGuidsByReferent(ctx context.Context, fromKind, fromID, toKind, toID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE guids SET referent_kind = ?, referent_id = ? WHERE referent_kind = ? AND referent_id = ?`,
		toKind, toID, fromKind, fromID)
	if err != nil {
		return 0, fmt.Errorf("repointing guids: %w", err)
	}
	return res.RowsAffected()
}

// Comments

func (s *store) CreateComment(ctx context.Context, c *model.Comment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO comments (id, project_id, root_target, user_id, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.RootTarget, c.UserID, c.Content, c.CreatedAt)
	if err != nil {
		return translate(err, "creating comment")
	}
	return nil
}

func (s *store) FindCommentsByRootTarget(ctx context.Context, guidID string) ([]*model.Comment, error) {
	return queryMany(ctx, s.db, scanComment, "comments",
		`SELECT id, project_id, root_target, user_id, content, created_at FROM comments
		 WHERE root_target = ? ORDER BY created_at, id`, guidID)
}

func (s *store) RetargetComments(ctx context.Context, guidID, projectID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE comments SET project_id = ? WHERE root_target = ?`, projectID, guidID)
	if err != nil {
		return 0, fmt.Errorf("retargeting comments: %w", err)
	}
	return res.RowsAffected()
}

// Provider roots

func (s *store) SetProviderRoot(ctx context.Context, projectID, provider, rootPath string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_roots (project_id, provider, root_path) VALUES (?, ?, ?)
		 ON CONFLICT (project_id, provider) DO UPDATE SET root_path = excluded.root_path`,
		projectID, provider, rootPath)
	if err != nil {
		return fmt.Errorf("setting provider root: %w", err)
	}
	return nil
}

func (s *store) FindProviderRoot(ctx context.Context, projectID, provider string) (string, error) {
	var root string
	err := s.db.QueryRowContext(ctx,
		`SELECT root_path FROM provider_roots WHERE project_id = ? AND provider = ?`, projectID, provider).Scan(&root)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("finding provider root: %w", err)
	}
	return root, nil
}
