package meta

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"fmeta-go/internal/model"
)

// archiveRefPrefix prefixes the vault checksum in a version's archive reference.
const archiveRefPrefix = "sha256:"

// Location is an opaque backend locator for a version's bytes.
type Location map[string]string

// Hash returns the SHA-256 of the location's canonical JSON (keys sorted).
func (l Location) Hash() string {
	data, _ := json.Marshal(l)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (l Location) encode() string {
	data, _ := json.Marshal(l)
	return string(data)
}

// draftLocation replaces the location of unpublished versions.
var draftLocation = Location{"placeholder": "draft"}

// VersionMetadata describes a new version. Revision is the provider's token; the
// built-in store leaves it empty and the version is numbered instead.
type VersionMetadata struct {
	Revision    string
	Size        int64
	ContentType string
	Modified    *time.Time
	SHA256      string
	Draft       bool
}

// VersionHistoryEntry is one row of a file's version history.
type VersionHistoryEntry struct {
	Identifier  string
	Seq         int64
	CreatorID   string
	CreatedAt   time.Time
	Size        int64
	ContentType string
	ModifiedAt  sql.NullTime
	SHA256      string
	Archived    bool
	Draft       bool
	IsCurrent   bool
}

// CreateVersion appends a version to file's ledger. If loc hashes the same as
// the latest version's location, the latest version is returned and nothing is
// stored.
func (s *MetaService) CreateVersion(ctx context.Context, file *model.FileNode, actor string, loc Location, md VersionMetadata) (*model.FileVersion, error) {
	var v *model.FileVersion
	err := s.database.InTx(ctx, func(st Store) error {
		var err error
		v, err = s.createVersion(ctx, st, file, actor, loc, md)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating version of %s: %w", file.ID, err)
	}
	return v, nil
}

func (s *MetaService) createVersion(ctx context.Context, st Store, file *model.FileNode, actor string, loc Location, md VersionMetadata) (*model.FileVersion, error) {
	if !file.IsFile() {
		return nil, fmt.Errorf("node %s is a folder", file.ID)
	}
	hash := loc.Hash()

	latest, err := st.FindLatestVersion(ctx, file.ID)
	if err != nil {
		return nil, err
	}
	if latest != nil && latest.LocationHash == hash {
		return latest, nil
	}
	if md.Revision != "" {
		existing, err := st.FindVersionByIdentifier(ctx, file.ID, md.Revision)
		if err != nil || existing != nil {
			return existing, err
		}
	}

	seq := int64(1)
	if latest != nil {
		seq = latest.Seq + 1
	}
	v := &model.FileVersion{
		ID:           s.idgen.New(),
		NodeID:       file.ID,
		Seq:          seq,
		Identifier:   md.Revision,
		CreatorID:    actor,
		Location:     loc.encode(),
		LocationHash: hash,
		Size:         md.Size,
		ContentType:  md.ContentType,
		SHA256:       md.SHA256,
		Draft:        md.Draft,
		CreatedAt:    s.clock.Now(),
	}
	if v.Identifier == "" {
		v.Identifier = strconv.FormatInt(seq, 10)
	}
	if md.Modified != nil {
		v.ModifiedAt = sql.NullTime{Time: *md.Modified, Valid: true}
	}
	if md.SHA256 != "" {
		ref, err := findMatchingArchive(ctx, st, md.SHA256)
		if err != nil {
			return nil, err
		}
		if ref != "" {
			v.ArchiveRef = sql.NullString{String: ref, Valid: true}
		}
	}

	if err := st.CreateVersion(ctx, v); err != nil {
		return nil, err
	}
	s.logger.Info("version created", "file", file.ID, "identifier", v.Identifier, "seq", v.Seq, "archived", v.ArchiveRef.Valid)
	return v, nil
}

// FindMatchingArchive returns the archive reference of any version, in any file,
// with content hash sha. "" means no archive exists yet.
func (s *MetaService) FindMatchingArchive(ctx context.Context, sha string) (string, error) {
	return findMatchingArchive(ctx, s.database, sha)
}

func findMatchingArchive(ctx context.Context, st Store, sha string) (string, error) {
	v, err := st.FindArchivedVersionBySHA256(ctx, sha)
	if err != nil || v == nil {
		return "", err
	}
	return v.ArchiveRef.String, nil
}

// Touch returns the version of file named by revision. A known revision is
// served from the ledger without contacting the gateway. Otherwise fresh
// metadata is fetched, the node's cached metadata is refreshed, and the
// resulting version is returned. Providers without a revision concept get an
// unsaved version describing the current content.
func (s *MetaService) Touch(ctx context.Context, file *model.FileNode, revision string) (*model.FileVersion, error) {
	if !file.IsFile() {
		return nil, fmt.Errorf("node %s is a folder", file.ID)
	}
	p, err := s.provider(file.Provider)
	if err != nil {
		return nil, err
	}

	if p.BuiltIn {
		return s.GetVersion(ctx, file, revision, true)
	}
	isDraft := p.Drafts && revision == p.DraftRevision
	if revision != "" && !isDraft {
		cached, err := s.database.FindVersionByIdentifier(ctx, file.ID, revision)
		if err != nil || cached != nil {
			return cached, err
		}
	}

	if s.gateway == nil {
		return nil, ErrGatewayNotConfigured
	}
	md, err := s.gateway.FetchMetadata(ctx, MetadataRequest{
		ProjectID:     file.ProjectID,
		Provider:      file.Provider,
		Path:          file.Path,
		Revision:      revision,
		RevisionParam: p.RevisionParam,
	})
	if err != nil {
		return nil, fmt.Errorf("touching %s: %w", file.ID, err)
	}

	rev := revision
	if rev == "" {
		rev = md.ExtraString(p.RevisionExtraKey)
	}
	isDraft = isDraft || (p.Drafts && rev == p.DraftRevision)
	loc := Location{"provider": file.Provider, "path": file.Path}
	if rev != "" {
		loc["revision"] = rev
	}
	vmd := VersionMetadata{
		Revision:    rev,
		Size:        md.Size,
		ContentType: md.ContentType,
		Modified:    md.Modified,
		Draft:       isDraft,
	}

	var version *model.FileVersion
	err = s.database.InTx(ctx, func(st Store) error {
		node, err := st.FindNodeByID(ctx, file.ID)
		if err != nil {
			return err
		}
		if node == nil {
			return fmt.Errorf("node %s: %w", file.ID, ErrNotFound)
		}
		if err := s.recordTouch(ctx, st, node, md); err != nil {
			return err
		}
		*file = *node

		if !p.Versioned || rev == "" {
			version = ephemeralVersion(file, loc, vmd)
			return nil
		}
		version, err = s.createVersion(ctx, st, file, "", loc, vmd)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("touching %s: %w", file.ID, err)
	}
	return version, nil
}

// recordTouch refreshes node's cached gateway metadata.
func (s *MetaService) recordTouch(ctx context.Context, st Store, node *model.FileNode, md *GatewayMetadata) error {
	history, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	now := s.clock.Now()
	node.History = string(history)
	node.LastTouched = sql.NullTime{Time: now, Valid: true}
	node.ModifiedAt = now
	if md.Name != "" {
		node.Name = md.Name
	}
	if md.Materialized != "" {
		node.MaterializedPath = md.Materialized
	}
	return st.UpdateNode(ctx, node)
}

func ephemeralVersion(file *model.FileNode, loc Location, md VersionMetadata) *model.FileVersion {
	v := &model.FileVersion{
		NodeID:       file.ID,
		Identifier:   md.Revision,
		Location:     loc.encode(),
		LocationHash: loc.Hash(),
		Size:         md.Size,
		ContentType:  md.ContentType,
		Draft:        md.Draft,
	}
	if md.Modified != nil {
		v.ModifiedAt = sql.NullTime{Time: *md.Modified, Valid: true}
	}
	return v
}

// GetVersion returns the version of file named by identifier, or the latest
// version when identifier is empty. A missing version is ErrVersionNotFound when
// required, and (nil, nil) otherwise.
func (s *MetaService) GetVersion(ctx context.Context, file *model.FileNode, identifier string, required bool) (*model.FileVersion, error) {
	var (
		v   *model.FileVersion
		err error
	)
	if identifier == "" {
		v, err = s.database.FindLatestVersion(ctx, file.ID)
	} else {
		v, err = s.database.FindVersionByIdentifier(ctx, file.ID, identifier)
	}
	if err != nil {
		return nil, err
	}
	if v == nil && required {
		return nil, fmt.Errorf("file %s revision %q: %w", file.ID, identifier, ErrVersionNotFound)
	}
	return v, nil
}

// History returns file's versions, newest first.
func (s *MetaService) History(ctx context.Context, file *model.FileNode) ([]*VersionHistoryEntry, error) {
	s.logger.Debug("fetching version history", "file", file.ID)

	versions, err := s.database.FindVersionsForNode(ctx, file.ID)
	if err != nil {
		return nil, fmt.Errorf("finding versions: %w", err)
	}

	entries := make([]*VersionHistoryEntry, len(versions))
	for i, v := range versions {
		entries[i] = &VersionHistoryEntry{
			Identifier:  v.Identifier,
			Seq:         v.Seq,
			CreatorID:   v.CreatorID,
			CreatedAt:   v.CreatedAt,
			Size:        v.Size,
			ContentType: v.ContentType,
			ModifiedAt:  v.ModifiedAt,
			SHA256:      v.SHA256,
			Archived:    v.ArchiveRef.Valid,
			Draft:       v.Draft,
			IsCurrent:   i == len(versions)-1,
		}
	}

	// Reverse to newest first
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// RenderLocation returns where version's bytes can be fetched. Draft versions
// render a placeholder instead of their real location.
func (s *MetaService) RenderLocation(ctx context.Context, file *model.FileNode, version *model.FileVersion) (Location, error) {
	if version.NodeID != file.ID {
		return nil, fmt.Errorf("version %s does not belong to %s", version.ID, file.ID)
	}
	if version.Draft {
		return draftLocation, nil
	}
	var loc Location
	if err := json.Unmarshal([]byte(version.Location), &loc); err != nil {
		return nil, fmt.Errorf("decoding location of version %s: %w", version.ID, err)
	}
	return loc, nil
}

// ArchiveVersion stores an encrypted copy of a version's content in the vault
// and records the archive reference. Content that is already archived under
// any version is shared instead of uploaded again.
func (s *MetaService) ArchiveVersion(ctx context.Context, versionID string, content io.Reader) (*model.FileVersion, error) {
	v, err := s.database.FindVersionByID(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("version %s: %w", versionID, ErrVersionNotFound)
	}
	if v.ArchiveRef.Valid {
		return v, nil
	}
	if s.vault == nil || s.encryptor == nil {
		return nil, fmt.Errorf("archiving requires a vault and an encryptor")
	}

	plain, err := os.CreateTemp("", "fmeta-archive-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(plain.Name())
	defer plain.Close()

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(plain, hasher), content); err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	sum := hex.EncodeToString(hasher.Sum(nil))
	if v.SHA256 != "" && v.SHA256 != sum {
		return nil, fmt.Errorf("content hash %s does not match version hash %s", sum, v.SHA256)
	}

	ref, err := s.FindMatchingArchive(ctx, sum)
	if err != nil {
		return nil, err
	}
	if ref == "" {
		if err := s.uploadEncrypted(plain, sum); err != nil {
			return nil, err
		}
		ref = archiveRefPrefix + sum
	} else {
		s.logger.Info("sharing existing archive", "version", v.ID, "ref", ref)
	}

	if err := s.database.UpdateVersionArchive(ctx, v.ID, sum, ref); err != nil {
		return nil, err
	}
	v.SHA256 = sum
	v.ArchiveRef = sql.NullString{String: ref, Valid: true}
	s.logger.Info("version archived", "version", v.ID, "ref", ref)
	return v, nil
}

func (s *MetaService) uploadEncrypted(plain *os.File, sum string) error {
	if _, err := plain.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding content: %w", err)
	}
	cipher, err := os.CreateTemp("", "fmeta-archive-*.age")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(cipher.Name())
	defer cipher.Close()

	if err := s.encryptor.Encrypt(plain, cipher); err != nil {
		return fmt.Errorf("encrypting content: %w", err)
	}
	size, err := cipher.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("sizing ciphertext: %w", err)
	}
	if _, err := cipher.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding ciphertext: %w", err)
	}
	if err := s.vault.PutContent(sum, cipher, size); err != nil {
		return fmt.Errorf("uploading archive: %w", err)
	}
	return nil
}

// FetchArchive writes the decrypted archive of a version to w. The plaintext is
// verified against the archived content hash.
func (s *MetaService) FetchArchive(ctx context.Context, versionID string, decryptCtx DecryptionContext, w io.Writer) error {
	v, err := s.database.FindVersionByID(ctx, versionID)
	if err != nil {
		return err
	}
	if v == nil {
		return fmt.Errorf("version %s: %w", versionID, ErrVersionNotFound)
	}
	if !v.ArchiveRef.Valid {
		return fmt.Errorf("version %s has no archive", versionID)
	}
	if s.vault == nil {
		return fmt.Errorf("fetching archives requires a vault")
	}
	if decryptCtx == nil {
		return fmt.Errorf("archive is encrypted but no passphrase was provided")
	}
	sum := strings.TrimPrefix(v.ArchiveRef.String, archiveRefPrefix)

	pr, pw := io.Pipe()
	vaultErrCh := make(chan error, 1)
	go func() {
		err := s.vault.GetContent(sum, pw)
		pw.CloseWithError(err)
		vaultErrCh <- err
	}()

	hasher := sha256.New()
	decryptErr := decryptCtx.Decrypt(pr, io.MultiWriter(w, hasher))
	pr.CloseWithError(decryptErr)
	vaultErr := <-vaultErrCh

	if decryptErr != nil {
		return fmt.Errorf("decrypting archive: %w", errors.Join(decryptErr, vaultErr))
	}
	if got := hex.EncodeToString(hasher.Sum(nil)); got != sum {
		return fmt.Errorf("archive of version %s is corrupt: hash %s, want %s", versionID, got, sum)
	}
	return nil
}
