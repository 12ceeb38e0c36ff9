package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"fmeta-go/internal/meta"
	"fmeta-go/internal/model"
)

var testTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// newTestDB creates an in-memory database with migrations applied.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func newNode(id, parentID, path, name string, kind model.Kind) *model.FileNode {
	n := &model.FileNode{
		ID:         id,
		ProjectID:  "p1",
		Provider:   "github",
		Kind:       kind,
		Path:       path,
		Name:       name,
		CreatedAt:  testTime,
		ModifiedAt: testTime,
	}
	if parentID != "" {
		n.ParentID = sql.NullString{String: parentID, Valid: true}
	}
	return n
}

func TestSQLiteDatabase_Nodes(t *testing.T) {
	ctx := context.Background()

	t.Run("returns nil when node not found", func(t *testing.T) {
		db := newTestDB(t)

		n, err := db.FindNodeByID(ctx, "missing")
		if err != nil {
			t.Fatalf("FindNodeByID() error = %v", err)
		}
		if n != nil {
			t.Errorf("FindNodeByID() = %v, want nil", n)
		}
	})

	t.Run("creates and finds by id, path and root", func(t *testing.T) {
		db := newTestDB(t)

		root := newNode("root", "", "/", "", model.KindFolder)
		file := newNode("f1", "root", "/a.txt", "a.txt", model.KindFile)
		for _, n := range []*model.FileNode{root, file} {
			if err := db.CreateNode(ctx, n); err != nil {
				t.Fatalf("CreateNode(%s) error = %v", n.ID, err)
			}
		}

		got, err := db.FindNodeByID(ctx, "f1")
		if err != nil || got == nil {
			t.Fatalf("FindNodeByID() = %v, %v", got, err)
		}
		if got.Path != "/a.txt" || got.Kind != model.KindFile || got.ParentID.String != "root" {
			t.Errorf("FindNodeByID() = %+v", got)
		}
		if !got.CreatedAt.Equal(testTime) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, testTime)
		}

		byPath, err := db.FindNodeByPath(ctx, "p1", "github", "/a.txt", model.KindFile)
		if err != nil || byPath == nil || byPath.ID != "f1" {
			t.Errorf("FindNodeByPath() = %v, %v", byPath, err)
		}

		r, err := db.FindRootNode(ctx, "p1", "github")
		if err != nil || r == nil || r.ID != "root" {
			t.Errorf("FindRootNode() = %v, %v", r, err)
		}
	})

	t.Run("duplicate tuple is a conflict", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.CreateNode(ctx, newNode("f1", "root", "/a.txt", "a.txt", model.KindFile)); err != nil {
			t.Fatalf("CreateNode() error = %v", err)
		}
		err := db.CreateNode(ctx, newNode("f2", "root", "/a.txt", "a.txt", model.KindFile))
		if !errors.Is(err, meta.ErrConflict) {
			t.Errorf("CreateNode() duplicate error = %v, want ErrConflict", err)
		}
	})

	t.Run("same name with different kind is allowed", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.CreateNode(ctx, newNode("f1", "root", "/a", "a", model.KindFile)); err != nil {
			t.Fatalf("CreateNode(file) error = %v", err)
		}
		if err := db.CreateNode(ctx, newNode("d1", "root", "/a", "a", model.KindFolder)); err != nil {
			t.Errorf("CreateNode(folder) error = %v", err)
		}
	})

	t.Run("children are ordered by name", func(t *testing.T) {
		db := newTestDB(t)

		for _, n := range []*model.FileNode{
			newNode("c", "root", "/c.txt", "c.txt", model.KindFile),
			newNode("a", "root", "/a.txt", "a.txt", model.KindFile),
			newNode("b", "root", "/b/", "b", model.KindFolder),
			newNode("x", "other", "/x.txt", "x.txt", model.KindFile),
		} {
			if err := db.CreateNode(ctx, n); err != nil {
				t.Fatalf("CreateNode(%s) error = %v", n.ID, err)
			}
		}

		children, err := db.FindChildren(ctx, "root")
		if err != nil {
			t.Fatalf("FindChildren() error = %v", err)
		}
		var ids []string
		for _, c := range children {
			ids = append(ids, c.ID)
		}
		if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
			t.Errorf("FindChildren() ids = %v, want [a b c]", ids)
		}
	})

	t.Run("update and delete", func(t *testing.T) {
		db := newTestDB(t)

		n := newNode("f1", "root", "/a.txt", "a.txt", model.KindFile)
		if err := db.CreateNode(ctx, n); err != nil {
			t.Fatalf("CreateNode() error = %v", err)
		}
		n.Name = "b.txt"
		n.Path = "/b.txt"
		n.LastTouched = sql.NullTime{Time: testTime, Valid: true}
		if err := db.UpdateNode(ctx, n); err != nil {
			t.Fatalf("UpdateNode() error = %v", err)
		}
		got, _ := db.FindNodeByID(ctx, "f1")
		if got.Name != "b.txt" || got.Path != "/b.txt" || !got.LastTouched.Valid {
			t.Errorf("after UpdateNode() = %+v", got)
		}

		if err := db.DeleteNode(ctx, "f1"); err != nil {
			t.Fatalf("DeleteNode() error = %v", err)
		}
		if err := db.DeleteNode(ctx, "f1"); err != nil {
			t.Errorf("second DeleteNode() error = %v", err)
		}
		if got, _ := db.FindNodeByID(ctx, "f1"); got != nil {
			t.Errorf("node still present after DeleteNode()")
		}
	})
}

func TestSQLiteDatabase_Trashed(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	tomb := &model.TrashedFileNode{
		FileNode:  *newNode("d1", "root", "/docs/", "docs", model.KindFolder),
		DeletedBy: "u1",
		DeletedAt: testTime,
	}
	if err := db.UpsertTrashed(ctx, tomb); err != nil {
		t.Fatalf("UpsertTrashed() error = %v", err)
	}
	tomb.DeletedBy = "u2"
	if err := db.UpsertTrashed(ctx, tomb); err != nil {
		t.Fatalf("second UpsertTrashed() error = %v", err)
	}

	got, err := db.FindTrashedByID(ctx, "d1")
	if err != nil || got == nil {
		t.Fatalf("FindTrashedByID() = %v, %v", got, err)
	}
	if got.DeletedBy != "u2" || got.Kind != model.KindFolder {
		t.Errorf("FindTrashedByID() = %+v", got)
	}

	children, err := db.FindTrashedChildren(ctx, "root")
	if err != nil || len(children) != 1 {
		t.Errorf("FindTrashedChildren() = %v, %v", children, err)
	}

	if err := db.DeleteTrashed(ctx, "d1"); err != nil {
		t.Fatalf("DeleteTrashed() error = %v", err)
	}
	if got, _ := db.FindTrashedByID(ctx, "d1"); got != nil {
		t.Error("tombstone still present after DeleteTrashed()")
	}
}

func TestSQLiteDatabase_Versions(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	for i, ident := range []string{"r1", "r2"} {
		v := &model.FileVersion{
			ID:           "v" + ident,
			NodeID:       "f1",
			Seq:          int64(i + 1),
			Identifier:   ident,
			Location:     `{"object":"` + ident + `"}`,
			LocationHash: "h" + ident,
			CreatedAt:    testTime.Add(time.Duration(i) * time.Minute),
		}
		if err := db.CreateVersion(ctx, v); err != nil {
			t.Fatalf("CreateVersion(%s) error = %v", ident, err)
		}
	}

	dup := &model.FileVersion{ID: "vdup", NodeID: "f1", Seq: 3, Identifier: "r1", CreatedAt: testTime}
	if err := db.CreateVersion(ctx, dup); !errors.Is(err, meta.ErrConflict) {
		t.Errorf("CreateVersion() duplicate identifier error = %v, want ErrConflict", err)
	}

	latest, err := db.FindLatestVersion(ctx, "f1")
	if err != nil || latest == nil || latest.Identifier != "r2" {
		t.Errorf("FindLatestVersion() = %v, %v", latest, err)
	}

	all, err := db.FindVersionsForNode(ctx, "f1")
	if err != nil || len(all) != 2 || all[0].Seq != 1 {
		t.Errorf("FindVersionsForNode() = %v, %v", all, err)
	}

	if v, _ := db.FindArchivedVersionBySHA256(ctx, "abc"); v != nil {
		t.Errorf("FindArchivedVersionBySHA256() before archive = %v, want nil", v)
	}
	if err := db.UpdateVersionArchive(ctx, "vr1", "abc", "sha256:abc"); err != nil {
		t.Fatalf("UpdateVersionArchive() error = %v", err)
	}
	v, err := db.FindArchivedVersionBySHA256(ctx, "abc")
	if err != nil || v == nil || v.ArchiveRef.String != "sha256:abc" {
		t.Errorf("FindArchivedVersionBySHA256() = %v, %v", v, err)
	}
}

func TestSQLiteDatabase_GuidsAndComments(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	g := &model.Guid{ID: "g1", ReferentKind: meta.ReferentFile, ReferentID: "f1", CreatedAt: testTime}
	if err := db.CreateGuid(ctx, g); err != nil {
		t.Fatalf("CreateGuid() error = %v", err)
	}
	if err := db.CreateGuid(ctx, g); !errors.Is(err, meta.ErrConflict) {
		t.Errorf("CreateGuid() duplicate error = %v, want ErrConflict", err)
	}

	n, err := db.RepointGuidsByReferent(ctx, meta.ReferentFile, "f1", meta.ReferentTrashedFile, "f1")
	if err != nil || n != 1 {
		t.Errorf("RepointGuidsByReferent() = %d, %v", n, err)
	}
	got, _ := db.FindGuid(ctx, "g1")
	if got.ReferentKind != meta.ReferentTrashedFile {
		t.Errorf("ReferentKind = %s, want %s", got.ReferentKind, meta.ReferentTrashedFile)
	}

	if err := db.RepointGuid(ctx, "missing", meta.ReferentFile, "f2"); !errors.Is(err, meta.ErrNotFound) {
		t.Errorf("RepointGuid(missing) error = %v, want ErrNotFound", err)
	}

	for _, id := range []string{"c1", "c2"} {
		c := &model.Comment{ID: id, ProjectID: "p1", RootTarget: "g1", UserID: "u1", Content: id, CreatedAt: testTime}
		if err := db.CreateComment(ctx, c); err != nil {
			t.Fatalf("CreateComment() error = %v", err)
		}
	}
	moved, err := db.RetargetComments(ctx, "g1", "p2")
	if err != nil || moved != 2 {
		t.Errorf("RetargetComments() = %d, %v", moved, err)
	}
	comments, _ := db.FindCommentsByRootTarget(ctx, "g1")
	for _, c := range comments {
		if c.ProjectID != "p2" {
			t.Errorf("comment %s ProjectID = %s, want p2", c.ID, c.ProjectID)
		}
	}
}

func TestSQLiteDatabase_ProviderRoots(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	root, err := db.FindProviderRoot(ctx, "p1", "googledrive")
	if err != nil || root != "" {
		t.Errorf("FindProviderRoot() unset = %q, %v", root, err)
	}
	for _, r := range []string{"/a/", "/b/"} {
		if err := db.SetProviderRoot(ctx, "p1", "googledrive", r); err != nil {
			t.Fatalf("SetProviderRoot(%s) error = %v", r, err)
		}
	}
	root, _ = db.FindProviderRoot(ctx, "p1", "googledrive")
	if root != "/b/" {
		t.Errorf("FindProviderRoot() = %q, want /b/", root)
	}
}

func TestSQLiteDatabase_InTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		db := newTestDB(t)

		err := db.InTx(ctx, func(st meta.Store) error {
			return st.CreateNode(ctx, newNode("f1", "root", "/a.txt", "a.txt", model.KindFile))
		})
		if err != nil {
			t.Fatalf("InTx() error = %v", err)
		}
		if n, _ := db.FindNodeByID(ctx, "f1"); n == nil {
			t.Error("node not visible after commit")
		}
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db := newTestDB(t)
		boom := errors.New("boom")

		err := db.InTx(ctx, func(st meta.Store) error {
			if err := st.CreateNode(ctx, newNode("f1", "root", "/a.txt", "a.txt", model.KindFile)); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("InTx() error = %v, want boom", err)
		}
		if n, _ := db.FindNodeByID(ctx, "f1"); n != nil {
			t.Error("node visible after rollback")
		}
	})
}

func TestSQLiteDatabase_Operations(t *testing.T) {
	db := newTestDB(t)

	maxID, err := db.MaxOperationID()
	if err != nil || maxID != 0 {
		t.Fatalf("MaxOperationID() empty = %d, %v", maxID, err)
	}

	op1, err := db.CreateOperation("trash delete", "f1")
	if err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	op2, _ := db.CreateOperation("event process", "")
	if err := db.FinishOperation(op1.ID, "success"); err != nil {
		t.Fatalf("FinishOperation() error = %v", err)
	}

	ops, err := db.ListOperations(10)
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	if len(ops) != 2 || ops[0].ID != op2.ID {
		t.Errorf("ListOperations() = %v, want newest first", ops)
	}
	if ops[1].Status != "success" || !ops[1].FinishedAt.Valid {
		t.Errorf("finished operation = %+v", ops[1])
	}

	maxID, _ = db.MaxOperationID()
	if maxID != op2.ID {
		t.Errorf("MaxOperationID() = %d, want %d", maxID, op2.ID)
	}
}

func TestSQLiteDatabase_BackupTo(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	if err := db.CreateNode(ctx, newNode("f1", "root", "/a.txt", "a.txt", model.KindFile)); err != nil {
		t.Fatalf("CreateNode() error = %v", err)
	}

	dest := filepath.Join(t.TempDir(), "backup.db")
	if err := db.BackupTo(dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	copyDB, err := NewSQLiteDatabase(dest)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer copyDB.Close()

	if err := copyDB.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() on backup error = %v", err)
	}
	if n, _ := copyDB.FindNodeByID(ctx, "f1"); n == nil {
		t.Error("backup is missing node f1")
	}
}
