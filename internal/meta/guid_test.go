package meta_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"fmeta-go/internal/meta"
)

func TestMetaService_GuidFor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	file := f.node(t, "p1", "alpha", "/a.txt")

	first := f.guid(t, file)
	second := f.guid(t, file)
	if first.ID != second.ID {
		t.Errorf("GuidFor() twice = %s, %s; want one guid", first.ID, second.ID)
	}
	if got := f.referentOf(t, first.ID); got != meta.FileReferent(file.ID) {
		t.Errorf("ResolveGuid() = %s, want %s", got, meta.FileReferent(file.ID))
	}

	if _, err := f.svc.GuidFor(ctx, meta.FileReferent("missing")); !errors.Is(err, meta.ErrNotFound) {
		t.Errorf("GuidFor(missing) error = %v, want ErrNotFound", err)
	}
	if ref, err := f.svc.ResolveGuid(ctx, "unknown"); err != nil || ref != nil {
		t.Errorf("ResolveGuid(unknown) = %v, %v; want nil, nil", ref, err)
	}
}

func TestMetaService_Repoint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	a := f.node(t, "p1", "alpha", "/a.txt")
	b := f.node(t, "p1", "alpha", "/b.txt")
	g := f.guid(t, a)

	tests := []struct {
		name    string
		guid    string
		to      meta.Referent
		want    meta.Referent
		wantErr error
	}{
		{name: "to another node", guid: g.ID, to: meta.FileReferent(b.ID), want: meta.FileReferent(b.ID)},
		{name: "to the current referent", guid: g.ID, to: meta.FileReferent(b.ID), want: meta.FileReferent(b.ID)},
		{name: "to a missing node", guid: g.ID, to: meta.FileReferent("gone"), want: meta.FileReferent(b.ID), wantErr: meta.ErrNotFound},
		{name: "to a missing tombstone", guid: g.ID, to: meta.TrashedReferent(a.ID), want: meta.FileReferent(b.ID), wantErr: meta.ErrNotFound},
		{name: "unknown guid", guid: "nope", to: meta.FileReferent(a.ID), wantErr: meta.ErrNotFound},
	}

	for _, tt := range tests {
		err := f.svc.Repoint(ctx, tt.guid, tt.to)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("%s: Repoint() error = %v, want %v", tt.name, err, tt.wantErr)
			}
		} else if err != nil {
			t.Errorf("%s: Repoint() error = %v", tt.name, err)
		}
		if tt.guid == g.ID {
			if got := f.referentOf(t, g.ID); got != tt.want {
				t.Errorf("%s: referent = %s, want %s", tt.name, got, tt.want)
			}
		}
	}
}

func TestMetaService_LookupGuid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	file := f.node(t, "p1", "alpha", "/a.txt")
	g := f.guid(t, file)

	target, err := f.svc.LookupGuid(ctx, g.ID)
	if err != nil {
		t.Fatalf("LookupGuid() error = %v", err)
	}
	if target.Node == nil || target.Node.ID != file.ID || target.Trashed != nil {
		t.Fatalf("LookupGuid() = %+v, want the live node", target)
	}

	if _, err := f.svc.Delete(ctx, file, "alice"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	target, err = f.svc.LookupGuid(ctx, g.ID)
	if err != nil {
		t.Fatalf("LookupGuid() after delete error = %v", err)
	}
	if target.Trashed == nil || target.Trashed.ID != file.ID || target.Node != nil {
		t.Errorf("LookupGuid() after delete = %+v, want the tombstone", target)
	}
	if target.Trashed.DeletedBy != "alice" {
		t.Errorf("tombstone DeletedBy = %q, want %q", target.Trashed.DeletedBy, "alice")
	}
}

func TestMetaService_Comments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	file := f.node(t, "p1", "alpha", "/a.txt")
	first, err := f.svc.AddComment(ctx, file.ID, "alice", "looks good")
	if err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	f.clock.Advance(time.Second)
	if _, err := f.svc.AddComment(ctx, file.ID, "bob", "agreed"); err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}

	g := f.guid(t, file)
	if first.RootTarget != g.ID || first.ProjectID != "p1" {
		t.Errorf("comment root %s project %s, want %s p1", first.RootTarget, first.ProjectID, g.ID)
	}
	comments, err := f.svc.ListComments(ctx, g.ID)
	if err != nil {
		t.Fatalf("ListComments() error = %v", err)
	}
	if len(comments) != 2 || comments[0].UserID != "alice" || comments[1].UserID != "bob" {
		t.Errorf("ListComments() = %v, want alice then bob", comments)
	}

	if _, err := f.svc.AddComment(ctx, "missing", "alice", "hello"); !errors.Is(err, meta.ErrNotFound) {
		t.Errorf("AddComment(missing) error = %v, want ErrNotFound", err)
	}
}
