package meta_test

import (
	"context"
	"sort"
	"testing"

	"fmeta-go/internal/meta"
	"fmeta-go/internal/model"
	"fmeta-go/internal/testutil"
	"fmeta-go/internal/vault"
)

// Test providers. alpha and beta are plain versioned gateway providers.
var (
	alpha = &meta.Provider{Name: "alpha", Versioned: true, RevisionParam: "revision", RevisionExtraKey: "rev"}
	beta  = &meta.Provider{Name: "beta", Versioned: true, RevisionParam: "ref", RevisionExtraKey: "rev"}
)

func testRegistry() *meta.Registry {
	var types []meta.NodeType
	for _, p := range []*meta.Provider{
		alpha, beta,
		meta.OSFStorage, meta.GoogleDrive, meta.OneDrive, meta.Dataverse,
	} {
		types = append(types, meta.TypesFor(p)...)
	}
	return meta.MustRegistry(types...)
}

type fixture struct {
	svc     *meta.MetaService
	db      meta.Database
	gateway *testutil.FakeGateway
	vault   *vault.MemoryVault
	enc     meta.Encryptor
	logger  *testutil.RecordingLogger
	clock   *testutil.StubClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:      testutil.NewTestDatabase(t),
		gateway: testutil.NewFakeGateway(),
		vault:   testutil.NewTestVault(),
		enc:     testutil.NewTestEncryptor(),
		logger:  &testutil.RecordingLogger{},
		clock:   testutil.FixedClock(),
	}
	f.svc = meta.NewMetaService(f.db, f.gateway, f.vault, f.enc,
		testRegistry(), f.logger, f.clock, testutil.NewStubIDGenerator())
	return f
}

func (f *fixture) node(t *testing.T, project, provider, path string) *model.FileNode {
	t.Helper()
	n, err := f.svc.GetOrCreate(context.Background(), project, provider, path)
	if err != nil {
		t.Fatalf("GetOrCreate(%s, %s, %s) error = %v", project, provider, path, err)
	}
	return n
}

func (f *fixture) guid(t *testing.T, n *model.FileNode) *model.Guid {
	t.Helper()
	g, err := f.svc.GuidFor(context.Background(), meta.FileReferent(n.ID))
	if err != nil {
		t.Fatalf("GuidFor(%s) error = %v", n.ID, err)
	}
	return g
}

func (f *fixture) child(t *testing.T, folder *model.FileNode, name string, kind model.Kind) *model.FileNode {
	t.Helper()
	c, err := f.svc.CreateChild(context.Background(), folder, name, kind)
	if err != nil {
		t.Fatalf("CreateChild(%s, %q) error = %v", folder.ID, name, err)
	}
	return c
}

// referentOf returns "kind:id" for guidID, failing when the Guid is missing.
func (f *fixture) referentOf(t *testing.T, guidID string) meta.Referent {
	t.Helper()
	ref, err := f.svc.ResolveGuid(context.Background(), guidID)
	if err != nil {
		t.Fatalf("ResolveGuid(%s) error = %v", guidID, err)
	}
	if ref == nil {
		t.Fatalf("ResolveGuid(%s) = nil", guidID)
	}
	return *ref
}

// guidsOf returns the sorted ids of every Guid pointing at the given live nodes.
func (f *fixture) guidsOf(t *testing.T, nodes ...*model.FileNode) []string {
	t.Helper()
	var ids []string
	for _, n := range nodes {
		guids, err := f.db.FindGuidsByReferent(context.Background(), meta.ReferentFile, n.ID)
		if err != nil {
			t.Fatalf("FindGuidsByReferent(%s) error = %v", n.ID, err)
		}
		for _, g := range guids {
			ids = append(ids, g.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

func (f *fixture) live(t *testing.T, id string) *model.FileNode {
	t.Helper()
	n, err := f.db.FindNodeByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindNodeByID(%s) error = %v", id, err)
	}
	return n
}

