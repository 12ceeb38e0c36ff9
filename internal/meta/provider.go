package meta

import (
	"fmt"
	"sort"

	"fmeta-go/internal/model"
)

// KindAny matches both files and folders when resolving a node type.
const KindAny model.Kind = ""

// BuiltInProvider is the tag of the platform's own object store.
const BuiltInProvider = "osfstorage"

// Provider describes the behavior a storage provider contributes to every node it owns.
type Provider struct {
	Name string

	// Versioned providers report a revision token for every file version.
	Versioned bool

	// RevisionParam is the query parameter the gateway expects for a revision
	// ("revision", "ref", "branch").
	RevisionParam string

	// RevisionExtraKey names the field of GatewayMetadata.Extra carrying the revision.
	RevisionExtraKey string

	// PathFollowing providers expose paths relative to a user-configured root folder.
	PathFollowing bool

	// BuiltIn marks the built-in store: id-based paths, integer version identifiers,
	// and a materialized path computed from parent links.
	BuiltIn bool

	// Drafts marks providers with unpublished content. DraftRevision is the revision
	// token naming the unpublished state.
	Drafts        bool
	DraftRevision string
}

// NodeType is a concrete (provider, kind) combination. A NodeType with KindAny
// accepts either kind from its provider.
type NodeType struct {
	Provider *Provider
	Kind     model.Kind
}

func (t NodeType) String() string {
	if t.Kind == KindAny {
		return t.Provider.Name + "/any"
	}
	return t.Provider.Name + "/" + string(t.Kind)
}

// Matches reports whether node belongs to this type.
func (t NodeType) Matches(node *model.FileNode) bool {
	if node.Provider != t.Provider.Name {
		return false
	}
	return t.Kind == KindAny || t.Kind == node.Kind
}

type typeKey struct {
	provider string
	kind     model.Kind
}

// Registry maps (provider, kind) to node types. It is closed after construction.
type Registry struct {
	types     map[typeKey]NodeType
	providers map[string]*Provider
}

// NewRegistry builds a registry from types. Registering the same (provider, kind)
// twice, or two distinct Provider values under one name, is an error.
func NewRegistry(types ...NodeType) (*Registry, error) {
	r := &Registry{
		types:     make(map[typeKey]NodeType),
		providers: make(map[string]*Provider),
	}
	for _, t := range types {
		if t.Provider == nil || t.Provider.Name == "" {
			return nil, fmt.Errorf("registering node type: provider name required")
		}
		if t.Kind != KindAny && t.Kind != model.KindFile && t.Kind != model.KindFolder {
			return nil, fmt.Errorf("registering %s: unknown kind %q", t.Provider.Name, t.Kind)
		}
		if p, ok := r.providers[t.Provider.Name]; ok && p != t.Provider {
			return nil, fmt.Errorf("provider %s registered twice with different definitions", t.Provider.Name)
		}
		key := typeKey{t.Provider.Name, t.Kind}
		if _, ok := r.types[key]; ok {
			return nil, fmt.Errorf("duplicate registration for %s", t)
		}
		r.types[key] = t
		r.providers[t.Provider.Name] = t.Provider
	}
	return r, nil
}

// MustRegistry is NewRegistry that panics on a configuration error.
func MustRegistry(types ...NodeType) *Registry {
	r, err := NewRegistry(types...)
	if err != nil {
		panic(err)
	}
	return r
}

// TypesFor returns the file, folder and any-kind types of p.
func TypesFor(p *Provider) []NodeType {
	return []NodeType{
		{Provider: p, Kind: model.KindFile},
		{Provider: p, Kind: model.KindFolder},
		{Provider: p, Kind: KindAny},
	}
}

// Lookup returns the node type registered for (provider, kind).
func (r *Registry) Lookup(provider string, kind model.Kind) (NodeType, bool) {
	t, ok := r.types[typeKey{provider, kind}]
	return t, ok
}

// Provider returns the provider registered under name.
func (r *Registry) Provider(name string) (*Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// TypeOf returns the concrete type of a stored node.
func (r *Registry) TypeOf(node *model.FileNode) (NodeType, error) {
	t, ok := r.Lookup(node.Provider, node.Kind)
	if !ok {
		return NodeType{}, fmt.Errorf("no node type registered for %s/%s", node.Provider, node.Kind)
	}
	return t, nil
}

// Providers returns registered provider names in sorted order.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Built-in catalog.
var (
	OSFStorage = &Provider{Name: BuiltInProvider, Versioned: true, RevisionParam: "version", BuiltIn: true}

	GitHub    = &Provider{Name: "github", Versioned: true, RevisionParam: "ref", RevisionExtraKey: "fileSha"}
	GitLab    = &Provider{Name: "gitlab", Versioned: true, RevisionParam: "branch", RevisionExtraKey: "fileSha"}
	Bitbucket = &Provider{Name: "bitbucket", Versioned: true, RevisionParam: "ref", RevisionExtraKey: "commitSha"}
	S3        = &Provider{Name: "s3", Versioned: true, RevisionParam: "version", RevisionExtraKey: "version"}

	GoogleDrive = &Provider{Name: "googledrive", Versioned: true, RevisionParam: "revision", RevisionExtraKey: "revisionId", PathFollowing: true}
	Dropbox     = &Provider{Name: "dropbox", Versioned: true, RevisionParam: "revision", RevisionExtraKey: "revisionId", PathFollowing: true}
	Box         = &Provider{Name: "box", Versioned: true, RevisionParam: "revision", RevisionExtraKey: "etag", PathFollowing: true}
	OneDrive    = &Provider{Name: "onedrive", RevisionParam: "revision", PathFollowing: true}
	OwnCloud    = &Provider{Name: "owncloud", RevisionParam: "revision", PathFollowing: true}

	Figshare  = &Provider{Name: "figshare", RevisionParam: "revision"}
	Dataverse = &Provider{Name: "dataverse", Versioned: true, RevisionParam: "version", RevisionExtraKey: "datasetVersion", Drafts: true, DraftRevision: "latest"}
)

// DefaultRegistry returns a registry of every catalog provider.
func DefaultRegistry() *Registry {
	var types []NodeType
	for _, p := range []*Provider{
		OSFStorage, GitHub, GitLab, Bitbucket, S3,
		GoogleDrive, Dropbox, Box, OneDrive, OwnCloud,
		Figshare, Dataverse,
	} {
		types = append(types, TypesFor(p)...)
	}
	return MustRegistry(types...)
}
