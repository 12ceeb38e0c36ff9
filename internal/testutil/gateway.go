package testutil

import (
	"context"
	"fmt"
	"sync"

	"fmeta-go/internal/meta"
)

// FakeGateway serves canned metadata keyed by provider and path, and records
// every request. Safe for concurrent use.
type FakeGateway struct {
	mu       sync.Mutex
	metadata map[string]*meta.GatewayMetadata
	requests []meta.MetadataRequest
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{metadata: make(map[string]*meta.GatewayMetadata)}
}

func fakeKey(provider, path string) string {
	return provider + ":" + path
}

// Set registers the metadata returned for provider and path.
func (g *FakeGateway) Set(provider, path string, md *meta.GatewayMetadata) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.metadata[fakeKey(provider, path)] = md
}

// SetRevision is shorthand for file metadata whose Extra carries key=revision.
func (g *FakeGateway) SetRevision(provider, path, key, revision string, size int64) {
	g.Set(provider, path, &meta.GatewayMetadata{
		Kind:  "file",
		Path:  path,
		Size:  size,
		Extra: map[string]any{key: revision},
	})
}

// Requests returns a copy of the requests seen so far.
func (g *FakeGateway) Requests() []meta.MetadataRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]meta.MetadataRequest(nil), g.requests...)
}

func (g *FakeGateway) FetchMetadata(ctx context.Context, req meta.MetadataRequest) (*meta.GatewayMetadata, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	md, ok := g.metadata[fakeKey(req.Provider, req.Path)]
	if !ok {
		return nil, fmt.Errorf("no metadata for %s:%s: %w", req.Provider, req.Path, meta.ErrNotFound)
	}
	c := *md
	return &c, nil
}

var _ meta.Gateway = (*FakeGateway)(nil)
