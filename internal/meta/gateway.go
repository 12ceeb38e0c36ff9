package meta

import (
	"context"
	"fmt"
	"time"
)

// MetadataRequest addresses one node at the storage gateway.
type MetadataRequest struct {
	ProjectID string
	Provider  string
	Path      string

	// Revision is sent under RevisionParam when non-empty.
	Revision      string
	RevisionParam string
}

// GatewayMetadata is the metadata the gateway reports for a node.
type GatewayMetadata struct {
	Kind         string         `json:"kind"`
	Name         string         `json:"name"`
	Path         string         `json:"path"`
	Materialized string         `json:"materialized"`
	Modified     *time.Time     `json:"modified,omitempty"`
	ETag         string         `json:"etag"`
	Size         int64          `json:"size"`
	ContentType  string         `json:"contentType"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// ExtraString returns Extra[key] as a string, or "" when absent.
func (m *GatewayMetadata) ExtraString(key string) string {
	if key == "" || m.Extra == nil {
		return ""
	}
	v, ok := m.Extra[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return fmt.Sprint(t)
	}
}

// Gateway fetches node metadata from the storage gateway.
// A non-success response is reported as an error wrapping ErrNotFound.
type Gateway interface {
	FetchMetadata(ctx context.Context, req MetadataRequest) (*GatewayMetadata, error)
}
