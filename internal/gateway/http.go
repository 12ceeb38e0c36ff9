// Package gateway fetches node metadata from the storage gateway over HTTP.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fmeta-go/internal/config"
	"fmeta-go/internal/meta"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "fmeta"

	// maxBodySize bounds a metadata response.
	maxBodySize = 4 << 20
)

// HTTPGateway implements meta.Gateway against the gateway's resource API:
//
//	GET {base}/v1/resources/{project}/providers/{provider}{path}?meta=&{revision_param}={revision}
//
// Responses are either a bare metadata object or a JSON:API style
// {"data": {"attributes": {...}}} envelope.
type HTTPGateway struct {
	baseURL   *url.URL
	client    *http.Client
	userAgent string
}

// Option configures an HTTPGateway.
type Option func(*HTTPGateway)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *HTTPGateway) { g.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(g *HTTPGateway) {
		if ua != "" {
			g.userAgent = ua
		}
	}
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(g *HTTPGateway) {
		if d > 0 {
			g.client = &http.Client{Timeout: d}
		}
	}
}

// NewHTTPGateway creates a gateway client for baseURL.
func NewHTTPGateway(baseURL string, opts ...Option) (*HTTPGateway, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing gateway url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("gateway url %q must be http or https", baseURL)
	}
	g := &HTTPGateway{
		baseURL:   u,
		client:    &http.Client{Timeout: defaultTimeout},
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// NewGatewayFromConfig creates an HTTPGateway from the [gateway] config section.
func NewGatewayFromConfig(cfg config.GatewayConfig) (*HTTPGateway, error) {
	return NewHTTPGateway(cfg.BaseURL,
		WithTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second),
		WithUserAgent(cfg.UserAgent),
	)
}

// FetchMetadata returns the gateway's current metadata for req.
func (g *HTTPGateway) FetchMetadata(ctx context.Context, req meta.MetadataRequest) (*meta.GatewayMetadata, error) {
	u := g.resourceURL(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", u, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", u, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("gateway returned %d for %s:%s: %w", resp.StatusCode, req.Provider, req.Path, meta.ErrNotFound)
	}
	return decodeMetadata(body)
}

func (g *HTTPGateway) resourceURL(req meta.MetadataRequest) string {
	p := req.Path
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	u := *g.baseURL
	u.RawPath = ""
	u.Path = u.Path + "/v1/resources/" + req.ProjectID + "/providers/" + req.Provider + p

	q := url.Values{}
	q.Set("meta", "")
	if req.Revision != "" && req.RevisionParam != "" {
		q.Set(req.RevisionParam, req.Revision)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

type envelope struct {
	Data *struct {
		Attributes json.RawMessage `json:"attributes"`
	} `json:"data"`
}

func decodeMetadata(body []byte) (*meta.GatewayMetadata, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding gateway response: %w", err)
	}
	if env.Data != nil && len(env.Data.Attributes) > 0 {
		body = env.Data.Attributes
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var md meta.GatewayMetadata
	if err := dec.Decode(&md); err != nil {
		return nil, fmt.Errorf("decoding gateway metadata: %w", err)
	}
	return &md, nil
}

var _ meta.Gateway = (*HTTPGateway)(nil)
