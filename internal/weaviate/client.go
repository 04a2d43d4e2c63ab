// Package weaviate provides the batch transports used to reach Weaviate.
// The REST transport wraps weaviate-go-client; the gRPC transport talks to
// the v1 protocol directly. Both report per-item failures by request index.
package weaviate

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/kilupskalvis/wvb/internal/auth"
	"github.com/kilupskalvis/wvb/internal/models"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	weaviatemodels "github.com/weaviate/weaviate/entities/models"
)

// ServerVersion holds parsed Weaviate version info
type ServerVersion struct {
	Version string // e.g., "1.25.0"
	Major   int
	Minor   int
	Patch   int
}

// parseVersion parses a version string like "1.25.0" into ServerVersion
func parseVersion(version string) (*ServerVersion, error) {
	re := regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)`)
	matches := re.FindStringSubmatch(version)
	if len(matches) < 4 {
		return nil, fmt.Errorf("invalid version format: %s", version)
	}

	major, _ := strconv.Atoi(matches[1])
	minor, _ := strconv.Atoi(matches[2])
	patch, _ := strconv.Atoi(matches[3])

	return &ServerVersion{
		Version: version,
		Major:   major,
		Minor:   minor,
		Patch:   patch,
	}, nil
}

// SupportsFeature checks if the server supports a specific feature
func (v *ServerVersion) SupportsFeature(feature string) bool {
	switch feature {
	case "grpc_batch":
		return v.Major > 1 || (v.Major == 1 && v.Minor >= 23)
	case "batch_references_grpc":
		return v.Major > 1 || (v.Major == 1 && v.Minor >= 27)
	case "multi_vector":
		return v.Major > 1 || (v.Major == 1 && v.Minor >= 29)
	default:
		return true
	}
}

// ClientConfig configures the REST transport.
type ClientConfig struct {
	URL              string
	Headers          map[string]string
	ConsistencyLevel string // ONE, QUORUM or ALL; empty uses the server default
	Timeout          time.Duration
}

// Client is the REST batch transport.
type Client struct {
	client           *weaviate.Client
	httpClient       *http.Client
	url              string
	consistencyLevel string
}

// NewClient creates a REST transport. The underlying http.Client is owned by
// the returned Client and reused for every batch; bearer tokens attached to
// the request context with auth.ContextWithToken are sent per request.
func NewClient(cfg ClientConfig) (*Client, error) {
	url := cfg.URL
	wcfg := weaviate.Config{
		Host:    url,
		Scheme:  "http",
		Headers: cfg.Headers,
	}

	// Handle URL parsing
	if strings.HasPrefix(url, "http://") {
		wcfg.Host = url[7:]
		wcfg.Scheme = "http"
	} else if strings.HasPrefix(url, "https://") {
		wcfg.Host = url[8:]
		wcfg.Scheme = "https"
	}
	if wcfg.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %q", url)
	}

	httpClient := &http.Client{
		Transport: &auth.BearerTransport{Base: http.DefaultTransport},
		Timeout:   cfg.Timeout,
	}
	wcfg.ConnectionClient = httpClient

	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	return &Client{
		client:           client,
		httpClient:       httpClient,
		url:              url,
		consistencyLevel: cfg.ConsistencyLevel,
	}, nil
}

// Ping checks if Weaviate is reachable
func (c *Client) Ping(ctx context.Context) error {
	live, err := c.client.Misc().LiveChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to Weaviate: %w", err)
	}
	if !live {
		return fmt.Errorf("weaviate is not live")
	}
	return nil
}

// GetServerVersion fetches and parses the Weaviate server version
func (c *Client) GetServerVersion(ctx context.Context) (*ServerVersion, error) {
	meta, err := c.client.Misc().MetaGetter().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get server metadata: %w", err)
	}
	return parseVersion(meta.Version)
}

// SendObjects posts one batch to /v1/batch/objects. The REST reply echoes one
// entry per submitted object in request order, so the failure index is the
// entry's position.
func (c *Client) SendObjects(ctx context.Context, objects []*models.BatchObject) (*BatchReply, error) {
	payload := make([]*weaviatemodels.Object, 0, len(objects))
	reply := &BatchReply{Positional: true}

	// Objects that cannot be encoded are failed locally and left out of the
	// request; sent maps request positions back to input indices.
	sent := make([]int, 0, len(objects))
	for i, obj := range objects {
		out, err := toRESTObject(obj)
		if err != nil {
			reply.Errors = append(reply.Errors, BatchError{Index: i, Message: err.Error()})
			continue
		}
		payload = append(payload, out)
		sent = append(sent, i)
	}
	local := len(objects) - len(sent)
	if len(payload) == 0 {
		reply.Acknowledged = local
		return reply, nil
	}

	batcher := c.client.Batch().ObjectsBatcher().WithObjects(payload...)
	if c.consistencyLevel != "" {
		batcher = batcher.WithConsistencyLevel(c.consistencyLevel)
	}

	resp, err := batcher.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("batch objects: %w", err)
	}

	// A short or long reply keeps its count mismatch so reconciliation rejects it.
	reply.Acknowledged = len(resp) + local
	for i, r := range resp {
		if r.Result == nil {
			continue
		}
		idx := len(objects) + i - len(sent)
		if i < len(sent) {
			idx = sent[i]
		}
		reply.Errors = append(reply.Errors, restErrors(idx, r.Result.Errors, r.Result.Status)...)
	}
	return reply, nil
}

// SendReferences posts one batch to /v1/batch/references.
func (c *Client) SendReferences(ctx context.Context, refs []*models.BatchReference) (*BatchReply, error) {
	batcher := c.client.Batch().ReferencesBatcher()
	for _, ref := range refs {
		payload := c.client.Batch().ReferencePayloadBuilder().
			WithFromClassName(ref.FromClass).
			WithFromRefProp(ref.FromProperty).
			WithFromID(ref.FromID).
			WithToClassName(ref.ToClass).
			WithToID(ref.ToID).
			Payload()
		payload.Tenant = ref.Tenant
		batcher = batcher.WithReference(payload)
	}

	resp, err := batcher.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("batch references: %w", err)
	}

	reply := &BatchReply{Positional: true, Acknowledged: len(resp)}
	for i, r := range resp {
		if r.Result == nil {
			continue
		}
		reply.Errors = append(reply.Errors, restErrors(i, r.Result.Errors, r.Result.Status)...)
	}
	return reply, nil
}

// Close releases idle connections held by the transport.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// restErrors flattens a REST per-item error response.
func restErrors(index int, errResp *weaviatemodels.ErrorResponse, status *string) []BatchError {
	var out []BatchError
	if errResp != nil {
		for _, item := range errResp.Error {
			if item == nil {
				continue
			}
			out = append(out, BatchError{Index: index, Message: item.Message})
		}
	}
	if len(out) == 0 && status != nil && *status == "FAILED" {
		out = append(out, BatchError{Index: index, Message: "failed without error detail"})
	}
	return out
}

// toRESTObject converts a batch object to the REST wire model. The vector
// named "" is sent as the legacy unnamed vector, which cannot be a
// multi-vector.
func toRESTObject(obj *models.BatchObject) (*weaviatemodels.Object, error) {
	out := &weaviatemodels.Object{
		Class:      obj.Class,
		ID:         strfmt.UUID(obj.ID),
		Properties: obj.Properties,
		Tenant:     obj.Tenant,
	}

	for name, v := range obj.Vectors {
		if name == "" {
			vec := vectorToFloat32(v)
			if vec == nil {
				return nil, fmt.Errorf("unsupported vector type %T for %q", v, name)
			}
			out.Vector = vec
			continue
		}
		if out.Vectors == nil {
			out.Vectors = weaviatemodels.Vectors{}
		}
		if multi := multiVectorToFloat32(v); multi != nil {
			out.Vectors[name] = multi
		} else if vec := vectorToFloat32(v); vec != nil {
			out.Vectors[name] = vec
		} else {
			return nil, fmt.Errorf("unsupported vector type %T for %q", v, name)
		}
	}
	return out, nil
}

// vectorToFloat32 converts various vector representations to []float32
func vectorToFloat32(v interface{}) []float32 {
	if v == nil {
		return nil
	}

	switch vec := v.(type) {
	case []float32:
		return vec
	case []float64:
		result := make([]float32, len(vec))
		for i, f := range vec {
			result[i] = float32(f)
		}
		return result
	case []interface{}:
		if len(vec) == 0 {
			return nil
		}
		result := make([]float32, len(vec))
		for i, val := range vec {
			switch f := val.(type) {
			case float64:
				result[i] = float32(f)
			case float32:
				result[i] = f
			default:
				return nil
			}
		}
		return result
	default:
		return nil
	}
}

// multiVectorToFloat32 converts a multi-vector (ColBERT style) to [][]float32.
// Returns nil when v is not a multi-vector.
func multiVectorToFloat32(v interface{}) [][]float32 {
	switch vec := v.(type) {
	case [][]float32:
		return vec
	case [][]float64:
		result := make([][]float32, len(vec))
		for i, inner := range vec {
			result[i] = vectorToFloat32(inner)
		}
		return result
	case []interface{}:
		if len(vec) == 0 {
			return nil
		}
		result := make([][]float32, len(vec))
		for i, inner := range vec {
			switch inner.(type) {
			case []interface{}, []float64, []float32:
			default:
				return nil
			}
			result[i] = vectorToFloat32(inner)
			if result[i] == nil {
				return nil
			}
		}
		return result
	default:
		return nil
	}
}
