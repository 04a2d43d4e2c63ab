package weaviate

import (
	"context"

	"github.com/kilupskalvis/wvb/internal/models"
)

// BatchError is a per-item failure reported by a batch reply. Index refers to
// the position of the item in the request that produced the reply.
type BatchError struct {
	Index   int
	Message string
}

// BatchReply is the transport-neutral reply to one batch request. Items whose
// index does not appear in Errors succeeded.
type BatchReply struct {
	Errors []BatchError

	// Positional is set by transports whose reply echoes one entry per
	// submitted item (REST). Acknowledged is then the number of entries and
	// must equal the request size.
	Positional   bool
	Acknowledged int
}

// Transport defines the contract for sending batches to Weaviate.
// Implementations must be safe for concurrent use.
type Transport interface {
	// SendObjects sends one batch of objects.
	SendObjects(ctx context.Context, objects []*models.BatchObject) (*BatchReply, error)
	// SendReferences sends one batch of cross-references.
	SendReferences(ctx context.Context, refs []*models.BatchReference) (*BatchReply, error)
}

// Verify that the transports implement Transport at compile time
var (
	_ Transport = (*Client)(nil)
	_ Transport = (*GRPCClient)(nil)
)
