package weaviate

import (
	"context"
	"sync"

	"github.com/kilupskalvis/wvb/internal/auth"
	"github.com/kilupskalvis/wvb/internal/models"
)

// ObjectsHandler scripts the reply to the n-th (1-based) SendObjects call.
type ObjectsHandler func(call int, objects []*models.BatchObject) (*BatchReply, error)

// ReferencesHandler scripts the reply to the n-th (1-based) SendReferences call.
type ReferencesHandler func(call int, refs []*models.BatchReference) (*BatchReply, error)

// MockTransport is a mock implementation of Transport for testing.
// Without handlers every item succeeds.
type MockTransport struct {
	// OnObjects can be set to script object replies
	OnObjects ObjectsHandler
	// OnReferences can be set to script reference replies
	OnReferences ReferencesHandler
	// Err can be set to make every call return an error
	Err error

	mu             sync.Mutex
	objectCalls    [][]*models.BatchObject
	referenceCalls [][]*models.BatchReference
	tokens         []string
	sent           chan struct{}
}

// NewMockTransport creates a new MockTransport for testing.
func NewMockTransport() *MockTransport {
	return &MockTransport{sent: make(chan struct{}, 1024)}
}

// SendObjects records the call and returns the scripted reply.
func (m *MockTransport) SendObjects(ctx context.Context, objects []*models.BatchObject) (*BatchReply, error) {
	m.mu.Lock()
	batch := append([]*models.BatchObject(nil), objects...)
	m.objectCalls = append(m.objectCalls, batch)
	call := len(m.objectCalls)
	m.recordToken(ctx)
	handler := m.OnObjects
	m.mu.Unlock()
	m.notify()

	if m.Err != nil {
		return nil, m.Err
	}
	if handler == nil {
		return &BatchReply{}, nil
	}
	return handler(call, batch)
}

// SendReferences records the call and returns the scripted reply.
func (m *MockTransport) SendReferences(ctx context.Context, refs []*models.BatchReference) (*BatchReply, error) {
	m.mu.Lock()
	batch := append([]*models.BatchReference(nil), refs...)
	m.referenceCalls = append(m.referenceCalls, batch)
	call := len(m.referenceCalls)
	m.recordToken(ctx)
	handler := m.OnReferences
	m.mu.Unlock()
	m.notify()

	if m.Err != nil {
		return nil, m.Err
	}
	if handler == nil {
		return &BatchReply{}, nil
	}
	return handler(call, batch)
}

// recordToken must be called with m.mu held.
func (m *MockTransport) recordToken(ctx context.Context) {
	if tok, ok := auth.TokenFromContext(ctx); ok {
		m.tokens = append(m.tokens, tok)
	}
}

func (m *MockTransport) notify() {
	select {
	case m.sent <- struct{}{}:
	default:
	}
}

// Sent signals once per send call; useful for waiting on background flushes.
func (m *MockTransport) Sent() <-chan struct{} {
	return m.sent
}

// ObjectCalls returns a copy of every SendObjects batch, in call order.
func (m *MockTransport) ObjectCalls() [][]*models.BatchObject {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*models.BatchObject(nil), m.objectCalls...)
}

// ReferenceCalls returns a copy of every SendReferences batch, in call order.
func (m *MockTransport) ReferenceCalls() [][]*models.BatchReference {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*models.BatchReference(nil), m.referenceCalls...)
}

// Tokens returns the bearer tokens seen on each call.
func (m *MockTransport) Tokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tokens...)
}

// FailIndices builds a reply failing the given request indices with msg.
func FailIndices(msg string, indices ...int) *BatchReply {
	reply := &BatchReply{}
	for _, i := range indices {
		reply.Errors = append(reply.Errors, BatchError{Index: i, Message: msg})
	}
	return reply
}

// FailIDs builds a reply failing every object of the batch whose ID is in ids.
func FailIDs(objects []*models.BatchObject, msg string, ids ...string) *BatchReply {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	reply := &BatchReply{}
	for i, obj := range objects {
		if want[obj.ID] {
			reply.Errors = append(reply.Errors, BatchError{Index: i, Message: msg})
		}
	}
	return reply
}

// Verify MockTransport implements Transport
var _ Transport = (*MockTransport)(nil)
