// Package deadletter persists batch items whose final outcome was a failure
// so they can be inspected and replayed later.
package deadletter

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kilupskalvis/wvb/internal/models"
)

// Kind distinguishes dead-lettered objects from references.
type Kind string

const (
	KindObject    Kind = "object"
	KindReference Kind = "reference"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown dead-letter backend")

// Record is one dead-lettered item.
type Record struct {
	Seq      uint64          `json:"seq"`
	Kind     Kind            `json:"kind"`
	Key      string          `json:"key"`
	Class    string          `json:"class"`
	Payload  json.RawMessage `json:"payload"`
	Errors   []string        `json:"errors"`
	Attempts int             `json:"attempts"`
	FailedAt time.Time       `json:"failed_at"`
}

// Store is the dead-letter journal.
type Store interface {
	// Put appends records and assigns their Seq.
	Put(records ...*Record) error
	// List returns up to limit records in insertion order; limit <= 0 returns all.
	List(limit int) ([]*Record, error)
	// Delete removes records by Seq. Unknown sequences are ignored.
	Delete(seqs ...uint64) error
	Count() (int, error)
	Close() error
}

// FromOutcome builds a record from a failed outcome.
func FromOutcome(o models.ObjectOutcome, failedAt time.Time) (*Record, error) {
	if o.Success {
		return nil, fmt.Errorf("outcome %s succeeded", o.ID)
	}
	rec := &Record{
		Key:      o.ID,
		Errors:   o.Errors,
		Attempts: o.Attempts,
		FailedAt: failedAt.UTC(),
	}

	var err error
	switch {
	case o.Object != nil:
		rec.Kind = KindObject
		rec.Class = o.Object.Class
		rec.Payload, err = json.Marshal(o.Object)
	case o.Reference != nil:
		rec.Kind = KindReference
		rec.Class = o.Reference.FromClass
		rec.Payload, err = json.Marshal(o.Reference)
	default:
		return nil, fmt.Errorf("outcome %s carries no item", o.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("marshal %s %s: %w", rec.Kind, o.ID, err)
	}
	return rec, nil
}

// Object decodes the payload of an object record.
func (r *Record) Object() (*models.BatchObject, error) {
	if r.Kind != KindObject {
		return nil, fmt.Errorf("record %d is a %s", r.Seq, r.Kind)
	}
	var obj models.BatchObject
	if err := json.Unmarshal(r.Payload, &obj); err != nil {
		return nil, fmt.Errorf("decode object record %d: %w", r.Seq, err)
	}
	return &obj, nil
}

// Reference decodes the payload of a reference record.
func (r *Record) Reference() (*models.BatchReference, error) {
	if r.Kind != KindReference {
		return nil, fmt.Errorf("record %d is a %s", r.Seq, r.Kind)
	}
	var ref models.BatchReference
	if err := json.Unmarshal(r.Payload, &ref); err != nil {
		return nil, fmt.Errorf("decode reference record %d: %w", r.Seq, err)
	}
	return &ref, nil
}

// Open opens a store for the named backend ("bbolt" or "sqlite").
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", "bbolt":
		return OpenBolt(path)
	case "sqlite":
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
