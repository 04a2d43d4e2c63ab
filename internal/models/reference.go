package models

import "fmt"

// BatchReference is a cross-object link created in bulk:
// FromClass/FromID.FromProperty -> ToClass/ToID.
type BatchReference struct {
	FromClass    string `json:"from_class"`
	FromID       string `json:"from_id"`
	FromProperty string `json:"from_property"`
	ToClass      string `json:"to_class,omitempty"`
	ToID         string `json:"to_id"`
	Tenant       string `json:"tenant,omitempty"`
}

// Key identifies the reference in outcomes and dead letters.
func (r *BatchReference) Key() string {
	return fmt.Sprintf("%s/%s/%s->%s/%s", r.FromClass, r.FromID, r.FromProperty, r.ToClass, r.ToID)
}

// EstimateSize approximates the wire size of the reference in bytes.
func (r *BatchReference) EstimateSize() int64 {
	// two beacons of the form weaviate://localhost/Class/uuid plus the property path
	return int64(2*len("weaviate://localhost/") + len(r.FromClass) + len(r.FromID) +
		len(r.FromProperty) + len(r.ToClass) + len(r.ToID) + len(r.Tenant))
}
