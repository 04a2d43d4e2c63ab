// Package models defines the core data structures used throughout WVB
// including batch objects, references and their per-item outcomes.
package models

import (
	"encoding/json"
)

// BatchObject is one object submitted for insertion or update.
type BatchObject struct {
	ID         string                 `json:"id,omitempty"`
	Class      string                 `json:"class"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Vectors    map[string]interface{} `json:"vectors,omitempty"` // []float32 or [][]float32 (multi-vector) per name
	Tenant     string                 `json:"tenant,omitempty"`
}

// ObjectKey returns the unique key for an object
func ObjectKey(className, objectID string) string {
	return className + "/" + objectID
}

// Key returns the object's "Class/ID" key.
func (o *BatchObject) Key() string {
	return ObjectKey(o.Class, o.ID)
}

// EstimateSize approximates the wire size of the object in bytes.
// Computed once at enqueue time and cached by the buffer.
func (o *BatchObject) EstimateSize() int64 {
	size := int64(len(o.ID) + len(o.Class) + len(o.Tenant))
	if len(o.Properties) > 0 {
		if data, err := json.Marshal(o.Properties); err == nil {
			size += int64(len(data))
		}
	}
	for name, v := range o.Vectors {
		size += int64(len(name)) + 4*int64(vectorLen(v))
	}
	return size
}

// vectorLen returns the number of float components in a single or multi vector.
func vectorLen(v interface{}) int {
	switch vec := v.(type) {
	case []float32:
		return len(vec)
	case []float64:
		return len(vec)
	case [][]float32:
		n := 0
		for _, inner := range vec {
			n += len(inner)
		}
		return n
	case [][]float64:
		n := 0
		for _, inner := range vec {
			n += len(inner)
		}
		return n
	case []interface{}:
		n := 0
		for _, inner := range vec {
			if nested, ok := inner.([]interface{}); ok {
				n += len(nested)
			} else {
				n++
			}
		}
		return n
	default:
		return 0
	}
}
