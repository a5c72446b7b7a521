package model

import "time"

// Document is the stored form of a versioned document.
// Value holds the JSON encoding of the entity; Rank is the numeric field the
// store orders by for ranked range queries.
type Document struct {
	Collection string
	ID         string
	Version    int64
	Value      []byte
	Rank       float64
	UpdatedAt  time.Time
}

// Clone returns a deep copy so callers never share the stored byte slice
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Value = append([]byte(nil), d.Value...)
	return &c
}

// VersionedDocument is a decoded document paired with the version it was read at.
// Version 0 means the document does not exist yet.
type VersionedDocument[T any] struct {
	ID      string
	Version int64
	Value   T
}
