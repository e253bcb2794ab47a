package util

import "github.com/google/uuid"

// NewTimeID returns a time-ordered UUIDv7 string. Annotation ids and versions
// and competency document versions all use this so that lexicographic order
// tracks creation order.
func NewTimeID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the entropy source does.
		return uuid.NewString()
	}
	return id.String()
}

// NewID returns a random id with an optional type prefix, e.g. "acc_3f9...".
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
