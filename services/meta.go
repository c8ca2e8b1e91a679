// Package services provides typed domain services over a storekit.Manager.
// Each service owns one collection, stored as a JSON array of entities under
// the collection key, and funnels create/update/delete activity through a
// best-effort audit dispatcher.
package services

import "fmt"

// Meta is the bookkeeping every entity embeds. Timestamps are RFC3339
// strings so records compare and merge cleanly across backends.
type Meta struct {
	ID        string `json:"id"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// Entity is the contract a stored record satisfies.
type Entity interface {
	EntityMeta() *Meta
	Validate() error
}

func requireNonEmpty(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func requireOneOf(field, value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %v, got %q", field, allowed, value)
}
