// Package core holds the record store contract shared by the store facade and
// the drivers under internal/infra/store.
package core

import (
	"context"
	"fmt"
	"sort"

	"meshcore/pkg/resource"
)

// Snapshot is the full store state: resource name to record id to record.
type Snapshot map[string]map[string]resource.Attributes

// View reads committed or in-flight state. Returned records are copies.
type View interface {
	Get(res, id string) (resource.Attributes, bool)
	List(res string) []resource.Attributes
}

// Transaction mutates state; changes become visible only if the enclosing
// function returns nil.
type Transaction interface {
	View
	// Insert stores rec under idField, assigning a fresh id when rec has none.
	Insert(res, idField string, rec resource.Attributes) (resource.Attributes, error)
	// Update merges patch into the record; nil values remove attributes.
	Update(res, id string, patch resource.Attributes) (resource.Attributes, error)
	// Replace stores rec as the complete record, creating it when absent.
	Replace(res, id string, rec resource.Attributes) (resource.Attributes, bool, error)
	Delete(res, id string) error
}

// Store runs transactions over resource records.
type Store interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) error
	View(ctx context.Context, fn func(View) error) error
	Close() error
}

// ErrNotFound reports a missing record.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ErrConflict reports an insert over an existing id.
type ErrConflict struct {
	Resource string
	ID       string
}

func (e ErrConflict) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Resource, e.ID)
}

// Clone deep-copies a snapshot.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for res, records := range s {
		bucket := make(map[string]resource.Attributes, len(records))
		for id, rec := range records {
			bucket[id] = CloneRecord(rec)
		}
		out[res] = bucket
	}
	return out
}

// Buckets returns the resource names in ascending order.
func (s Snapshot) Buckets() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CloneRecord deep-copies nested maps and slices.
func CloneRecord(rec resource.Attributes) resource.Attributes {
	if rec == nil {
		return nil
	}
	out := make(resource.Attributes, len(rec))
	for k, v := range rec {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(CloneRecord(t))
	case resource.Attributes:
		return CloneRecord(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
