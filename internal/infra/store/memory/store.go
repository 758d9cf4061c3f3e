// Package memory implements the record store in process memory. The durable
// drivers embed it and snapshot its state after each committed transaction.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"

	"meshcore/internal/store/core"
	"meshcore/pkg/resource"
)

// Store keeps every resource bucket in a single Snapshot. Transactions run
// serially against a deep copy that replaces the state on success.
type Store struct {
	mu    sync.RWMutex
	state core.Snapshot
	newID func() string
}

var _ core.Store = (*Store)(nil)

type Option func(*Store)

// WithIDGenerator replaces the ULID generator used for inserted records.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		state: core.Snapshot{},
		newID: func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExportState returns a deep copy of the committed state.
func (s *Store) ExportState() core.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// ImportState replaces the committed state.
func (s *Store) ImportState(snapshot core.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snapshot == nil {
		snapshot = core.Snapshot{}
	}
	s.state = snapshot.Clone()
}

func (s *Store) RunInTransaction(ctx context.Context, fn func(core.Transaction) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &transaction{state: s.state.Clone(), newID: s.newID}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *Store) View(ctx context.Context, fn func(core.View) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(view{state: s.state})
}

func (s *Store) Close() error { return nil }

type view struct {
	state core.Snapshot
}

func (v view) Get(res, id string) (resource.Attributes, bool) {
	rec, ok := v.state[res][id]
	if !ok {
		return nil, false
	}
	return core.CloneRecord(rec), true
}

// List returns the bucket ordered by id.
func (v view) List(res string) []resource.Attributes {
	bucket := v.state[res]
	ids := make([]string, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]resource.Attributes, 0, len(ids))
	for _, id := range ids {
		out = append(out, core.CloneRecord(bucket[id]))
	}
	return out
}

type transaction struct {
	state core.Snapshot
	newID func() string
}

func (tx *transaction) Get(res, id string) (resource.Attributes, bool) {
	return view{state: tx.state}.Get(res, id)
}

func (tx *transaction) List(res string) []resource.Attributes {
	return view{state: tx.state}.List(res)
}

func (tx *transaction) bucket(res string) map[string]resource.Attributes {
	b, ok := tx.state[res]
	if !ok {
		b = make(map[string]resource.Attributes)
		tx.state[res] = b
	}
	return b
}

func (tx *transaction) Insert(res, idField string, rec resource.Attributes) (resource.Attributes, error) {
	rec = core.CloneRecord(rec)
	if rec == nil {
		rec = resource.Attributes{}
	}
	id, ok := resource.IdentityKey(rec[idField])
	if !ok {
		id = tx.newID()
		rec[idField] = id
	}
	b := tx.bucket(res)
	if _, exists := b[id]; exists {
		return nil, core.ErrConflict{Resource: res, ID: id}
	}
	b[id] = rec
	return core.CloneRecord(rec), nil
}

func (tx *transaction) Update(res, id string, patch resource.Attributes) (resource.Attributes, error) {
	rec, ok := tx.state[res][id]
	if !ok {
		return nil, core.ErrNotFound{Resource: res, ID: id}
	}
	for k, v := range patch {
		if v == nil {
			delete(rec, k)
			continue
		}
		rec[k] = core.CloneRecord(resource.Attributes{k: v})[k]
	}
	return core.CloneRecord(rec), nil
}

func (tx *transaction) Replace(res, id string, rec resource.Attributes) (resource.Attributes, bool, error) {
	b := tx.bucket(res)
	_, existed := b[id]
	b[id] = core.CloneRecord(rec)
	if b[id] == nil {
		b[id] = resource.Attributes{}
	}
	return core.CloneRecord(b[id]), !existed, nil
}

func (tx *transaction) Delete(res, id string) error {
	if _, ok := tx.state[res][id]; !ok {
		return core.ErrNotFound{Resource: res, ID: id}
	}
	delete(tx.state[res], id)
	return nil
}
