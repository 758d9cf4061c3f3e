package core

import (
	"context"
	"sync"

	"meshcore/pkg/resource"
)

// Collection is an ordered view over a subset of a manager's models.
// Positions not loaded yet are nil. The cache indexes every member under
// each identity it carries.
type Collection struct {
	manager *Manager
	events  Emitter

	mu     sync.Mutex
	models []*Model
	cache  map[string]*Model
	query  resource.Query
	total  *int

	cancels []func()
}

func newCollection(mgr *Manager, query resource.Query) *Collection {
	c := &Collection{
		manager: mgr,
		cache:   make(map[string]*Model),
		query:   query.Clone(),
	}
	c.cancels = append(c.cancels,
		mgr.On(EventChange, c.notify),
		mgr.On(EventDestroy, c.forget),
	)
	return c
}

func (c *Collection) Manager() *Manager { return c.manager }

// On subscribes to collection events.
func (c *Collection) On(kind EventKind, fn Handler) (cancel func()) {
	return c.events.On(kind, fn)
}

// Close detaches the collection from its manager.
func (c *Collection) Close() {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func idKey(k string) string { return "id:" + k }

func cidKey(k string) string { return "cid:" + k }

func cacheKeys(m *Model) []string {
	id, hasID, cid := m.identities()
	keys := make([]string, 0, 2)
	if hasID {
		keys = append(keys, idKey(id))
	}
	if cid != "" {
		keys = append(keys, cidKey(cid))
	}
	return keys
}

func (c *Collection) memberLocked(m *Model) bool {
	for _, k := range cacheKeys(m) {
		if c.cache[k] == m {
			return true
		}
	}
	return false
}

// Add appends models, or inserts them at the known total when the
// collection is only partially loaded.
func (c *Collection) Add(models ...*Model) {
	c.Insert(-1, models...)
}

// Insert places models at index. A negative index means the default
// position: the known total, else the current length. Members already present
// are skipped. Nil slots at the target range are filled rather than shifted.
// One update event is emitted per call.
func (c *Collection) Insert(index int, models ...*Model) {
	c.mu.Lock()
	batch := make([]*Model, 0, len(models))
	seen := make(map[*Model]struct{}, len(models))
	for _, m := range models {
		if m == nil {
			continue
		}
		if _, dup := seen[m]; dup || c.memberLocked(m) {
			continue
		}
		seen[m] = struct{}{}
		batch = append(batch, m)
	}
	if index < 0 {
		index = len(c.models)
		if c.total != nil && *c.total > index {
			index = *c.total
		}
	}
	if len(batch) > 0 {
		c.placeLocked(index, batch)
		for _, m := range batch {
			for _, k := range cacheKeys(m) {
				c.cache[k] = m
			}
		}
	}
	c.mu.Unlock()
	c.events.Emit(Event{Kind: EventUpdate, Manager: c.manager, Collection: c, Payload: batch})
}

func (c *Collection) placeLocked(index int, batch []*Model) {
	for len(c.models) < index {
		c.models = append(c.models, nil)
	}
	holes := true
	for i := range batch {
		if index+i >= len(c.models) || c.models[index+i] != nil {
			holes = false
			break
		}
	}
	if holes {
		copy(c.models[index:], batch)
		return
	}
	tail := append([]*Model(nil), c.models[index:]...)
	c.models = append(append(c.models[:index], batch...), tail...)
}

// Remove drops models from the view and emits one update event.
func (c *Collection) Remove(models ...*Model) {
	c.mu.Lock()
	removed := c.removeLocked(models)
	c.mu.Unlock()
	c.events.Emit(Event{Kind: EventUpdate, Manager: c.manager, Collection: c, Payload: removed})
}

func (c *Collection) removeLocked(models []*Model) []*Model {
	var removed []*Model
	for _, m := range models {
		if m == nil || !c.memberLocked(m) {
			continue
		}
		for k, v := range c.cache {
			if v == m {
				delete(c.cache, k)
			}
		}
		for i, candidate := range c.models {
			if candidate == m {
				c.models = append(c.models[:i], c.models[i+1:]...)
				break
			}
		}
		removed = append(removed, m)
	}
	return removed
}

// Reset clears membership, cache and total. A non-nil query replaces the
// collection's query.
func (c *Collection) Reset(query resource.Query) {
	c.mu.Lock()
	c.models = nil
	c.cache = make(map[string]*Model)
	c.total = nil
	if query != nil {
		c.query = query.Clone()
	}
	c.mu.Unlock()
	c.events.Emit(Event{Kind: EventUpdate, Manager: c.manager, Collection: c})
}

// Create constructs a model, saves it and adds it at index once persisted.
// A model whose save fails is dissociated and never joins the collection.
func (c *Collection) Create(ctx context.Context, attrs, params resource.Attributes, index int) *Future[*Model] {
	m := c.manager.New(attrs)
	out := NewFuture[*Model]()
	m.Save(ctx, params).OnComplete(func(saved *Model, err error) {
		if err != nil {
			c.manager.Dissociate(m)
			out.Reject(err)
			return
		}
		c.Insert(index, saved)
		out.Resolve(saved)
	})
	return out
}

// notify relays a manager change for a member as a collection change.
func (c *Collection) notify(ev Event) {
	m := ev.Model
	if m == nil {
		return
	}
	c.mu.Lock()
	member := c.memberLocked(m)
	if member {
		// a member saved since it was added is still cached under its cid only

		for _, k := range cacheKeys(m) {
			c.cache[k] = m
		}
	}
	c.mu.Unlock()
	if !member {
		return
	}
	c.events.Emit(Event{Kind: EventChange, Manager: c.manager, Collection: c, Model: m, Changed: ev.Changed})
}

func (c *Collection) forget(ev Event) {
	if ev.Model == nil {
		return
	}
	c.mu.Lock()
	member := false
	for _, v := range c.cache {
		if v == ev.Model {
			member = true
			break
		}
	}
	c.mu.Unlock()
	if member {
		c.Remove(ev.Model)
	}
}

// Get returns the member with identity, or nil. It never synthesises.
func (c *Collection) Get(identity any) *Model {
	key, ok := resource.IdentityKey(identity)
	if !ok {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.cache[idKey(key)]; ok {
		return m
	}
	return c.cache[cidKey(key)]
}

// Contains reports whether m is a member.
func (c *Collection) Contains(m *Model) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.memberLocked(m)
}

// Models returns the ordered members; unloaded positions are nil.
func (c *Collection) Models() []*Model {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Model(nil), c.models...)
}

func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.models)
}

// Total returns the server-reported item count once known.
func (c *Collection) Total() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.total == nil {
		return 0, false
	}
	return *c.total, true
}

// SetTotal records the item count reported by a load.
func (c *Collection) SetTotal(n int) {
	c.mu.Lock()
	c.total = &n
	c.mu.Unlock()
}

func (c *Collection) Query() resource.Query {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query.Clone()
}

// Load fetches a page through the manager's loader.
func (c *Collection) Load(ctx context.Context, params resource.Query) *Future[*Collection] {
	return c.manager.opts.loader.Load(ctx, c, params)
}
