package core

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"meshcore/pkg/resource"
)

// Manager is the identity map for one resource type. It owns the canonical
// model per identity, builds the resource's requests and relays change
// broadcasts to collections.
type Manager struct {
	resource  resource.Resource
	idField   string
	transport resource.Transport
	requests  map[string]*Request
	opts      options
	logger    *zap.Logger
	events    Emitter

	mu    sync.Mutex
	byID  map[string]*Model
	byCID map[string]*Model
}

// NewManager builds a manager for res using transport for every request.
func NewManager(res resource.Resource, transport resource.Transport, opts ...Option) (*Manager, error) {
	res = res.Normalize()
	if err := res.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, fmt.Errorf("manager %s: transport required", res.Name)
	}
	o := buildOptions(opts)
	if o.loader == nil {
		o.loader = QueryLoader{}
	}
	m := &Manager{
		resource:  res,
		idField:   res.IDField,
		transport: transport,
		requests:  make(map[string]*Request),
		opts:      o,
		logger:    o.logger.With(zap.String("resource", res.Name)),
		byID:      make(map[string]*Model),
		byCID:     make(map[string]*Model),
	}
	reqOpts := []Option{WithLogger(m.logger), WithMetrics(o.metrics), WithTracer(o.tracer)}
	for name, spec := range resource.StandardRequests(res) {
		spec.Name = res.Name + "." + name
		m.requests[name] = NewRequest(spec, transport, reqOpts...)
	}
	return m, nil
}

func (mgr *Manager) Name() string { return mgr.resource.Name }

func (mgr *Manager) Resource() resource.Resource { return mgr.resource }

// IDField is the attribute that carries the persistent identity.
func (mgr *Manager) IDField() string { return mgr.idField }

// Request returns the named request, or nil when the resource does not declare it.
func (mgr *Manager) Request(name string) *Request { return mgr.requests[name] }

// On subscribes to manager broadcasts.
func (mgr *Manager) On(kind EventKind, fn Handler) (cancel func()) {
	return mgr.events.On(kind, fn)
}

// Len returns the number of registered models.
func (mgr *Manager) Len() int {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	seen := make(map[*Model]struct{}, len(mgr.byID)+len(mgr.byCID))
	for _, m := range mgr.byID {
		seen[m] = struct{}{}
	}
	for _, m := range mgr.byCID {
		seen[m] = struct{}{}
	}
	return len(seen)
}

// Lookup returns the canonical instance for identity without synthesising one.
// An instance still running its Init hook is returned once the hook is done.
func (mgr *Manager) Lookup(identity any) (*Model, bool) {
	key, ok := resource.IdentityKey(identity)
	if !ok {
		return nil, false
	}
	mgr.mu.Lock()
	m, ok := mgr.byID[key]
	if !ok {
		m, ok = mgr.byCID[key]
	}
	mgr.mu.Unlock()
	if ok {
		m.awaitReady()
	}
	return m, ok
}

// New constructs and registers a model from attrs.
func (mgr *Manager) New(attrs resource.Attributes) *Model {
	return NewModel(mgr, attrs)
}

// Get returns the canonical instance for identity, synthesising an unloaded
// one when none is registered. It never touches the network.
func (mgr *Manager) Get(identity any) *Model {
	if m, ok := mgr.Lookup(identity); ok {
		return m
	}
	candidate := allocModel(mgr, resource.Attributes{mgr.idField: identity})
	m, created := mgr.adopt(candidate)
	if created {
		m.runInit()
	} else {
		m.awaitReady()
	}
	return m
}

// Instantiate merges attrs into the canonical instance when their persistent
// identity is registered and constructs a new instance otherwise.
func (mgr *Manager) Instantiate(attrs resource.Attributes, loaded bool) *Model {
	if existing, ok := mgr.Lookup(attrs[mgr.idField]); ok {
		existing.Set(attrs)
		if loaded {
			existing.markLoaded()
		}
		return existing
	}
	candidate := allocModel(mgr, attrs)
	m, created := mgr.adopt(candidate)
	if created {
		m.runInit()
	} else {
		m.awaitReady()
		m.Set(attrs)
	}
	if loaded {
		m.markLoaded()
	}
	return m
}

// adopt registers candidate unless another goroutine bound its persistent
// identity first, in which case the winner is returned.
func (mgr *Manager) adopt(candidate *Model) (*Model, bool) {
	id, hasID, cid := candidate.identities()
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if hasID {
		if winner, ok := mgr.byID[id]; ok {
			return winner, false
		}
		mgr.byID[id] = candidate
	}
	if cid != "" {
		mgr.byCID[cid] = candidate
	}
	return candidate, true
}

// Associate binds m under its persistent and temporary identities. Binding
// an identity already held by a different instance is a programming error
// and panics with a KindInvariant *resource.Error.
func (mgr *Manager) Associate(m *Model) {
	id, hasID, cid := m.identities()
	if hasID {
		mgr.bind(m, id)
	}
	if cid == "" {
		return
	}
	mgr.mu.Lock()
	if other, ok := mgr.byCID[cid]; ok && other != m {
		mgr.mu.Unlock()
		mgr.conflict(cid)
	}
	mgr.byCID[cid] = m
	mgr.mu.Unlock()
}

func (mgr *Manager) bind(m *Model, id string) {
	mgr.mu.Lock()
	if other, ok := mgr.byID[id]; ok && other != m {
		mgr.mu.Unlock()
		mgr.conflict(id)
	}
	mgr.byID[id] = m
	mgr.mu.Unlock()
}

func (mgr *Manager) conflict(identity string) {
	err := invariant("associate", "resource %s: identity %s is bound to another instance", mgr.resource.Name, identity)
	mgr.logger.Error("identity conflict", zap.String("identity", identity))
	panic(err)
}

// Dissociate removes every binding of m. It is idempotent.
func (mgr *Manager) Dissociate(m *Model) {
	id, hasID, cid := m.identities()
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if hasID && mgr.byID[id] == m {
		delete(mgr.byID, id)
	}
	if cid != "" && mgr.byCID[cid] == m {
		delete(mgr.byCID, cid)
	}
	// a model may have been bound under an identity it no longer carries
	for key, bound := range mgr.byID {
		if bound == m {
			delete(mgr.byID, key)
		}
	}
}

// Registered reports whether m is the canonical instance for one of its identities.
func (mgr *Manager) Registered(m *Model) bool {
	id, hasID, cid := m.identities()
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if hasID && mgr.byID[id] == m {
		return true
	}
	return cid != "" && mgr.byCID[cid] == m
}

// Notify broadcasts one change event for m when m is registered.
func (mgr *Manager) Notify(m *Model, cause EventKind, changed []string) {
	if !mgr.Registered(m) {
		return
	}
	mgr.events.Emit(Event{Kind: EventChange, Manager: mgr, Model: m, Cause: cause, Changed: changed})
}

func (mgr *Manager) broadcastDestroy(m *Model, payload any) {
	mgr.events.Emit(Event{Kind: EventDestroy, Manager: mgr, Model: m, Cause: EventDestroy, Payload: payload})
}

// NewCollection creates a collection view over this manager.
func (mgr *Manager) NewCollection(query resource.Query) *Collection {
	return newCollection(mgr, query)
}

// Load dispatches on target: a resource.Query or map loads a new collection
// and resolves with *Collection; anything else is treated as an identity and
// resolves with the refreshed *Model.
func (mgr *Manager) Load(ctx context.Context, target any) *Future[any] {
	switch t := target.(type) {
	case resource.Query:
		return widen(mgr.LoadCollection(ctx, t, nil))
	case map[string]any:
		return widen(mgr.LoadCollection(ctx, resource.Query(t), nil))
	default:
		if _, ok := resource.IdentityKey(target); !ok {
			return Rejected[any](invariant("load", "resource %s: empty load target", mgr.resource.Name))
		}
		return widen(mgr.LoadModel(ctx, target))
	}
}

// LoadModel refreshes the entity with identity.
func (mgr *Manager) LoadModel(ctx context.Context, identity any) *Future[*Model] {
	return mgr.Get(identity).Refresh(ctx, nil, false)
}

// LoadCollection creates a collection for query and loads it with params.
func (mgr *Manager) LoadCollection(ctx context.Context, query resource.Query, params resource.Query) *Future[*Collection] {
	return mgr.NewCollection(query).Load(ctx, params)
}

func widen[T any](f *Future[T]) *Future[any] {
	return Then(f, func(v T) (any, error) { return v, nil })
}
