package core

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"sync"

	"github.com/google/uuid"

	"meshcore/pkg/resource"
)

func newCID() string { return "c" + uuid.NewString() }

// SetOption adjusts a single Set call.
type SetOption func(*setConfig)

type setConfig struct {
	silent bool
}

// Silent suppresses change events; the Changed hook still runs.
func Silent() SetOption { return func(c *setConfig) { c.silent = true } }

// Model is the canonical in-memory instance of one remote entity.
type Model struct {
	manager *Manager
	events  Emitter

	mu     sync.Mutex
	attrs  resource.Attributes
	cid    string
	loaded bool
	// depth counts active Set calls; only the outermost one notifies.
	depth      int
	pending    []string
	pendingSet map[string]struct{}
	// ready is closed once construction, including the Init hook, is done.
	ready chan struct{}
}

// NewModel constructs a model owned by mgr, applies attrs without emitting
// events and registers it. Registration panics when the identity is already
// bound to another instance.
func NewModel(mgr *Manager, attrs resource.Attributes) *Model {
	m := allocModel(mgr, attrs)
	mgr.Associate(m)
	m.runInit()
	return m
}

func allocModel(mgr *Manager, attrs resource.Attributes) *Model {
	m := &Model{manager: mgr, attrs: make(resource.Attributes, len(attrs)), ready: make(chan struct{})}
	m.depth = 1
	m.applyLocked(attrs)
	if _, ok := resource.IdentityKey(m.attrs[mgr.idField]); !ok {
		m.cid = mgr.opts.newCID()
	}
	return m
}

// runInit completes construction. Sets issued by the Init hook are applied
// without notification.
func (m *Model) runInit() {
	if init := m.manager.opts.hooks.Init; init != nil {
		func() {
			defer m.endConstruction()
			init(m)
		}()
		return
	}
	m.endConstruction()
}

func (m *Model) endConstruction() {
	m.mu.Lock()
	m.pending, m.pendingSet = nil, nil
	m.depth = 0
	m.mu.Unlock()
	close(m.ready)
}

// awaitReady blocks until construction has finished.
func (m *Model) awaitReady() { <-m.ready }

func (m *Model) Manager() *Manager { return m.manager }

// ID returns the persistent identity, or nil.
func (m *Model) ID() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attrs[m.manager.idField]
}

// CID returns the temporary identity; empty for models constructed with an id.
func (m *Model) CID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cid
}

// IdentityKey returns the normalised persistent identity.
func (m *Model) IdentityKey() (string, bool) {
	return resource.IdentityKey(m.ID())
}

func (m *Model) identities() (id string, hasID bool, cid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, hasID = resource.IdentityKey(m.attrs[m.manager.idField])
	return id, hasID, m.cid
}

func (m *Model) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

func (m *Model) markLoaded() {
	m.mu.Lock()
	m.loaded = true
	m.mu.Unlock()
}

// Get returns the named attribute.
func (m *Model) Get(name string) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attrs[name]
}

// Attributes returns a shallow copy of the current attributes.
func (m *Model) Attributes() resource.Attributes {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attrs.Clone()
}

// Has reports whether the attribute is present and non-nil. A typed nil
// slice, map or pointer counts as absent.
func (m *Model) Has(name string) bool {
	return !isNilPayload(m.Get(name))
}

// Display renders an attribute as HTML-escaped text, or fallback when the
// attribute is absent.
func (m *Model) Display(name, fallback string) string {
	v := m.Get(name)
	if isNilPayload(v) {
		return html.EscapeString(fallback)
	}
	return html.EscapeString(fmt.Sprint(v))
}

// On subscribes to events emitted by this model.
func (m *Model) On(kind EventKind, fn Handler) (cancel func()) {
	return m.events.On(kind, fn)
}

// SetAttr sets a single attribute.
func (m *Model) SetAttr(name string, value any, opts ...SetOption) []string {
	return m.Set(resource.Attributes{name: value}, opts...)
}

// Set applies attrs and returns the attributes whose value changed. Values
// deeply equal to the current one are neither marked nor reassigned. A Set
// issued while another is applying, including from a hook, only contributes
// to the pending change set; the outermost call runs the Changed hook once,
// emits one change event covering the union and asks the manager to
// broadcast it.
func (m *Model) Set(attrs resource.Attributes, opts ...SetOption) []string {
	var cfg setConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	m.mu.Lock()
	m.depth++
	own := m.applyLocked(attrs)
	if m.depth > 1 {
		m.depth--
		m.mu.Unlock()
		return own
	}
	snapshot := append([]string(nil), m.pending...)
	m.mu.Unlock()

	var changed []string
	func() {
		defer func() {
			m.mu.Lock()
			changed = m.pending
			m.pending, m.pendingSet = nil, nil
			m.depth--
			m.mu.Unlock()
		}()
		if hook := m.manager.opts.hooks.Changed; hook != nil && len(snapshot) > 0 {
			hook(m, snapshot)
		}
	}()

	if len(changed) == 0 || cfg.silent {
		return changed
	}
	m.events.Emit(Event{Kind: EventChange, Manager: m.manager, Model: m, Changed: changed})
	m.manager.Notify(m, EventChange, changed)
	return changed
}

func (m *Model) applyLocked(attrs resource.Attributes) []string {
	if len(attrs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var changed []string
	for _, k := range keys {
		v := attrs[k]
		cur, present := m.attrs[k]
		if !present && v == nil {
			continue
		}
		if present && equalValues(cur, v) {
			continue
		}
		m.attrs[k] = v
		changed = append(changed, k)
		if m.pendingSet == nil {
			m.pendingSet = make(map[string]struct{})
		}
		if _, seen := m.pendingSet[k]; !seen {
			m.pendingSet[k] = struct{}{}
			m.pending = append(m.pending, k)
		}
	}
	return changed
}

// Refresh fetches the entity. Without a persistent identity, or when
// conditional is set and the model is already loaded, it resolves
// immediately without a network call.
func (m *Model) Refresh(ctx context.Context, params resource.Attributes, conditional bool) *Future[*Model] {
	id, hasID, _ := m.identities()
	if !hasID {
		return Resolved(m)
	}
	if conditional && m.Loaded() {
		return Resolved(m)
	}
	req := m.manager.Request(resource.RequestGet)
	if req == nil {
		return Rejected[*Model](invariant("refresh", "resource %s declares no get request", m.manager.Name()))
	}
	var payload any
	if len(params) > 0 {
		payload = params
	}
	fut, err := req.Initiate(ctx, id, payload)
	if err != nil {
		return Rejected[*Model](err)
	}
	return Then(fut, func(resp Response) (*Model, error) {
		attrs, err := responseAttributes(resp)
		if err != nil {
			return nil, err
		}
		m.Set(attrs)
		m.markLoaded()
		return m, nil
	})
}

// Save creates the entity when it has no persistent identity and updates it
// otherwise. params are merged over the extracted attributes.
func (m *Model) Save(ctx context.Context, params resource.Attributes) *Future[*Model] {
	id, hasID, _ := m.identities()
	name := resource.RequestUpdate
	var identity any
	if hasID {
		identity = id
	} else {
		name = resource.RequestCreate
	}
	req := m.manager.Request(name)
	if req == nil {
		return Rejected[*Model](invariant("save", "resource %s declares no %s request", m.manager.Name(), name))
	}
	payload := req.Extract(m.Attributes()).Merge(params)
	fut, err := req.Initiate(ctx, identity, payload)
	if err != nil {
		return Rejected[*Model](err)
	}
	return Then(fut, func(resp Response) (*Model, error) {
		attrs, err := responseAttributes(resp)
		if err != nil {
			return nil, err
		}
		if !hasID {
			if key, ok := resource.IdentityKey(attrs[m.manager.idField]); ok {
				m.manager.bind(m, key)
			}
		}
		m.Set(attrs)
		m.markLoaded()
		return m, nil
	})
}

// Destroy deletes the entity. A model without a persistent identity is
// dissociated locally without a network call.
func (m *Model) Destroy(ctx context.Context, params resource.Attributes) *Future[*Model] {
	id, hasID, _ := m.identities()
	if !hasID {
		m.destroyed(nil)
		return Resolved(m)
	}
	req := m.manager.Request(resource.RequestDelete)
	if req == nil {
		return Rejected[*Model](invariant("destroy", "resource %s declares no delete request", m.manager.Name()))
	}
	var payload any
	if len(params) > 0 {
		payload = params
	}
	fut, err := req.Initiate(ctx, id, payload)
	if err != nil {
		return Rejected[*Model](err)
	}
	return Then(fut, func(resp Response) (*Model, error) {
		m.destroyed(resp.Body)
		return m, nil
	})
}

func (m *Model) destroyed(payload any) {
	m.manager.Dissociate(m)
	m.events.Emit(Event{Kind: EventDestroy, Manager: m.manager, Model: m, Payload: payload})
	m.manager.broadcastDestroy(m, payload)
}

// responseAttributes converts a response body into attributes. Raw JSON
// bodies are decoded; empty bodies yield no attributes.
func responseAttributes(resp Response) (resource.Attributes, error) {
	switch body := resp.Body.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return resource.Attributes(body), nil
	case resource.Attributes:
		return body, nil
	case []byte:
		if len(body) == 0 {
			return nil, nil
		}
		var decoded map[string]any
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, &resource.Error{Kind: resource.KindValidation, Op: "decode response", Err: err, Meta: resp.Meta}
		}
		if normalized, ok := resource.Normalize(decoded).(map[string]any); ok {
			return normalized, nil
		}
		return decoded, nil
	default:
		return nil, &resource.Error{Kind: resource.KindValidation, Op: "decode response",
			Message: fmt.Sprintf("unexpected body %T", resp.Body), Meta: resp.Meta}
	}
}
