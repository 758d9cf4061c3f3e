package core

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshcore/pkg/resource"
)

func TestNewManagerRejectsInvalidResource(t *testing.T) {
	_, err := NewManager(resource.Resource{}, &recordingTransport{})
	assert.Error(t, err)
	_, err = NewManager(noteResource(), nil)
	assert.Error(t, err)
}

func TestManagerBuildsDeclaredRequests(t *testing.T) {
	mgr, _ := newTestManager(t)
	for _, name := range resource.DefaultRequests {
		assert.NotNil(t, mgr.Request(name), name)
	}
	assert.Nil(t, mgr.Request(resource.RequestLoad))
	assert.Equal(t, "note.get", mgr.Request(resource.RequestGet).Name())
	assert.Equal(t, "id", mgr.IDField())
}

func TestManagerGetSynthesizesUnloadedInstance(t *testing.T) {
	mgr, tr := newTestManager(t)
	m := mgr.Get(3)
	assert.False(t, m.Loaded())
	assert.Equal(t, 3, m.ID())
	assert.Empty(t, m.CID())
	assert.Same(t, m, mgr.Get("3"))
	assert.Same(t, m, mgr.Get(int64(3)))
	assert.Equal(t, 0, tr.Len())
	assert.Equal(t, 1, mgr.Len())
}

func TestManagerInstantiateMergesIntoCanonicalInstance(t *testing.T) {
	mgr, _ := newTestManager(t)
	first := mgr.Instantiate(resource.Attributes{"id": 4, "name": "a"}, false)
	var changes eventLog
	first.On(EventChange, changes.handler)

	second := mgr.Instantiate(resource.Attributes{"id": 4, "name": "b", "rank": 2}, true)
	assert.Same(t, first, second)
	assert.Equal(t, "b", first.Get("name"))
	assert.Equal(t, 2, first.Get("rank"))
	assert.True(t, first.Loaded())
	assert.Equal(t, 1, changes.Len())
	assert.Equal(t, []string{"name", "rank"}, changes.At(0).Changed)
	assert.Equal(t, 1, mgr.Len())
}

func TestManagerConcurrentSetDuringInitIsNotified(t *testing.T) {
	started, release := make(chan struct{}), make(chan struct{})
	var once sync.Once
	mgr, _ := newTestManager(t, WithHooks(Hooks{
		Init: func(*Model) {
			once.Do(func() {
				close(started)
				<-release
			})
		},
	}))
	var global eventLog
	mgr.On(EventChange, global.handler)

	built := make(chan *Model, 1)
	go func() { built <- mgr.Get(1) }()
	<-started

	merged := make(chan *Model, 1)
	go func() { merged <- mgr.Instantiate(resource.Attributes{"id": 1, "name": "late"}, true) }()
	select {
	case <-merged:
		t.Fatal("instantiate returned before init finished")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	m := <-built
	require.Same(t, m, <-merged)
	assert.Equal(t, "late", m.Get("name"))
	require.Equal(t, 1, global.Len())
	assert.Equal(t, []string{"name"}, global.At(0).Changed)
}

func TestManagerInstantiateWithoutIdentity(t *testing.T) {
	mgr, _ := newTestManager(t)
	a := mgr.Instantiate(resource.Attributes{"name": "a"}, false)
	b := mgr.Instantiate(resource.Attributes{"name": "a"}, false)
	assert.NotSame(t, a, b)
	assert.NotEmpty(t, a.CID())
	assert.NotEqual(t, a.CID(), b.CID())
}

func TestManagerAssociateConflictPanics(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.Get(9)
	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, resource.IsInvariant(err))
		assert.Equal(t, 1, mgr.Len())
	}()
	NewModel(mgr, resource.Attributes{"id": 9})
	t.Fatal("expected identity conflict")
}

func TestManagerAssociateSameInstanceIsNoop(t *testing.T) {
	mgr, _ := newTestManager(t)
	m := mgr.Get(2)
	assert.NotPanics(t, func() { mgr.Associate(m) })
	assert.Equal(t, 1, mgr.Len())
}

func TestManagerDissociateIsIdempotent(t *testing.T) {
	mgr, _ := newTestManager(t)
	m := mgr.New(resource.Attributes{"name": "a"})
	_, ok := mgr.Lookup(m.CID())
	require.True(t, ok)
	mgr.Dissociate(m)
	mgr.Dissociate(m)
	_, ok = mgr.Lookup(m.CID())
	assert.False(t, ok)
	assert.False(t, mgr.Registered(m))
	assert.Equal(t, 0, mgr.Len())
}

func TestManagerNotifyOnlyForRegisteredModels(t *testing.T) {
	mgr, _ := newTestManager(t)
	var log eventLog
	mgr.On(EventChange, log.handler)

	m := mgr.Get(1)
	mgr.Notify(m, EventChange, []string{"name"})
	require.Equal(t, 1, log.Len())
	ev := log.At(0)
	assert.Same(t, mgr, ev.Manager)
	assert.Same(t, m, ev.Model)
	assert.Equal(t, EventChange, ev.Kind)

	mgr.Dissociate(m)
	mgr.Notify(m, EventChange, nil)
	assert.Equal(t, 1, log.Len())
}

func TestManagerLoadDispatch(t *testing.T) {
	mgr, tr := newTestManager(t)
	ctx := context.Background()

	byID := mgr.Load(ctx, 5)
	call := tr.Last(t)
	assert.Equal(t, http.MethodGet, call.Method)
	assert.Equal(t, "/note/5", call.URL)
	succeed(t, call, http.StatusOK, map[string]any{"id": 5, "name": "x"})
	v, err := byID.Result()
	require.NoError(t, err)
	m, ok := v.(*Model)
	require.True(t, ok)
	assert.Same(t, mgr.Get(5), m)
	assert.True(t, m.Loaded())

	byQuery := mgr.Load(ctx, resource.Query{"sort": []any{"name"}})
	call = tr.Last(t)
	assert.Equal(t, "/note", call.URL)
	succeed(t, call, http.StatusOK, map[string]any{"total": 1, "resources": []any{map[string]any{"id": 5, "name": "y"}}})
	v, err = byQuery.Result()
	require.NoError(t, err)
	c, ok := v.(*Collection)
	require.True(t, ok)
	assert.Same(t, m, c.Get(5))
	assert.Equal(t, "y", m.Get("name"))

	_, err = mgr.Load(ctx, nil).Result()
	assert.True(t, resource.IsInvariant(err))
}
