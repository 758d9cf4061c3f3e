package core

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"meshcore/pkg/resource"
)

// recordingTransport holds calls until the test completes them.
type recordingTransport struct {
	mu    sync.Mutex
	calls []resource.Call
}

func (r *recordingTransport) Do(_ context.Context, call resource.Call) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *recordingTransport) Calls() []resource.Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]resource.Call(nil), r.calls...)
}

func (r *recordingTransport) Len() int { return len(r.Calls()) }

func (r *recordingTransport) Last(t *testing.T) resource.Call {
	t.Helper()
	calls := r.Calls()
	require.NotEmpty(t, calls, "no transport calls recorded")
	return calls[len(calls)-1]
}

func jsonMeta(status int) resource.Metadata {
	return resource.Metadata{Status: status, ContentType: resource.MimeJSON}
}

func succeed(t *testing.T, call resource.Call, status int, body any) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	call.OnSuccess(data, jsonMeta(status))
}

func fail(t *testing.T, call resource.Call, status int, body any) {
	t.Helper()
	meta := jsonMeta(status)
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		meta.Body = data
	}
	call.OnFailure(meta)
}

func decodeBody(t *testing.T, call resource.Call) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(call.Body, &out))
	return out
}

func noteResource() resource.Resource {
	return resource.Resource{
		Name: "note",
		Fields: []resource.Field{
			{Name: "id", Type: resource.TypeInteger, Identifier: true, ReadOnly: true},
			{Name: "name", Type: resource.TypeText, Required: true, Sortable: true, Operators: []string{"equal", "icontains"}},
			{Name: "rank", Type: resource.TypeInteger},
			{Name: "tags", Type: resource.TypeSequence, Item: &resource.Field{Name: "tag", Type: resource.TypeText}},
		},
	}
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *recordingTransport) {
	t.Helper()
	tr := &recordingTransport{}
	mgr, err := NewManager(noteResource(), tr, opts...)
	require.NoError(t, err)
	return mgr, tr
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) handler(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func (l *eventLog) At(i int) Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[i]
}
