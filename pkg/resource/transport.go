package resource

import (
	"context"
	"net/http"
)

// Metadata describes how a transport call completed.
type Metadata struct {
	Status      int
	ContentType string
	Header      http.Header
	// Body is the raw response body; failure continuations read error payloads from it.
	Body []byte
	// Err is set when the call never produced a response.
	Err error
}

// Call is a single transport invocation. Exactly one of OnSuccess or OnFailure
// is invoked, either before Do returns or later from another goroutine.
type Call struct {
	Method      string
	URL         string
	ContentType string
	Body        []byte
	OnSuccess   func(body []byte, meta Metadata)
	OnFailure   func(meta Metadata)
}

// Transport issues calls against a remote resource server.
type Transport interface {
	Do(ctx context.Context, call Call)
}

// TransportFunc adapts a plain function to Transport.
type TransportFunc func(ctx context.Context, call Call)

func (f TransportFunc) Do(ctx context.Context, call Call) { f(ctx, call) }
