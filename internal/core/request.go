package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"meshcore/pkg/resource"
)

// Response is the outcome of a successful request. Body holds the value
// decoded through the response schema registered for the status code, or the
// raw bytes when no schema is registered.
type Response struct {
	Body any
	Meta resource.Metadata
}

type pending struct {
	url     string
	payload any
	future  *Future[Response]
}

// Request issues one declared operation and deduplicates identical calls
// while they are in flight.
type Request struct {
	spec      resource.RequestSpec
	transport resource.Transport
	logger    *zap.Logger
	metrics   MetricsRecorder
	tracer    Tracer

	mu       sync.Mutex
	inflight map[uint64][]*pending
}

// NewRequest binds spec to a transport.
func NewRequest(spec resource.RequestSpec, transport resource.Transport, opts ...Option) *Request {
	o := buildOptions(opts)
	if spec.Mimetype == "" {
		spec.Mimetype = resource.MimeJSON
	}
	return &Request{
		spec:      spec,
		transport: transport,
		logger:    o.logger.With(zap.String("request", spec.Name)),
		metrics:   o.metrics,
		tracer:    o.tracer,
		inflight:  make(map[uint64][]*pending),
	}
}

func (r *Request) Name() string { return r.spec.Name }

func (r *Request) Spec() resource.RequestSpec { return r.spec }

// URL substitutes identity into the first path segment named "id". Without
// an identity the template is returned unchanged.
func (r *Request) URL(identity any) string {
	key, ok := resource.IdentityKey(identity)
	if !ok {
		return r.spec.Path
	}
	segments := strings.Split(r.spec.Path, "/")
	for i, s := range segments {
		if s == "id" {
			segments[i] = url.PathEscape(key)
			break
		}
	}
	return strings.Join(segments, "/")
}

// Extract applies the request schema's extraction rule to attrs.
func (r *Request) Extract(attrs resource.Attributes) resource.Attributes {
	if r.spec.Schema == nil {
		return attrs.Clone()
	}
	return r.spec.Schema.Extract(attrs)
}

// InFlight returns the number of pending distinct signatures.
func (r *Request) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, bucket := range r.inflight {
		n += len(bucket)
	}
	return n
}

// Initiate starts the operation for identity with payload. A call whose URL
// and payload are deeply equal to a pending one returns that call's future.
// Validation failures reject the future without reaching the transport;
// other serialisation failures are also returned as err.
func (r *Request) Initiate(ctx context.Context, identity any, payload any) (*Future[Response], error) {
	target := r.URL(identity)
	sig := signatureHash(target, payload)

	r.mu.Lock()
	for _, p := range r.inflight[sig] {
		if p.url == target && equalValues(p.payload, payload) {
			r.mu.Unlock()
			r.metrics.Deduplicated(r.spec.Name)
			r.logger.Debug("request deduplicated", zap.String("url", target))
			return p.future, nil
		}
	}
	p := &pending{url: target, payload: payload, future: NewFuture[Response]()}
	r.inflight[sig] = append(r.inflight[sig], p)
	r.mu.Unlock()

	body, err := r.encode(payload)
	if err != nil {
		r.release(sig, p)
		p.future.Reject(err)
		if resource.IsValidation(err) {
			r.logger.Debug("request payload rejected", zap.String("url", target), zap.Error(err))
			return p.future, nil
		}
		return p.future, err
	}

	started := time.Now()
	spanCtx, span := r.tracer.Start(ctx, r.spec.Name)
	var once sync.Once
	r.logger.Debug("request issued", zap.String("method", r.spec.Method), zap.String("url", target))
	r.transport.Do(spanCtx, resource.Call{
		Method:      r.spec.Method,
		URL:         target,
		ContentType: r.spec.Mimetype,
		Body:        body,
		OnSuccess: func(raw []byte, meta resource.Metadata) {
			once.Do(func() {
				r.release(sig, p)
				err := r.succeed(p.future, raw, meta)
				r.finish(ctx, span, target, meta, started, err)
			})
		},
		OnFailure: func(meta resource.Metadata) {
			once.Do(func() {
				r.release(sig, p)
				err := r.fail(p.future, meta)
				r.finish(ctx, span, target, meta, started, err)
			})
		},
	})
	return p.future, nil
}

func (r *Request) encode(payload any) ([]byte, error) {
	if isNilPayload(payload) {
		return nil, nil
	}
	switch v := payload.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	}
	if r.spec.Schema == nil {
		return resource.Encode(payload, r.spec.Mimetype)
	}
	return r.spec.Schema.Serialize(payload, r.spec.Mimetype)
}

func (r *Request) release(sig uint64, p *pending) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket := r.inflight[sig]
	for i, candidate := range bucket {
		if candidate == p {
			bucket = append(bucket[:i:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(r.inflight, sig)
		return
	}
	r.inflight[sig] = bucket
}

func (r *Request) succeed(f *Future[Response], raw []byte, meta resource.Metadata) error {
	schema := r.spec.Responses[meta.Status]
	if schema == nil {
		f.Resolve(Response{Body: raw, Meta: meta})
		return nil
	}
	mimetype := resource.BaseMimetype(meta.ContentType)
	if mimetype == "" {
		mimetype = resource.MimeJSON
	}
	parsed, err := schema.Unserialize(raw, mimetype)
	if err != nil {
		f.Reject(err)
		return err
	}
	f.Resolve(Response{Body: parsed, Meta: meta})
	return nil
}

func (r *Request) fail(f *Future[Response], meta resource.Metadata) error {
	var payload any
	if resource.IsJSON(meta.ContentType) && len(meta.Body) > 0 {
		if err := json.Unmarshal(meta.Body, &payload); err != nil {
			payload = nil
		}
	}
	err := &resource.Error{
		Kind:    resource.KindTransport,
		Op:      r.spec.Name,
		Status:  meta.Status,
		Message: http.StatusText(meta.Status),
		Payload: payload,
		Meta:    meta,
		Err:     meta.Err,
	}
	if v := resource.ParseValidationBody(r.spec.Name, payload); v != nil {
		err.Errors, err.Fields = v.Errors, v.Fields
	}
	f.Reject(err)
	return err
}

func (r *Request) finish(ctx context.Context, span TraceSpan, target string, meta resource.Metadata, started time.Time, err error) {
	elapsed := time.Since(started)
	span.End(err)
	r.metrics.Observe(ctx, r.spec.Name, err == nil, elapsed)
	if err != nil {
		r.logger.Debug("request failed", zap.String("url", target), zap.Int("status", meta.Status),
			zap.Duration("duration", elapsed), zap.Error(err))
		return
	}
	r.logger.Debug("request completed", zap.String("url", target), zap.Int("status", meta.Status),
		zap.Duration("duration", elapsed))
}
