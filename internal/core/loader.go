package core

import (
	"context"

	"meshcore/pkg/resource"
)

// Loader fills a collection from the remote resource.
type Loader interface {
	Load(ctx context.Context, c *Collection, params resource.Query) *Future[*Collection]
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, c *Collection, params resource.Query) *Future[*Collection]

func (f LoaderFunc) Load(ctx context.Context, c *Collection, params resource.Query) *Future[*Collection] {
	return f(ctx, c, params)
}

// QueryLoader issues the resource's query request with the collection query
// as parameters, params merged on top. Returned resources are instantiated
// as loaded and placed at the requested offset; a reported total is recorded.
type QueryLoader struct{}

func (QueryLoader) Load(ctx context.Context, c *Collection, params resource.Query) *Future[*Collection] {
	mgr := c.Manager()
	req := mgr.Request(resource.RequestQuery)
	if req == nil {
		return Rejected[*Collection](invariant("load", "resource %s declares no query request", mgr.Name()))
	}
	payload := map[string]any(c.Query())
	if payload == nil {
		payload = map[string]any{}
	}
	for k, v := range params {
		payload[k] = v
	}
	offset := 0
	if n, ok := asInt(payload["offset"]); ok && n > 0 {
		offset = n
	}
	fut, err := req.Initiate(ctx, nil, payload)
	if err != nil {
		return Rejected[*Collection](err)
	}
	return Then(fut, func(resp Response) (*Collection, error) {
		body, err := responseAttributes(resp)
		if err != nil {
			return nil, err
		}
		if n, ok := asInt(body["total"]); ok {
			c.SetTotal(n)
		}
		raw, _ := body["resources"].([]any)
		if len(raw) == 0 {
			return c, nil
		}
		models := make([]*Model, 0, len(raw))
		for _, item := range raw {
			attrs, ok := item.(map[string]any)
			if !ok {
				continue
			}
			models = append(models, mgr.Instantiate(attrs, true))
		}
		c.Insert(offset, models...)
		return c, nil
	})
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
