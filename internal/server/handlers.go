package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"meshcore/internal/store"
	"meshcore/pkg/resource"
)

const maxBody = 8 << 20

type handler struct {
	server *Server
	res    resource.Resource
	specs  map[string]resource.RequestSpec
}

// payload decodes and validates the request data against the named request
// schema: the query string for GET, the body otherwise.
func (h *handler) payload(r *http.Request, name string) (any, error) {
	spec := h.specs[name]
	if spec.Schema == nil {
		return nil, nil
	}
	var raw []byte
	mimetype := resource.MimeForm
	if r.Method == http.MethodGet || r.Method == http.MethodDelete {
		raw = []byte(r.URL.RawQuery)
	} else {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err != nil {
			return nil, badRequest(err)
		}
		raw = body
		mimetype = resource.BaseMimetype(r.Header.Get("Content-Type"))
		if mimetype == "" {
			mimetype = resource.MimeJSON
		}
	}
	value, err := spec.Schema.Unserialize(raw, mimetype)
	if err != nil {
		var rerr *resource.Error
		if errors.As(err, &rerr) {
			return nil, err
		}
		return nil, badRequest(err)
	}
	return value, nil
}

func (h *handler) structure(r *http.Request, name string) (map[string]any, error) {
	value, err := h.payload(r, name)
	if err != nil {
		return nil, err
	}
	m, _ := value.(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

type requestError struct {
	status int
	err    error
}

func (e *requestError) Error() string { return e.err.Error() }

func (e *requestError) Unwrap() error { return e.err }

func badRequest(err error) error { return &requestError{status: http.StatusBadRequest, err: err} }

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		rerr     *resource.Error
		reqErr   *requestError
		missing  store.ErrNotFound
		conflict store.ErrConflict
	)
	switch {
	case errors.As(err, &rerr) && rerr.Kind == resource.KindValidation:
		writeJSON(w, resource.StatusInvalid, rerr.ValidationBody())
	case errors.As(err, &reqErr):
		writeJSON(w, reqErr.status, map[string]any{"errors": []string{reqErr.Error()}})
	case errors.As(err, &missing):
		writeJSON(w, resource.StatusNotFound, map[string]any{"errors": []string{missing.Error()}})
	case errors.As(err, &conflict):
		writeJSON(w, resource.StatusConflict, map[string]any{"errors": []string{conflict.Error()}})
	default:
		h.server.logger.Error("request failed",
			zap.String("resource", h.res.Name),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, resource.StatusServerError, map[string]any{"errors": []string{"internal error"}})
	}
}

// identity parses the path id. Integer identifiers are converted so stored
// records keep the declared type.
func (h *handler) identity(raw string) (key string, value any, err error) {
	id := h.res.Identifier()
	if id.Type == resource.TypeInteger {
		n, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			return "", nil, badRequest(fmt.Errorf("invalid %s %q", id.Name, raw))
		}
		return strconv.FormatInt(n, 10), n, nil
	}
	return raw, raw, nil
}

func (h *handler) pathIdentity(r *http.Request) (string, any, error) {
	return h.identity(chi.URLParam(r, "id"))
}

// nextIdentity returns an explicit id for integer identifiers; text
// identifiers are left to the store.
func (h *handler) nextIdentity(tx store.Transaction) any {
	id := h.res.Identifier()
	if id.Type != resource.TypeInteger {
		return nil
	}
	var highest int64
	for _, rec := range tx.List(h.res.Name) {
		if n, ok := rec[h.res.IDField].(int64); ok && n > highest {
			highest = n
		}
	}
	return highest + 1
}

// echo builds the identifier response of a mutating request.
func (h *handler) echo(rec resource.Attributes, request string) map[string]any {
	out := map[string]any{h.res.IDField: rec[h.res.IDField]}
	for _, f := range h.res.Fields {
		if !f.Identifier && f.Returns(request) {
			if v, ok := rec[f.Name]; ok {
				out[f.Name] = v
			}
		}
	}
	return out
}

func (h *handler) query(w http.ResponseWriter, r *http.Request) {
	params, err := h.structure(r, resource.RequestQuery)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var records []resource.Attributes
	err = h.server.store.View(r.Context(), func(v store.View) error {
		records = v.List(h.res.Name)
		return nil
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filters, _ := params["query"].(map[string]any)
	records = filterRecords(records, filters)
	if total, _ := params["total"].(bool); total {
		writeJSON(w, resource.StatusOK, map[string]any{"total": len(records)})
		return
	}
	sortRecords(records, stringsOf(params["sort"]))
	count := len(records)
	records = page(records, params["offset"], params["limit"])
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		out = append(out, project(h.res, rec, params))
	}
	writeJSON(w, resource.StatusOK, map[string]any{"total": count, "resources": out})
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	key, _, err := h.pathIdentity(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	params, err := h.structure(r, resource.RequestGet)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var rec resource.Attributes
	err = h.server.store.View(r.Context(), func(v store.View) error {
		found, ok := v.Get(h.res.Name, key)
		if !ok {
			return store.ErrNotFound{Resource: h.res.Name, ID: key}
		}
		rec = found
		return nil
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, resource.StatusOK, project(h.res, rec, params))
}

func (h *handler) create(w http.ResponseWriter, r *http.Request) {
	attrs, err := h.structure(r, resource.RequestCreate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var created resource.Attributes
	err = h.server.store.RunInTransaction(r.Context(), func(tx store.Transaction) error {
		rec := resource.Attributes(attrs)
		if _, ok := resource.IdentityKey(rec[h.res.IDField]); !ok {
			if next := h.nextIdentity(tx); next != nil {
				rec[h.res.IDField] = next
			}
		}
		out, err := tx.Insert(h.res.Name, h.res.IDField, rec)
		created = out
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.server.logger.Debug("created", zap.String("resource", h.res.Name), zap.Any("id", created[h.res.IDField]))
	writeJSON(w, resource.StatusOK, h.echo(created, resource.RequestCreate))
}

func (h *handler) update(w http.ResponseWriter, r *http.Request) {
	key, _, err := h.pathIdentity(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	attrs, err := h.structure(r, resource.RequestUpdate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var updated resource.Attributes
	err = h.server.store.RunInTransaction(r.Context(), func(tx store.Transaction) error {
		out, err := tx.Update(h.res.Name, key, attrs)
		updated = out
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, resource.StatusOK, h.echo(updated, resource.RequestUpdate))
}

func (h *handler) put(w http.ResponseWriter, r *http.Request) {
	key, value, err := h.pathIdentity(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	attrs, err := h.structure(r, resource.RequestPut)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	attrs[h.res.IDField] = value
	var stored resource.Attributes
	err = h.server.store.RunInTransaction(r.Context(), func(tx store.Transaction) error {
		out, _, err := tx.Replace(h.res.Name, key, attrs)
		stored = out
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, resource.StatusOK, h.echo(stored, resource.RequestPut))
}

func (h *handler) remove(w http.ResponseWriter, r *http.Request) {
	key, _, err := h.pathIdentity(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var removed resource.Attributes
	err = h.server.store.RunInTransaction(r.Context(), func(tx store.Transaction) error {
		rec, ok := tx.Get(h.res.Name, key)
		if !ok {
			return store.ErrNotFound{Resource: h.res.Name, ID: key}
		}
		removed = rec
		return tx.Delete(h.res.Name, key)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, resource.StatusOK, h.echo(removed, resource.RequestDelete))
}

func (h *handler) load(w http.ResponseWriter, r *http.Request) {
	params, err := h.structure(r, resource.RequestLoad)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ids, _ := params["identifiers"].([]any)
	out := make([]map[string]any, 0, len(ids))
	err = h.server.store.View(r.Context(), func(v store.View) error {
		for _, id := range ids {
			key, ok := resource.IdentityKey(id)
			if !ok {
				continue
			}
			if rec, found := v.Get(h.res.Name, key); found {
				out = append(out, project(h.res, rec, params))
			}
		}
		return nil
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, resource.StatusOK, out)
}

// createUpdate upserts a batch: items carrying an id update or create that
// record, the rest are inserted.
func (h *handler) createUpdate(w http.ResponseWriter, r *http.Request) {
	value, err := h.payload(r, resource.RequestCreateUpdate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, _ := value.([]any)
	out := make([]map[string]any, 0, len(items))
	err = h.server.store.RunInTransaction(r.Context(), func(tx store.Transaction) error {
		for _, item := range items {
			attrs, _ := item.(map[string]any)
			rec := resource.Attributes(attrs)
			if rec == nil {
				rec = resource.Attributes{}
			}
			key, ok := resource.IdentityKey(rec[h.res.IDField])
			var stored resource.Attributes
			var err error
			switch {
			case ok:
				if _, exists := tx.Get(h.res.Name, key); exists {
					stored, err = tx.Update(h.res.Name, key, rec)
				} else {
					stored, _, err = tx.Replace(h.res.Name, key, rec)
				}
			default:
				if next := h.nextIdentity(tx); next != nil {
					rec[h.res.IDField] = next
				}
				stored, err = tx.Insert(h.res.Name, h.res.IDField, rec)
			}
			if err != nil {
				return err
			}
			out = append(out, map[string]any{h.res.IDField: stored[h.res.IDField]})
		}
		return nil
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, resource.StatusOK, out)
}
