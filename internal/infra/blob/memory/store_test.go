package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"meshcore/internal/blob/core"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()
	if s.Driver() != core.DriverMemory {
		t.Fatalf("driver %s", s.Driver())
	}
	meta := map[string]string{"resource": "note"}
	info, err := s.Put(ctx, "state/note.json", strings.NewReader("[]"), core.PutOptions{ContentType: "application/json", Metadata: meta})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	meta["resource"] = "mutated"
	if info.Size != 2 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	got, rc, err := s.Get(ctx, "state/note.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	if string(body) != "[]" || got.Metadata["resource"] != "note" {
		t.Fatalf("unexpected %q %+v", body, got)
	}
	if _, err := s.Put(ctx, "state/note.json", strings.NewReader("{}"), core.PutOptions{IfAbsent: true}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := s.Put(ctx, " ", strings.NewReader(""), core.PutOptions{}); err == nil {
		t.Fatal("expected empty key error")
	}
}

func TestStoreMissingAndDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, _, err := s.Get(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get: %v", err)
	}
	if _, err := s.Head(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("head: %v", err)
	}
	if ok, _ := s.Delete(ctx, "nope"); ok {
		t.Fatal("delete of missing key reported existence")
	}
	_, _ = s.Put(ctx, "b", strings.NewReader("1"), core.PutOptions{})
	_, _ = s.Put(ctx, "a", strings.NewReader("1"), core.PutOptions{})
	list, _ := s.List(ctx, "")
	if len(list) != 2 || list[0].Key != "a" {
		t.Fatalf("list %+v", list)
	}
	if ok, _ := s.Delete(ctx, "a"); !ok {
		t.Fatal("expected delete to report existence")
	}
	if _, err := s.PresignURL(ctx, "b", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("presign: %v", err)
	}
}
