package fs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"meshcore/internal/blob/core"
)

func TestPutReplacesAndTracksDigest(t *testing.T) {
	ctx := context.Background()
	s, err := New(filepath.Join(t.TempDir(), "root"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	first, err := s.Put(ctx, "state/note.json", strings.NewReader("one"), core.PutOptions{ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	second, err := s.Put(ctx, "state/note.json", strings.NewReader("three"), core.PutOptions{ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if first.ETag == second.ETag || second.Size != 5 {
		t.Fatalf("unexpected infos %+v %+v", first, second)
	}
	info, rc, err := s.Get(ctx, "state/note.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "three" || info.ContentType != "text/plain" {
		t.Fatalf("unexpected %q %+v", body, info)
	}
	if !strings.HasPrefix(info.URL, "http://local.blob/") {
		t.Fatalf("url %s", info.URL)
	}
	if _, err := s.Put(ctx, "state/note.json", strings.NewReader("x"), core.PutOptions{IfAbsent: true}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestKeyValidation(t *testing.T) {
	s, _ := New(t.TempDir())
	for _, key := range []string{"", "../escape", "/abs", "x.meta"} {
		if _, err := s.Put(context.Background(), key, strings.NewReader(""), core.PutOptions{}); err == nil {
			t.Fatalf("expected rejection for %q", key)
		}
	}
}

func TestListSkipsTempFilesAndFilters(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, _ := New(root)
	for _, k := range []string{"state/b.json", "state/a.json", "misc/c"} {
		if _, err := s.Put(ctx, k, strings.NewReader(k), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "state", ".tmp-stray"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	list, err := s.List(ctx, "state/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "state/a.json" || list[1].Key != "state/b.json" {
		t.Fatalf("list %+v", list)
	}
}

func TestMissingAndDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := New(t.TempDir())
	if _, _, err := s.Get(ctx, "absent"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get: %v", err)
	}
	if _, err := s.Head(ctx, "absent"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("head: %v", err)
	}
	if ok, err := s.Delete(ctx, "absent"); ok || err != nil {
		t.Fatalf("delete absent: %v %v", ok, err)
	}
	_, _ = s.Put(ctx, "k", strings.NewReader("v"), core.PutOptions{})
	if ok, err := s.Delete(ctx, "k"); !ok || err != nil {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if _, err := s.Head(ctx, "k"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("sidecar survived delete: %v", err)
	}
	if _, err := s.PresignURL(ctx, "k", core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("presign put: %v", err)
	}
}
