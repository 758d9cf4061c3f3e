package memory

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"meshcore/internal/store/core"
	"meshcore/pkg/resource"
)

func sequence() func() string {
	ids := []string{"01A", "01B", "01C"}
	i := 0
	return func() string {
		id := ids[i]
		i++
		return id
	}
}

func TestInsertAssignsIDsAndRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := NewStore(WithIDGenerator(sequence()))
	err := s.RunInTransaction(ctx, func(tx core.Transaction) error {
		rec, err := tx.Insert("note", "id", resource.Attributes{"title": "a"})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		if rec["id"] != "01A" {
			t.Fatalf("expected generated id 01A, got %v", rec["id"])
		}
		_, err = tx.Insert("note", "id", resource.Attributes{"id": "01A"})
		var conflict core.ErrConflict
		if !errors.As(err, &conflict) {
			t.Fatalf("expected conflict on duplicate id, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if n := len(s.ExportState()["note"]); n != 1 {
		t.Fatalf("expected 1 note, got %d", n)
	}
}

func TestULIDsByDefault(t *testing.T) {
	s := NewStore()
	err := s.RunInTransaction(context.Background(), func(tx core.Transaction) error {
		rec, err := tx.Insert("note", "id", nil)
		if id, _ := rec["id"].(string); len(id) != 26 {
			t.Fatalf("expected a 26 character ulid, got %q", id)
		}
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestFailedTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.ImportState(core.Snapshot{"note": {"n1": {"id": "n1", "tags": []any{"x"}}}})
	boom := errors.New("boom")
	err := s.RunInTransaction(ctx, func(tx core.Transaction) error {
		rec, _ := tx.Get("note", "n1")
		rec["tags"].([]any)[0] = "mutated"
		if _, err := tx.Update("note", "n1", resource.Attributes{"title": "new"}); err != nil {
			t.Fatalf("update: %v", err)
		}
		if err := tx.Delete("note", "n1"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	err = s.View(ctx, func(v core.View) error {
		rec, ok := v.Get("note", "n1")
		if !ok {
			t.Fatalf("expected n1 to survive rollback")
		}
		if !reflect.DeepEqual(rec["tags"], []any{"x"}) {
			t.Fatalf("expected tags untouched, got %v", rec["tags"])
		}
		if _, ok := rec["title"]; ok {
			t.Fatalf("expected no title after rollback, got %v", rec["title"])
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestUpdateReplaceDelete(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.ImportState(core.Snapshot{"note": {"n1": {"id": "n1", "title": "a", "body": "b"}}})
	err := s.RunInTransaction(ctx, func(tx core.Transaction) error {
		rec, err := tx.Update("note", "n1", resource.Attributes{"title": "A", "body": nil})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if want := (resource.Attributes{"id": "n1", "title": "A"}); !reflect.DeepEqual(rec, want) {
			t.Fatalf("expected %v, got %v", want, rec)
		}

		_, err = tx.Update("note", "zz", resource.Attributes{})
		if want := (core.ErrNotFound{Resource: "note", ID: "zz"}); err != want {
			t.Fatalf("expected %v, got %v", want, err)
		}

		rec, created, err := tx.Replace("note", "n2", resource.Attributes{"id": "n2"})
		if err != nil {
			t.Fatalf("replace: %v", err)
		}
		if !created || rec["id"] != "n2" {
			t.Fatalf("expected n2 to be created, got created=%v rec=%v", created, rec)
		}
		if _, created, _ = tx.Replace("note", "n2", resource.Attributes{"id": "n2", "title": "t"}); created {
			t.Fatalf("expected second replace to update")
		}

		if err := tx.Delete("note", "zz"); err == nil {
			t.Fatalf("expected error deleting missing record")
		}
		return tx.Delete("note", "n1")
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	err = s.View(ctx, func(v core.View) error {
		list := v.List("note")
		if len(list) != 1 || list[0]["title"] != "t" {
			t.Fatalf("expected only n2 with title t, got %v", list)
		}
		if absent := v.List("absent"); len(absent) != 0 {
			t.Fatalf("expected empty list for unknown resource, got %v", absent)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewStore()
	if err := s.RunInTransaction(ctx, func(core.Transaction) error { return nil }); err == nil {
		t.Fatalf("expected transaction to fail on cancelled context")
	}
	if err := s.View(ctx, func(core.View) error { return nil }); err == nil {
		t.Fatalf("expected view to fail on cancelled context")
	}
}
