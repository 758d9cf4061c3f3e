package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"meshcore/internal/infra/store/postgres/testutil"
	"meshcore/internal/store/core"
	"meshcore/pkg/resource"
)

func openStub(t *testing.T, db *sql.DB) *Store {
	t.Helper()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	s, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestNewStoreCreatesTableAndLoadsSnapshot(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.Rows["note"] = []byte(`{"n1":{"id":"n1","rank":2}}`)

	s := openStub(t, db)
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE IF NOT EXISTS STATE") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("state table not created: %v", conn.Execs)
	}
	_ = s.View(context.Background(), func(v core.View) error {
		rec, ok := v.Get("note", "n1")
		if !ok || rec["rank"] != int64(2) {
			t.Errorf("unexpected record %v %v", rec, ok)
		}
		return nil
	})
}

func TestRunInTransactionPersistsBuckets(t *testing.T) {
	db, conn := testutil.NewStubDB()
	s := openStub(t, db)
	err := s.RunInTransaction(context.Background(), func(tx core.Transaction) error {
		_, err := tx.Insert("note", "id", resource.Attributes{"id": "n1", "title": "x"})
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if !strings.Contains(string(conn.Rows["note"]), `"title":"x"`) {
		t.Fatalf("bucket not persisted: %s", conn.Rows["note"])
	}
	if s.DB() != db {
		t.Fatal("DB accessor")
	}
}

func TestPersistFailuresSurface(t *testing.T) {
	db, conn := testutil.NewStubDB()
	s := openStub(t, db)
	insert := func(id string) error {
		return s.RunInTransaction(context.Background(), func(tx core.Transaction) error {
			_, err := tx.Insert("note", "id", resource.Attributes{"id": id})
			return err
		})
	}
	conn.FailBegin = true
	if err := insert("a"); err == nil {
		t.Fatal("expected begin failure")
	}
	conn.FailBegin, conn.FailCommit = false, true
	if err := insert("b"); err == nil {
		t.Fatal("expected commit failure")
	}
	conn.FailCommit, conn.FailExec = false, true
	if err := insert("c"); err == nil {
		t.Fatal("expected exec failure")
	}
}

func TestNewStoreFailures(t *testing.T) {
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("no driver") })
	if _, err := NewStore(context.Background(), "postgres://x"); err == nil {
		t.Fatal("expected open failure")
	}
	restore()

	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore = OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(context.Background(), ""); err == nil {
		t.Fatal("expected ping failure")
	}

	db2, conn2 := testutil.NewStubDB()
	conn2.Rows["note"] = []byte("not json")
	restore2 := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db2, nil })
	defer restore2()
	if _, err := NewStore(context.Background(), ""); err == nil {
		t.Fatal("expected decode failure")
	}
}
