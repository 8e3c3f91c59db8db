package storage

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rl1809/baller-exchange/internal/port"
)

// getMySQLStore connects to a live MySQL and applies migrations, skipping the
// test when none is reachable.
func getMySQLStore(t *testing.T) (*MySQLStore, *sqlx.DB) {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/baller_exchange?parseTime=true"
	}

	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("MySQL not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := MigrateMySQL(dsn); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return NewMySQLStore(db), db
}

func TestMySQLStoreLive_InsertReplace(t *testing.T) {
	store, db := getMySQLStore(t)
	ctx := context.Background()
	id := "live-" + time.Now().Format("20060102150405.000000")
	defer db.ExecContext(ctx, `DELETE FROM documents WHERE kind = 'items' AND id = ?`, id)

	tx, _ := store.Begin(ctx)
	if err := tx.Insert(ctx, port.KindItem, id, []byte(`{"owner":"a"}`)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	tx, _ = store.Begin(ctx)
	if err := tx.Replace(ctx, port.KindItem, id, 1, []byte(`{"owner":"b"}`)); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	rec, err := store.Get(ctx, port.KindItem, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if rec.Version != 2 {
		t.Errorf("expected version 2, got %d", rec.Version)
	}

	recs, err := store.Query(ctx, port.Query{
		Kind:    port.KindItem,
		Filters: []port.Filter{{Field: "owner", Op: port.FilterEq, Value: "b"}, {Field: "id", Op: port.FilterEq, Value: id}},
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("expected 1 record, got %d", len(recs))
	}
}

func TestMySQLStoreLive_ConcurrentIncrements(t *testing.T) {
	store, db := getMySQLStore(t)
	ctx := context.Background()
	id := "counter-" + time.Now().Format("20060102150405.000000")
	defer db.ExecContext(ctx, `DELETE FROM documents WHERE kind = 'users' AND id = ?`, id)

	tx, _ := store.Begin(ctx)
	tx.Insert(ctx, port.KindUser, id, []byte(`{"n":0}`))
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	const workers = 10
	var conflicts atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				tx, _ := store.Begin(ctx)
				rec, err := tx.Get(ctx, port.KindUser, id)
				if err != nil {
					t.Errorf("get failed: %v", err)
					return
				}
				var n int
				fmt.Sscanf(string(rec.Body), `{"n": %d}`, &n)
				body := []byte(fmt.Sprintf(`{"n":%d}`, n+1))
				if err := tx.Replace(ctx, port.KindUser, id, rec.Version, body); err != nil {
					conflicts.Add(1)
					continue
				}
				if err := tx.Commit(ctx); err != nil {
					conflicts.Add(1)
					continue
				}
				return
			}
		}()
	}
	wg.Wait()

	rec, err := store.Get(ctx, port.KindUser, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if rec.Version != workers+1 {
		t.Errorf("expected version %d, got %d", workers+1, rec.Version)
	}
	t.Logf("conflicts retried: %d", conflicts.Load())
}
