package leaselock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	key string
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 1 {
		if p, ok := dest[0].(*string); ok {
			*p = r.key
		}
	}
	return nil
}

// fakeDB mimics the graph_locks table: one owner token per key with expiry.
type fakeDB struct {
	mu     sync.Mutex
	owner  map[string]string
	expiry map[string]time.Time
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		owner:  make(map[string]string),
		expiry: make(map[string]time.Time),
	}
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()

	key, _ := args[0].(string)
	token, _ := args[1].(string)
	ttlMs, _ := args[2].(int64)

	switch sql {
	case tryAcquireSQL:
		current, held := f.owner[key]
		if held && current != token && time.Now().Before(f.expiry[key]) {
			return fakeRow{err: pgx.ErrNoRows}
		}
		f.owner[key] = token
		f.expiry[key] = time.Now().Add(time.Duration(ttlMs) * time.Millisecond)
		return fakeRow{key: key}
	case renewSQL:
		if f.owner[key] != token {
			return fakeRow{err: pgx.ErrNoRows}
		}
		f.expiry[key] = time.Now().Add(time.Duration(ttlMs) * time.Millisecond)
		return fakeRow{key: key}
	}
	return fakeRow{err: fmt.Errorf("unexpected query: %s", sql)}
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if sql != releaseSQL {
		return pgconn.CommandTag{}, fmt.Errorf("unexpected exec: %s", sql)
	}
	key, _ := args[0].(string)
	token, _ := args[1].(string)
	if f.owner[key] == token {
		delete(f.owner, key)
		delete(f.expiry, key)
		return pgconn.NewCommandTag("DELETE 1"), nil
	}
	return pgconn.NewCommandTag("DELETE 0"), nil
}

// steal hands the key to another owner, as a competing worker would after
// the lease expired.
func (f *fakeDB) steal(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owner[key] = "intruder"
	f.expiry[key] = time.Now().Add(time.Hour)
}

func TestAcquireRejectsEmptyKey(t *testing.T) {
	locker := New(newFakeDB())
	if _, err := locker.Acquire(context.Background(), "", Options{}); err == nil {
		t.Fatal("Acquire() with empty key expected error")
	}
}

func TestAcquireAndRelease(t *testing.T) {
	ctx := context.Background()
	locker := New(newFakeDB())

	lease, err := locker.Acquire(ctx, "graph:writer", Options{TokenPrefix: "w1-"})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if lease.Token == "w1-" {
		t.Fatal("token carries no random suffix")
	}

	if _, err := locker.Acquire(ctx, "graph:writer", Options{TokenPrefix: "w2-"}); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Acquire() error = %v, want ErrBusy", err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	second, err := locker.Acquire(ctx, "graph:writer", Options{TokenPrefix: "w2-"})
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	_ = second.Release(ctx)
}

func TestAcquireTakesOverExpiredLease(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	db.owner["graph:writer"] = "crashed-worker"
	db.expiry["graph:writer"] = time.Now().Add(-time.Minute)

	locker := New(db)
	lease, err := locker.Acquire(ctx, "graph:writer", Options{})
	if err != nil {
		t.Fatalf("Acquire() over expired lease error = %v", err)
	}
	_ = lease.Release(ctx)
}

func TestAcquireWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	locker := New(newFakeDB())

	first, err := locker.Acquire(ctx, "graph:writer", Options{})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	acquired := make(chan error, 1)
	go func() {
		lease, err := locker.Acquire(ctx, "graph:writer", Options{
			Wait:         true,
			WaitInterval: 5 * time.Millisecond,
		})
		if err == nil {
			_ = lease.Release(ctx)
		}
		acquired <- err
	}()

	time.Sleep(30 * time.Millisecond)
	if err := first.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("waiting Acquire() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiting Acquire() never finished")
	}
}

func TestWithLeaseReleasesOnReturn(t *testing.T) {
	ctx := context.Background()
	locker := New(newFakeDB())

	ran := false
	err := locker.WithLease(ctx, "graph:writer", Options{}, func(leaseCtx context.Context) error {
		ran = true
		if leaseCtx.Err() != nil {
			t.Fatalf("lease context already done: %v", leaseCtx.Err())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithLease() error = %v", err)
	}
	if !ran {
		t.Fatal("WithLease() never ran fn")
	}

	lease, err := locker.Acquire(ctx, "graph:writer", Options{})
	if err != nil {
		t.Fatalf("Acquire() after WithLease error = %v", err)
	}
	_ = lease.Release(ctx)
}

func TestLostLeaseCancelsContext(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	locker := New(db)

	lease, err := locker.Acquire(ctx, "graph:writer", Options{
		TTL:        100 * time.Millisecond,
		RenewEvery: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer func() { _ = lease.Release(ctx) }()

	db.steal("graph:writer")

	select {
	case <-lease.Context.Done():
		if cause := context.Cause(lease.Context); !errors.Is(cause, ErrLost) {
			t.Fatalf("cancellation cause = %v, want ErrLost", cause)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("lease context never canceled after takeover")
	}
}
