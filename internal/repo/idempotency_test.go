package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tbourn/bookworm-backend/internal/domain"
)

func TestGetIdempotency_GuardsAndExpiry(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()
	now := time.Now().UTC()

	if rec, err := GetIdempotency(ctx, db, 1, 0, "k1", now); rec != nil || !errors.Is(err, ErrNotFound) {
		t.Fatalf("zero chat id: expected ErrNotFound, got (%v, %v)", rec, err)
	}
	if rec, err := GetIdempotency(ctx, db, 1, 2, "  ", now); rec != nil || !errors.Is(err, ErrNotFound) {
		t.Fatalf("blank key: expected ErrNotFound, got (%v, %v)", rec, err)
	}

	if _, err := CreateIdempotency(ctx, db, 1, 2, "k1", 7, 200, time.Minute); err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	rec, err := GetIdempotency(ctx, db, 1, 2, "k1", now)
	if err != nil || rec.MessageID != 7 || rec.Status != 200 {
		t.Fatalf("lookup live record: %+v err=%v", rec, err)
	}

	// Past its TTL the record is invisible.
	if _, err := GetIdempotency(ctx, db, 1, 2, "k1", now.Add(2*time.Minute)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired: expected ErrNotFound, got %v", err)
	}
	// Scoped by user.
	if _, err := GetIdempotency(ctx, db, 9, 2, "k1", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other user: expected ErrNotFound, got %v", err)
	}
}

func TestCreateIdempotency_Duplicate(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()

	if _, err := CreateIdempotency(ctx, db, 1, 2, "k1", 7, 200, time.Hour); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := CreateIdempotency(ctx, db, 1, 2, "k1", 8, 200, time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestCreateIdempotency_NoTable(t *testing.T) {
	db := newRepoDB(t, false)
	if _, err := CreateIdempotency(context.Background(), db, 1, 2, "k1", 7, 200, time.Hour); err == nil || errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected raw db error, got %v", err)
	}
}

func TestCreateIdempotency_ReusesExpiredKey(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()

	if _, err := CreateIdempotency(ctx, db, 1, 2, "k1", 7, 200, -time.Minute); err != nil {
		t.Fatalf("create expired: %v", err)
	}
	if _, err := CreateIdempotency(ctx, db, 1, 2, "k1", 8, 200, time.Hour); err != nil {
		t.Fatalf("reuse expired key: %v", err)
	}
	rec, err := GetIdempotency(ctx, db, 1, 2, "k1", time.Now().UTC())
	if err != nil || rec.MessageID != 8 {
		t.Fatalf("live record after reuse: %+v err=%v", rec, err)
	}

	var n int64
	db.Model(&domain.Idempotency{}).Count(&n)
	if n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}
}

func TestPurgeExpiredIdempotency(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()

	for i, ttl := range []time.Duration{-time.Hour, -time.Minute, time.Hour} {
		if _, err := CreateIdempotency(ctx, db, 1, 2, fmt.Sprintf("k%d", i), uint(i+1), 200, ttl); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	n, err := PurgeExpiredIdempotency(ctx, db, time.Now().UTC())
	if err != nil || n != 2 {
		t.Fatalf("purged %d, err=%v; want 2", n, err)
	}
	if _, err := GetIdempotency(ctx, db, 1, 2, "k2", time.Now().UTC()); err != nil {
		t.Fatalf("live record purged: %v", err)
	}
}

func TestSweepIdempotency_PurgesUntilCanceled(t *testing.T) {
	db := newRepoDB(t, true)
	ctx, cancel := context.WithCancel(context.Background())

	if _, err := CreateIdempotency(ctx, db, 1, 2, "old", 1, 200, -time.Minute); err != nil {
		t.Fatalf("create: %v", err)
	}

	done := make(chan struct{})
	go func() {
		SweepIdempotency(ctx, db, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		var n int64
		if err := db.Model(&domain.Idempotency{}).Count(&n).Error; err == nil && n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expired record never purged")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop on cancel")
	}
}
