package queue_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/resumeflow/internal/queue"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := queue.OpenDB(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newQ(t *testing.T, db *sql.DB, opts queue.Options) *queue.Q {
	t.Helper()
	q := queue.New(db, opts)
	if err := q.EnsureTable(context.Background()); err != nil {
		t.Fatal(err)
	}
	return q
}

func TestPublishBatch_PreservesOrder(t *testing.T) {
	q := newQ(t, openDB(t), queue.Options{Visibility: time.Minute})
	ctx := context.Background()

	msgs := []queue.Message{{ID: "a", Payload: []byte("1")}, {ID: "b", Payload: []byte("2")}, {ID: "c", Payload: []byte("3")}}
	if err := q.PublishBatch(ctx, msgs); err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"a", "b", "c"} {
		d, err := q.Claim(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if d == nil || d.ID != want {
			t.Fatalf("claimed %+v, want %s", d, want)
		}
	}
	if d, _ := q.Claim(ctx); d != nil {
		t.Fatalf("queue should have no visible message, got %s", d.ID)
	}
}

func TestPublishBatch_AllOrNothing(t *testing.T) {
	q := newQ(t, openDB(t), queue.Options{})
	ctx := context.Background()

	// Duplicate IDs violate the primary key on the second insert.
	err := q.PublishBatch(ctx, []queue.Message{{ID: "x"}, {ID: "y"}, {ID: "x"}})
	if err == nil {
		t.Fatal("expected duplicate id error")
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("partial batch committed: %d messages", n)
	}
}

func TestAckAndNack(t *testing.T) {
	q := newQ(t, openDB(t), queue.Options{Visibility: time.Minute})
	ctx := context.Background()

	q.Publish(ctx, "j1", []byte("retry-me"))
	d, _ := q.Claim(ctx)
	if err := q.Nack(ctx, d); err != nil {
		t.Fatal(err)
	}

	d2, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if d2 == nil || d2.Attempts != 2 {
		t.Fatalf("expected redelivery with attempts 2, got %+v", d2)
	}
	if err := q.Ack(ctx, d2); err != nil {
		t.Fatal(err)
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("queue should be empty after ack, got %d", n)
	}
}

func TestVisibilityTimeout_RedeliversAbandoned(t *testing.T) {
	q := newQ(t, openDB(t), queue.Options{Visibility: 50 * time.Millisecond})
	ctx := context.Background()

	q.Publish(ctx, "j1", nil)
	if d, _ := q.Claim(ctx); d == nil {
		t.Fatal("expected a claim")
	}
	if d, _ := q.Claim(ctx); d != nil {
		t.Fatal("claimed message must be invisible")
	}

	time.Sleep(80 * time.Millisecond)
	d, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if d == nil || d.ID != "j1" {
		t.Fatal("abandoned message should be visible again")
	}
}

func TestReceive_BlocksUntilPublished(t *testing.T) {
	q := newQ(t, openDB(t), queue.Options{PollInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		time.Sleep(50 * time.Millisecond)
		q.Publish(context.Background(), "late", []byte("x"))
	}()

	d, err := q.Receive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if d.ID != "late" {
		t.Fatalf("got %s", d.ID)
	}
}

func TestReceive_ReturnsOnCancel(t *testing.T) {
	q := newQ(t, openDB(t), queue.Options{PollInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	d, err := q.Receive(ctx)
	if d != nil || err == nil {
		t.Fatalf("got %v, %v; want nil delivery and context error", d, err)
	}
}

func TestPark(t *testing.T) {
	q := newQ(t, openDB(t), queue.Options{Visibility: time.Minute})
	ctx := context.Background()

	q.Publish(ctx, "bad", []byte("payload"))
	d, _ := q.Claim(ctx)
	if err := q.Park(ctx, d, "ENCRYPTED_PDF"); err != nil {
		t.Fatal(err)
	}

	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("parked message still queued: %d", n)
	}
	parked, err := q.Parked(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(parked) != 1 || parked[0].ID != "bad" || parked[0].Reason != "ENCRYPTED_PDF" || string(parked[0].Payload) != "payload" {
		t.Fatalf("unexpected parked rows: %+v", parked)
	}
	if err := q.Park(ctx, &queue.Delivery{ID: "missing", Attempts: 1}, "x"); !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("parking an unknown message: err = %v, want ErrLeaseLost", err)
	}
}

func TestCompetingConsumers_NoDoubleDelivery(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, queue.Options{Visibility: time.Minute})
	ctx := context.Background()

	const total = 40
	msgs := make([]queue.Message, total)
	for i := range msgs {
		msgs[i] = queue.Message{ID: fmt.Sprintf("m%02d", i)}
	}
	if err := q.PublishBatch(ctx, msgs); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumer := queue.New(db, queue.Options{Visibility: time.Minute})
			for {
				d, err := consumer.Claim(ctx)
				if err != nil {
					t.Error(err)
					return
				}
				if d == nil {
					return
				}
				mu.Lock()
				seen[d.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("claimed %d distinct messages, want %d", len(seen), total)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("message %s delivered %d times", id, n)
		}
	}
}

func TestExtend_KeepsMessageHidden(t *testing.T) {
	q := newQ(t, openDB(t), queue.Options{Visibility: 50 * time.Millisecond})
	ctx := context.Background()

	q.Publish(ctx, "long", nil)
	d, _ := q.Claim(ctx)
	if err := q.Extend(ctx, d, time.Minute); err != nil {
		t.Fatal(err)
	}

	time.Sleep(80 * time.Millisecond)
	if d, _ := q.Claim(ctx); d != nil {
		t.Fatal("extended message became visible early")
	}
}

func TestNack_RequeuesBehindWaitingMessages(t *testing.T) {
	q := newQ(t, openDB(t), queue.Options{Visibility: time.Minute})
	ctx := context.Background()

	if err := q.PublishBatch(ctx, []queue.Message{{ID: "first"}, {ID: "second"}, {ID: "third"}}); err != nil {
		t.Fatal(err)
	}
	d, _ := q.Claim(ctx)
	time.Sleep(5 * time.Millisecond)
	if err := q.Nack(ctx, d); err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"second", "third", "first"} {
		got, err := q.Claim(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got == nil || got.ID != want {
			t.Fatalf("claimed %+v, want %s", got, want)
		}
	}
}

func TestSettle_StaleClaimCannotTouchNewClaim(t *testing.T) {
	q := newQ(t, openDB(t), queue.Options{Visibility: 30 * time.Millisecond})
	ctx := context.Background()

	q.Publish(ctx, "j1", []byte("x"))
	stale, _ := q.Claim(ctx)
	time.Sleep(60 * time.Millisecond)
	current, err := q.Claim(ctx)
	if err != nil || current == nil {
		t.Fatalf("expected redelivery, got %v, %v", current, err)
	}
	if current.Attempts != stale.Attempts+1 {
		t.Fatalf("attempts = %d, want %d", current.Attempts, stale.Attempts+1)
	}

	if err := q.Ack(ctx, stale); !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("stale ack: err = %v, want ErrLeaseLost", err)
	}
	if err := q.Nack(ctx, stale); !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("stale nack: err = %v, want ErrLeaseLost", err)
	}
	if err := q.Extend(ctx, stale, time.Minute); !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("stale extend: err = %v, want ErrLeaseLost", err)
	}
	if err := q.Park(ctx, stale, "x"); !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("stale park: err = %v, want ErrLeaseLost", err)
	}
	if n, _ := q.Len(ctx); n != 1 {
		t.Fatalf("queue has %d messages, want 1", n)
	}

	if err := q.Ack(ctx, current); err != nil {
		t.Fatalf("current ack: %v", err)
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("queue has %d messages after ack, want 0", n)
	}
}
