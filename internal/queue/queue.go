// Package queue is a durable work queue with visibility timeouts, backed by
// SQLite.
//
// A claimed message is invisible to other consumers for the visibility
// duration. The holder Acks it when done or Nacks it to hand it back. A holder
// that dies or overruns the timeout loses the claim and the message becomes
// visible again, so abandoned work is always redelivered. Settling a lost
// claim fails with ErrLeaseLost and leaves the new holder's claim intact.
//
// Schema (created by EnsureTable):
//
//	CREATE TABLE queue_messages (
//	    id          TEXT PRIMARY KEY,
//	    queue       TEXT NOT NULL DEFAULT '',
//	    payload     BLOB,
//	    visible_at  INTEGER NOT NULL DEFAULT 0,  -- unix ms
//	    created_at  INTEGER NOT NULL,            -- unix ms
//	    attempts    INTEGER NOT NULL DEFAULT 0
//	);
//	CREATE TABLE queue_parked (...);             -- permanently failed messages
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// ErrLeaseLost is returned when settling a delivery whose message was deleted
// or claimed again by another consumer.
var ErrLeaseLost = errors.New("queue: lease lost")

// Message is a unit of work to publish.
type Message struct {
	ID      string
	Payload []byte
}

// Delivery is a claimed message. Attempts identifies the claim: settling
// only succeeds while no later claim has been made.
type Delivery struct {
	ID        string
	Queue     string
	Payload   []byte
	VisibleAt time.Time
	CreatedAt time.Time
	Attempts  int
}

// ParkedMessage is a message removed from circulation after a permanent failure.
type ParkedMessage struct {
	ID       string
	Payload  []byte
	Reason   string
	ParkedAt time.Time
	Attempts int
}

// Options configures queue behaviour.
type Options struct {
	// Queue is the logical queue name; several queues can share the tables.
	Queue string
	// Visibility is how long a claimed message stays invisible. Default: 5m.
	Visibility time.Duration
	// PollInterval is the wait between claim attempts in Receive. Default: 1s.
	PollInterval time.Duration
	Logger       *slog.Logger
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 5 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Q is a queue handle. It is safe for concurrent use.
type Q struct {
	db   *sql.DB
	opts Options
}

// OpenDB opens the SQLite file at path with WAL journaling and a busy timeout
// applied to every pooled connection.
func OpenDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping queue database %s: %w", path, err)
	}
	return db, nil
}

// New creates a queue handle. Call EnsureTable once at startup.
func New(db *sql.DB, opts Options) *Q {
	opts.defaults()
	return &Q{db: db, opts: opts}
}

// Name is the logical queue name.
func (q *Q) Name() string { return q.opts.Queue }

// EnsureTable creates the queue tables if they don't exist.
func (q *Q) EnsureTable(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS queue_messages (
			id          TEXT PRIMARY KEY,
			queue       TEXT NOT NULL DEFAULT '',
			payload     BLOB,
			visible_at  INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL,
			attempts    INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_queue_visible ON queue_messages (queue, visible_at);
		CREATE TABLE IF NOT EXISTS queue_parked (
			id          TEXT PRIMARY KEY,
			queue       TEXT NOT NULL DEFAULT '',
			payload     BLOB,
			reason      TEXT NOT NULL DEFAULT '',
			attempts    INTEGER NOT NULL DEFAULT 0,
			parked_at   INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create queue tables: %w", err)
	}
	return nil
}

// PublishBatch inserts all messages in one transaction: either every message
// becomes visible or none does. Insertion order is claim order.
func (q *Q) PublishBatch(ctx context.Context, msgs []Message) (err error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin publish: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO queue_messages (id, queue, payload, visible_at, created_at) VALUES (?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare publish: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err = stmt.ExecContext(ctx, m.ID, q.opts.Queue, m.Payload, now, now); err != nil {
			return fmt.Errorf("failed to publish message %s: %w", m.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit publish: %w", err)
	}
	return nil
}

// Publish inserts a single message.
func (q *Q) Publish(ctx context.Context, id string, payload []byte) error {
	return q.PublishBatch(ctx, []Message{{ID: id, Payload: payload}})
}

// Claim atomically takes the oldest visible message and hides it for the
// visibility duration. It returns nil, nil when nothing is visible.
func (q *Q) Claim(ctx context.Context) (*Delivery, error) {
	now := time.Now()
	hideUntil := now.Add(q.opts.Visibility).UnixMilli()

	row := q.db.QueryRowContext(ctx, `
		UPDATE queue_messages
		SET visible_at = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM queue_messages
			WHERE queue = ? AND visible_at <= ?
			ORDER BY visible_at ASC, rowid ASC
			LIMIT 1
		)
		RETURNING id, queue, payload, visible_at, created_at, attempts`,
		hideUntil, q.opts.Queue, now.UnixMilli(),
	)

	var d Delivery
	var visAt, creAt int64
	err := row.Scan(&d.ID, &d.Queue, &d.Payload, &visAt, &creAt, &d.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim message: %w", err)
	}
	d.VisibleAt = time.UnixMilli(visAt)
	d.CreatedAt = time.UnixMilli(creAt)
	return &d, nil
}

// Receive blocks until a message can be claimed or ctx is done.
func (q *Q) Receive(ctx context.Context) (*Delivery, error) {
	for {
		d, err := q.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			q.opts.Logger.Warn("queue: claim failed", "error", err, "queue", q.opts.Queue)
		}
		if d != nil {
			return d, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.opts.PollInterval):
		}
	}
}

// Ack deletes a processed message.
func (q *Q) Ack(ctx context.Context, d *Delivery) error {
	return q.settle(ctx, d,
		`DELETE FROM queue_messages WHERE id = ? AND queue = ? AND attempts = ?`,
		d.ID, q.opts.Queue, d.Attempts)
}

// Nack makes a message visible again now, behind messages that were already
// waiting.
func (q *Q) Nack(ctx context.Context, d *Delivery) error {
	return q.settle(ctx, d,
		`UPDATE queue_messages SET visible_at = ? WHERE id = ? AND queue = ? AND attempts = ?`,
		time.Now().UnixMilli(), d.ID, q.opts.Queue, d.Attempts)
}

// Extend pushes the visibility timeout of a claimed message forward.
func (q *Q) Extend(ctx context.Context, d *Delivery, extra time.Duration) error {
	return q.settle(ctx, d,
		`UPDATE queue_messages SET visible_at = ? WHERE id = ? AND queue = ? AND attempts = ?`,
		time.Now().Add(extra).UnixMilli(), d.ID, q.opts.Queue, d.Attempts)
}

// settle runs a statement scoped to d's claim. A message that was claimed
// again since d was delivered is left alone.
func (q *Q) settle(ctx context.Context, d *Delivery, query string, args ...any) error {
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to settle message %s: %w", d.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s attempt %d: %w", d.ID, d.Attempts, ErrLeaseLost)
	}
	return nil
}

// Park moves a message out of circulation, keeping its payload and the reason.
func (q *Q) Park(ctx context.Context, d *Delivery, reason string) (err error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin park: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO queue_parked (id, queue, payload, reason, attempts, parked_at)
		SELECT id, queue, payload, ?, attempts, ? FROM queue_messages WHERE id = ? AND queue = ? AND attempts = ?`,
		reason, time.Now().UnixMilli(), d.ID, q.opts.Queue, d.Attempts)
	if err != nil {
		return fmt.Errorf("failed to park message %s: %w", d.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = fmt.Errorf("message %s attempt %d: %w", d.ID, d.Attempts, ErrLeaseLost)
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM queue_messages WHERE id = ? AND queue = ?`, d.ID, q.opts.Queue); err != nil {
		return fmt.Errorf("failed to remove parked message %s: %w", d.ID, err)
	}
	return tx.Commit()
}

// Parked lists parked messages, oldest first.
func (q *Q) Parked(ctx context.Context) ([]ParkedMessage, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, payload, reason, attempts, parked_at FROM queue_parked WHERE queue = ? ORDER BY parked_at ASC, rowid ASC`,
		q.opts.Queue)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ParkedMessage
	for rows.Next() {
		var p ParkedMessage
		var at int64
		if err := rows.Scan(&p.ID, &p.Payload, &p.Reason, &p.Attempts, &at); err != nil {
			return nil, err
		}
		p.ParkedAt = time.UnixMilli(at)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Len returns the number of messages (visible and invisible) in the queue.
func (q *Q) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_messages WHERE queue = ?`, q.opts.Queue).Scan(&n)
	return n, err
}
