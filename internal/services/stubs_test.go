package services

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/resumeflow/internal/document"
	"github.com/Lllllllleong/resumeflow/internal/models"
	"github.com/Lllllllleong/resumeflow/internal/queue"
)

// stubFetcher serves fixtures by reference. Unknown references are NotFound;
// references listed in block wait for ctx to end.
type stubFetcher struct {
	files map[string][]byte
	errs  map[string]error
	block map[string]bool
	// called, when set, receives every requested reference.
	called chan string
}

func (f *stubFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if f.called != nil {
		f.called <- ref
	}
	if f.block[ref] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err, ok := f.errs[ref]; ok {
		return nil, err
	}
	if data, ok := f.files[ref]; ok {
		return data, nil
	}
	return nil, models.ErrNotFound
}

type captureText struct {
	mu    sync.Mutex
	texts []models.ExtractedText
	err   error
}

func (c *captureText) SubmitText(_ context.Context, text models.ExtractedText) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.texts = append(c.texts, text)
	return nil
}

func (c *captureText) all() []models.ExtractedText {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.ExtractedText(nil), c.texts...)
}

type captureOCR struct {
	mu      sync.Mutex
	entries []models.BatchEntry
	docs    [][]byte
}

func (c *captureOCR) SubmitForOCR(_ context.Context, doc *document.Buffer, entry *models.BatchEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, *entry)
	c.docs = append(c.docs, doc.ReadAll())
	return nil
}

func (c *captureOCR) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

type captureReporter struct {
	mu      sync.Mutex
	reports []models.FailureReport
}

func (c *captureReporter) Report(_ context.Context, report models.FailureReport, _ *document.Buffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, report)
	return nil
}

func (c *captureReporter) all() []models.FailureReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.FailureReport(nil), c.reports...)
}

func newTestQueue(t *testing.T) (*queue.Q, *sql.DB) {
	t.Helper()
	return newTestQueueWithVisibility(t, time.Minute)
}

func newTestQueueWithVisibility(t *testing.T, visibility time.Duration) (*queue.Q, *sql.DB) {
	t.Helper()
	db, err := queue.OpenDB(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	q := queue.New(db, queue.Options{Queue: "test", Visibility: visibility, PollInterval: 10 * time.Millisecond})
	if err := q.EnsureTable(context.Background()); err != nil {
		t.Fatal(err)
	}
	return q, db
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
