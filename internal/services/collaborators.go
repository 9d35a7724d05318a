package services

import (
	"context"
	"time"

	"github.com/Lllllllleong/resumeflow/internal/document"
	"github.com/Lllllllleong/resumeflow/internal/models"
	"github.com/Lllllllleong/resumeflow/internal/queue"
)

// Fetcher retrieves the bytes behind an opaque file reference. Missing
// objects are reported as models.ErrNotFound.
type Fetcher interface {
	Fetch(ctx context.Context, fileReference string) ([]byte, error)
}

// TextSink receives text extracted from a resume, either from its text layer
// or from OCR.
type TextSink interface {
	SubmitText(ctx context.Context, text models.ExtractedText) error
}

// OCRSink accepts an image-only resume. It must not wait for the OCR result.
type OCRSink interface {
	SubmitForOCR(ctx context.Context, doc *document.Buffer, entry *models.BatchEntry) error
}

// Reporter records per-document failures. doc is nil when the bytes were
// never fetched.
type Reporter interface {
	Report(ctx context.Context, report models.FailureReport, doc *document.Buffer) error
}

// EntryQueue is the consumer side of the batch queue.
type EntryQueue interface {
	Receive(ctx context.Context) (*queue.Delivery, error)
	Ack(ctx context.Context, d *queue.Delivery) error
	Nack(ctx context.Context, d *queue.Delivery) error
	Extend(ctx context.Context, d *queue.Delivery, extra time.Duration) error
	Park(ctx context.Context, d *queue.Delivery, reason string) error
}

// BatchPublisher is the producer side of the batch queue.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, msgs []queue.Message) error
	Name() string
}

// BatchRecorder keeps an audit record of accepted batches.
type BatchRecorder interface {
	RecordBatch(ctx context.Context, record models.BatchRecord) error
}
