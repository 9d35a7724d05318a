package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Lllllllleong/resumeflow/internal/classifier"
	"github.com/Lllllllleong/resumeflow/internal/document"
	"github.com/Lllllllleong/resumeflow/internal/models"
	"github.com/Lllllllleong/resumeflow/internal/pdfnorm"
	"github.com/Lllllllleong/resumeflow/internal/queue"
	"golang.org/x/sync/errgroup"
)

const (
	defaultFetchTimeout = 30 * time.Second
	defaultMaxAttempts  = 5
)

// Route is where a processed entry was sent.
type Route string

const (
	RouteText   Route = "text"
	RouteOCR    Route = "ocr"
	RouteFailed Route = "failed"
)

// Outcome describes how an entry left the pipeline. Doc is the fetched
// source buffer and is nil when the fetch failed.
type Outcome struct {
	Route   Route
	Doc     *document.Buffer
	State   pdfnorm.EncryptionState
	Verdict classifier.Verdict
}

// WorkerDeps are the collaborators a Worker drives.
type WorkerDeps struct {
	Queue      EntryQueue
	Fetcher    Fetcher
	TextSink   TextSink
	OCRSink    OCRSink
	Reporter   Reporter
	Normalizer *pdfnorm.Normalizer
	Classifier *classifier.Classifier
}

// WorkerOptions tunes a Worker. Zero values pick defaults.
type WorkerOptions struct {
	// FetchTimeout bounds a single storage fetch.
	FetchTimeout time.Duration
	// RetryDelay hides an entry after a transient dispatch failure. Zero
	// makes it visible again immediately.
	RetryDelay time.Duration
	// MaxAttempts is the number of deliveries after which a transiently
	// failing entry is reported and parked.
	MaxAttempts int
	// LeaseExtension, when set, is how far the claim is pushed forward while
	// an entry is being processed. It is renewed every half interval.
	LeaseExtension time.Duration
	Logger         *slog.Logger
}

// Worker consumes batch entries and routes each resume to the text sink, the
// OCR sink or the reporter.
type Worker struct {
	queue        EntryQueue
	fetcher      Fetcher
	textSink     TextSink
	ocrSink      OCRSink
	reporter     Reporter
	normalizer   *pdfnorm.Normalizer
	classifier   *classifier.Classifier
	fetchTimeout   time.Duration
	retryDelay     time.Duration
	maxAttempts    int
	leaseExtension time.Duration
	logger         *slog.Logger
}

// NewWorker validates deps and builds a Worker.
func NewWorker(deps WorkerDeps, opts WorkerOptions) (*Worker, error) {
	switch {
	case deps.Queue == nil:
		return nil, errors.New("worker: queue is required")
	case deps.Fetcher == nil:
		return nil, errors.New("worker: fetcher is required")
	case deps.TextSink == nil:
		return nil, errors.New("worker: text sink is required")
	case deps.OCRSink == nil:
		return nil, errors.New("worker: OCR sink is required")
	case deps.Reporter == nil:
		return nil, errors.New("worker: reporter is required")
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if deps.Normalizer == nil {
		deps.Normalizer = pdfnorm.New(opts.Logger)
	}
	if deps.Classifier == nil {
		deps.Classifier = classifier.New(classifier.NewPDFExtractor(opts.Logger))
	}
	return &Worker{
		queue:        deps.Queue,
		fetcher:      deps.Fetcher,
		textSink:     deps.TextSink,
		ocrSink:      deps.OCRSink,
		reporter:     deps.Reporter,
		normalizer:   deps.Normalizer,
		classifier:   deps.Classifier,
		fetchTimeout:   opts.FetchTimeout,
		retryDelay:     opts.RetryDelay,
		maxAttempts:    opts.MaxAttempts,
		leaseExtension: opts.LeaseExtension,
		logger:         opts.Logger,
	}, nil
}

// Run consumes entries until ctx is done. It returns nil on shutdown; a
// failing entry never stops the loop.
func (w *Worker) Run(ctx context.Context) error {
	return w.run(ctx, w.logger)
}

func (w *Worker) run(ctx context.Context, logger *slog.Logger) error {
	logger.Info("Worker started.")
	for {
		d, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("Worker stopping.")
				return nil
			}
			logger.Error("Failed to receive from queue.", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				logger.Info("Worker stopping.")
				return nil
			}
			continue
		}
		w.handle(ctx, logger, d)
	}
}

// handle processes one delivery and settles it. Successes are acked and
// per-document failures reported and parked. Other failures are released for
// redelivery until the entry runs out of attempts.
func (w *Worker) handle(ctx context.Context, logger *slog.Logger, d *queue.Delivery) {
	// Settling must survive shutdown so an abandoned entry is released.
	settleCtx := context.WithoutCancel(ctx)
	logCtx := logger.With("entryId", d.ID, "attempt", d.Attempts)

	var entry models.BatchEntry
	if err := json.Unmarshal(d.Payload, &entry); err != nil {
		logCtx.Error("Undecodable queue entry.", "error", err)
		entry.ID = d.ID
		w.deadLetter(settleCtx, logCtx, d, &entry, nil, fmt.Errorf("%w: undecodable queue entry: %v", models.ErrMalformedDocument, err))
		return
	}
	if entry.ID == "" {
		entry.ID = d.ID
	}
	logCtx = logCtx.With("fileReference", entry.FileReference, "submitterId", entry.SubmitterID)

	// A claim that keeps expiring mid-processing never reaches a settle call.
	if d.Attempts > w.maxAttempts {
		w.deadLetter(settleCtx, logCtx, d, &entry, nil, fmt.Errorf("entry abandoned after %d deliveries", d.Attempts-1))
		return
	}

	stopLease := w.keepLeased(ctx, logCtx, d)
	out, err := w.ProcessEntry(ctx, &entry)
	stopLease()

	switch {
	case err == nil:
		if ackErr := w.queue.Ack(settleCtx, d); ackErr != nil {
			logCtx.Error("Failed to ack entry.", "error", ackErr)
			return
		}
		logCtx.Info("Entry processed.", "route", out.Route, "encryption", out.State.String(), "pageCount", out.Verdict.PageCount)
	case ctx.Err() != nil:
		logCtx.Warn("Shutdown interrupted entry, releasing for redelivery.", "error", err)
		w.release(settleCtx, logCtx, d)
	case models.IsDocumentFatal(err):
		w.deadLetter(settleCtx, logCtx, d, &entry, out.Doc, err)
	case d.Attempts >= w.maxAttempts:
		w.deadLetter(settleCtx, logCtx, d, &entry, out.Doc, fmt.Errorf("giving up after %d attempts: %w", d.Attempts, err))
	default:
		logCtx.Warn("Transient failure, releasing entry for redelivery.", "error", err)
		w.release(settleCtx, logCtx, d)
	}
}

// keepLeased pushes d's visibility forward until the returned func is called.
func (w *Worker) keepLeased(ctx context.Context, logCtx *slog.Logger, d *queue.Delivery) func() {
	if w.leaseExtension <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(w.leaseExtension / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := w.queue.Extend(ctx, d, w.leaseExtension)
				if errors.Is(err, queue.ErrLeaseLost) {
					logCtx.Warn("Lost the claim on entry while processing.", "error", err)
					return
				}
				if err != nil {
					logCtx.Warn("Failed to extend entry lease.", "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// ProcessEntry fetches, normalizes and classifies one resume and dispatches
// the result. Per-document failures come back as errors for which
// models.IsDocumentFatal is true; anything else is a dispatch failure.
func (w *Worker) ProcessEntry(ctx context.Context, entry *models.BatchEntry) (out Outcome, err error) {
	out.Route = RouteFailed
	defer func() {
		if r := recover(); r != nil {
			out.Route = RouteFailed
			err = fmt.Errorf("%w: panic while processing: %v", models.ErrMalformedDocument, r)
		}
	}()

	doc, err := w.fetch(ctx, entry.FileReference)
	if err != nil {
		return out, err
	}
	out.Doc = doc

	norm, err := w.normalizer.Normalize(doc)
	if norm != nil {
		out.State = norm.State
	}
	if err != nil {
		return out, err
	}

	out.Verdict = w.classifier.Classify(norm.Doc, norm.PageCount)
	switch out.Verdict.Kind {
	case classifier.TextBearing:
		text := models.ExtractedText{
			SubmitterID:   entry.SubmitterID,
			FileReference: entry.FileReference,
			Source:        models.SourcePDFText,
			Text:          out.Verdict.Text,
		}
		if err := w.textSink.SubmitText(ctx, text); err != nil {
			return out, fmt.Errorf("failed to submit extracted text: %w", err)
		}
		out.Route = RouteText
	default:
		if err := w.ocrSink.SubmitForOCR(ctx, norm.Doc, entry); err != nil {
			return out, fmt.Errorf("failed to hand off to OCR: %w", err)
		}
		out.Route = RouteOCR
	}
	return out, nil
}

func (w *Worker) fetch(ctx context.Context, ref string) (*document.Buffer, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, w.fetchTimeout)
	defer cancel()

	data, err := w.fetcher.Fetch(fetchCtx, ref)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			// Shutdown; the entry is released rather than reported.
		case errors.Is(fetchCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, models.ErrFetchTimeout):
			err = fmt.Errorf("%w after %s: %v", models.ErrFetchTimeout, w.fetchTimeout, err)
		case !models.IsDocumentFatal(err):
			err = fmt.Errorf("%w: %v", models.ErrFetchFailed, err)
		}
		return nil, fmt.Errorf("fetch %q: %w", ref, err)
	}
	return document.New(data)
}

func (w *Worker) deadLetter(ctx context.Context, logCtx *slog.Logger, d *queue.Delivery, entry *models.BatchEntry, doc *document.Buffer, cause error) {
	code := models.CodeOf(cause)
	logCtx.Error("Entry failed permanently.", "errorCode", code, "error", cause)

	report := models.FailureReport{
		EntryID:       entry.ID,
		FileReference: entry.FileReference,
		SubmitterID:   entry.SubmitterID,
		ErrorCode:     code,
		ErrorMessage:  cause.Error(),
		CreatedAt:     time.Now().UTC(),
	}
	if doc != nil {
		report.DocumentHash = doc.Hash()
	}
	if err := w.reporter.Report(ctx, report, doc); err != nil {
		logCtx.Error("CRITICAL: Failed to report failure, releasing entry for redelivery.", "reportError", err)
		w.release(ctx, logCtx, d)
		return
	}
	if err := w.queue.Park(ctx, d, code); err != nil {
		logCtx.Error("Failed to park entry.", "error", err)
	}
}

func (w *Worker) release(ctx context.Context, logCtx *slog.Logger, d *queue.Delivery) {
	var err error
	if w.retryDelay > 0 {
		err = w.queue.Extend(ctx, d, w.retryDelay)
	} else {
		err = w.queue.Nack(ctx, d)
	}
	if err != nil {
		// The visibility timeout will release it anyway.
		logCtx.Error("Failed to release entry.", "error", err)
	}
}

// RunPool runs size copies of w's loop concurrently and waits for all of
// them to stop.
func RunPool(ctx context.Context, w *Worker, size int) error {
	if size < 1 {
		size = 1
	}
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(size)
	for i := 0; i < size; i++ {
		logger := w.logger.With("workerId", i)
		eg.Go(func() error {
			return w.run(gctx, logger)
		})
	}
	return eg.Wait()
}
