package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/resumeflow/internal/gcp"
	"github.com/Lllllllleong/resumeflow/internal/queue"
)

const (
	OCRBackendWorkflow = "workflow"
	OCRBackendVertex   = "vertex"
)

// GatewayConfig holds all configuration for the batch-enqueue function.
type GatewayConfig struct {
	ProjectID       string
	QueueDBPath     string
	QueueName       string
	BatchCollection string
}

// WorkerConfig holds all configuration for the batch worker.
type WorkerConfig struct {
	ProjectID           string
	QueueDBPath         string
	QueueName           string
	Visibility          time.Duration
	RetryDelay          time.Duration
	ResumeBucket        string
	OCRStagingBucket    string
	FailedResumesBucket string
	FailureCollection   string
	WorkflowID          string
	WorkflowLocation    string
	ExtractorURL        string
	OCRBackend          string
	VertexAIRegion      string
	FetchTimeout        time.Duration
	Concurrency         int
	MaxAttempts         int
}

func loadGatewayConfig() (*GatewayConfig, error) {
	config := &GatewayConfig{
		ProjectID:       gcp.GetEnv("PROJECT_ID", ""),
		QueueDBPath:     gcp.GetEnv("QUEUE_DB_PATH", ""),
		QueueName:       gcp.GetEnv("QUEUE_NAME", "resume-intake"),
		BatchCollection: gcp.GetEnv("BATCH_COLLECTION", "batches"),
	}
	if config.QueueDBPath == "" {
		return nil, fmt.Errorf("QUEUE_DB_PATH environment variable must be set")
	}
	return config, nil
}

func loadWorkerConfig() (*WorkerConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	config := &WorkerConfig{
		ProjectID:           projectID,
		QueueDBPath:         gcp.GetEnv("QUEUE_DB_PATH", ""),
		QueueName:           gcp.GetEnv("QUEUE_NAME", "resume-intake"),
		ResumeBucket:        gcp.GetEnv("RESUME_BUCKET", ""),
		OCRStagingBucket:    gcp.GetEnv("OCR_STAGING_BUCKET", ""),
		FailedResumesBucket: gcp.GetEnv("FAILED_RESUMES_BUCKET", ""),
		FailureCollection:   gcp.GetEnv("FIRESTORE_COLLECTION", "failed_resumes"),
		WorkflowID:          gcp.GetEnv("WORKFLOW_ID", "resume-ocr"),
		WorkflowLocation:    gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		ExtractorURL:        gcp.GetEnv("EXTRACTOR_URL", ""),
		OCRBackend:          gcp.GetEnv("OCR_BACKEND", OCRBackendWorkflow),
		VertexAIRegion:      gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
	}
	if config.QueueDBPath == "" {
		return nil, fmt.Errorf("QUEUE_DB_PATH environment variable must be set")
	}
	if config.OCRStagingBucket == "" {
		return nil, fmt.Errorf("OCR_STAGING_BUCKET environment variable must be set")
	}
	if config.ExtractorURL == "" {
		return nil, fmt.Errorf("EXTRACTOR_URL environment variable must be set")
	}
	if config.OCRBackend != OCRBackendWorkflow && config.OCRBackend != OCRBackendVertex {
		return nil, fmt.Errorf("OCR_BACKEND must be %q or %q, got %q", OCRBackendWorkflow, OCRBackendVertex, config.OCRBackend)
	}

	var err error
	if config.Visibility, err = gcp.GetEnvDuration("QUEUE_VISIBILITY", 5*time.Minute); err != nil {
		return nil, err
	}
	if config.RetryDelay, err = gcp.GetEnvDuration("RETRY_DELAY", 30*time.Second); err != nil {
		return nil, err
	}
	if config.FetchTimeout, err = gcp.GetEnvDuration("FETCH_TIMEOUT", defaultFetchTimeout); err != nil {
		return nil, err
	}
	if config.Concurrency, err = gcp.GetEnvInt("WORKER_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if config.Concurrency < 1 {
		return nil, fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", config.Concurrency)
	}
	if config.MaxAttempts, err = gcp.GetEnvInt("MAX_ATTEMPTS", defaultMaxAttempts); err != nil {
		return nil, err
	}
	if config.MaxAttempts < 1 {
		return nil, fmt.Errorf("MAX_ATTEMPTS must be at least 1, got %d", config.MaxAttempts)
	}
	return config, nil
}

func openQueue(ctx context.Context, path, name string, visibility time.Duration) (*queue.Q, func() error, error) {
	db, err := queue.OpenDB(path)
	if err != nil {
		return nil, nil, err
	}
	q := queue.New(db, queue.Options{Queue: name, Visibility: visibility})
	if err := q.EnsureTable(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return q, db.Close, nil
}

// NewGatewayFromEnv builds the Gateway used by the batch-enqueue function.
// The batch audit recorder is only wired when PROJECT_ID is set.
func NewGatewayFromEnv(ctx context.Context) (*Gateway, error) {
	config, err := loadGatewayConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	q, closeQueue, err := openQueue(ctx, config.QueueDBPath, config.QueueName, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue: %w", err)
	}

	var recorder BatchRecorder
	closers := []func() error{closeQueue}
	if config.ProjectID != "" && config.BatchCollection != "" {
		firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
		if err != nil {
			closeQueue()
			return nil, err
		}
		recorder = NewFirestoreBatchRecorder(firestoreClient, config.BatchCollection)
		closers = append(closers, firestoreClient.Close)
	}

	g := NewGateway(q, recorder)
	g.closers = closers
	slog.Info("Batch gateway initialized.", "queue", config.QueueName, "auditEnabled", recorder != nil)
	return g, nil
}

// WorkerService is a configured worker pool and the clients it owns.
type WorkerService struct {
	worker      *Worker
	concurrency int
	vertexSink  *VertexOCRSink
	closers     []func() error
}

// NewWorkerServiceFromEnv builds every collaborator from the environment.
func NewWorkerServiceFromEnv(ctx context.Context) (*WorkerService, error) {
	config, err := loadWorkerConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	svc := &WorkerService{concurrency: config.Concurrency}

	q, closeQueue, err := openQueue(ctx, config.QueueDBPath, config.QueueName, config.Visibility)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue: %w", err)
	}
	svc.closers = append(svc.closers, closeQueue)

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	svc.closers = append(svc.closers, storageClient.Close)

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.closers = append(svc.closers, firestoreClient.Close)

	textSink, err := NewCloudEventTextSink(config.ExtractorURL)
	if err != nil {
		svc.Close()
		return nil, err
	}

	var ocrSink OCRSink
	switch config.OCRBackend {
	case OCRBackendVertex:
		vertexClient, err := gcp.NewVertexClient(ctx, config.ProjectID, config.VertexAIRegion)
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("failed to create vertex client: %w", err)
		}
		svc.closers = append(svc.closers, vertexClient.Close)
		svc.vertexSink = NewVertexOCRSink(storageClient, vertexClient, config.OCRStagingBucket, textSink)
		ocrSink = svc.vertexSink
	default:
		executionsClient, err := gcp.NewExecutionsClient(ctx)
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.closers = append(svc.closers, executionsClient.Close)
		parent := gcp.WorkflowParent(config.ProjectID, config.WorkflowLocation, config.WorkflowID)
		ocrSink = NewWorkflowOCRSink(storageClient, executionsClient, config.OCRStagingBucket, parent)
	}

	svc.worker, err = NewWorker(WorkerDeps{
		Queue:    q,
		Fetcher:  NewGCSFetcher(storageClient, config.ResumeBucket),
		TextSink: textSink,
		OCRSink:  ocrSink,
		Reporter: NewFirestoreReporter(firestoreClient, storageClient, config.FailureCollection, config.FailedResumesBucket),
	}, WorkerOptions{
		FetchTimeout:   config.FetchTimeout,
		RetryDelay:     config.RetryDelay,
		MaxAttempts:    config.MaxAttempts,
		LeaseExtension: config.Visibility,
	})
	if err != nil {
		svc.Close()
		return nil, err
	}

	slog.Info("Batch worker initialized.",
		"queue", config.QueueName,
		"concurrency", config.Concurrency,
		"ocrBackend", config.OCRBackend,
		"fetchTimeout", config.FetchTimeout.String(),
		"maxAttempts", config.MaxAttempts,
	)
	return svc, nil
}

// Run blocks until ctx is done and every worker has stopped.
func (s *WorkerService) Run(ctx context.Context) error {
	err := RunPool(ctx, s.worker, s.concurrency)
	if s.vertexSink != nil {
		s.vertexSink.Wait()
	}
	return err
}

// Close releases clients in reverse order of creation.
func (s *WorkerService) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
