package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/resumeflow/internal/document"
	"github.com/Lllllllleong/resumeflow/internal/gcp"
	"github.com/Lllllllleong/resumeflow/internal/models"
)

// WorkflowOCRSink stages image-only resumes in GCS and starts an OCR
// workflow execution for each. It returns once the execution is created.
type WorkflowOCRSink struct {
	storageClient    *storage.Client
	executionsClient *executions.Client
	stagingBucket    string
	workflowParent   string
}

func NewWorkflowOCRSink(storageClient *storage.Client, executionsClient *executions.Client, stagingBucket, workflowParent string) *WorkflowOCRSink {
	return &WorkflowOCRSink{
		storageClient:    storageClient,
		executionsClient: executionsClient,
		stagingBucket:    stagingBucket,
		workflowParent:   workflowParent,
	}
}

func (s *WorkflowOCRSink) SubmitForOCR(ctx context.Context, doc *document.Buffer, entry *models.BatchEntry) error {
	gcsURI, err := stageForOCR(ctx, s.storageClient, s.stagingBucket, doc, entry)
	if err != nil {
		return err
	}
	logCtx := slog.With("entryId", entry.ID, "gcsUri", gcsURI)

	req, err := newOCRExecutionRequest(s.workflowParent, models.OCRRequest{
		GCSUri:        gcsURI,
		SubmitterID:   entry.SubmitterID,
		FileReference: entry.FileReference,
		DocumentHash:  doc.Hash(),
	})
	if err != nil {
		return err
	}
	execution, err := s.executionsClient.CreateExecution(ctx, req)
	if err != nil {
		logCtx.Error("Failed to trigger OCR workflow execution.", "error", err)
		return fmt.Errorf("failed to trigger OCR workflow execution: %w", err)
	}
	logCtx.Info("OCR workflow triggered.", "execution", execution.GetName())
	return nil
}

// stageForOCR uploads the cleartext bytes under a content-addressed name and
// returns their gs:// URI. Re-staging the same document is a no-op.
func stageForOCR(ctx context.Context, client *storage.Client, bucket string, doc *document.Buffer, entry *models.BatchEntry) (string, error) {
	objectName := ocrObjectName(entry.SubmitterID, doc.Hash())
	if err := gcp.SaveWithRetry(ctx, client.Bucket(bucket), objectName, doc.ReadAll(), "application/pdf"); err != nil {
		return "", fmt.Errorf("failed to stage document for OCR: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", bucket, objectName), nil
}

func ocrObjectName(submitterID, hash string) string {
	return fmt.Sprintf("ocr/%s/%s.pdf", submitterID, hash)
}

func newOCRExecutionRequest(parent string, payload models.OCRRequest) (*executionspb.CreateExecutionRequest, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	return &executionspb.CreateExecutionRequest{
		Parent: parent,
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}, nil
}
