package services

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/resumeflow/internal/document"
	"github.com/Lllllllleong/resumeflow/internal/gcp"
	"github.com/Lllllllleong/resumeflow/internal/models"
)

// FirestoreReporter is the dead-letter store: one Firestore document per
// failed entry, plus a copy of the failed bytes in GCS when available.
type FirestoreReporter struct {
	firestoreClient *firestore.Client
	storageClient   *storage.Client
	collection      string
	archiveBucket   string
}

// NewFirestoreReporter builds a reporter. An empty archiveBucket disables
// archiving.
func NewFirestoreReporter(firestoreClient *firestore.Client, storageClient *storage.Client, collection, archiveBucket string) *FirestoreReporter {
	return &FirestoreReporter{
		firestoreClient: firestoreClient,
		storageClient:   storageClient,
		collection:      collection,
		archiveBucket:   archiveBucket,
	}
}

func (r *FirestoreReporter) Report(ctx context.Context, report models.FailureReport, doc *document.Buffer) error {
	logCtx := slog.With("entryId", report.EntryID, "fileReference", report.FileReference, "errorCode", report.ErrorCode)

	if doc != nil && r.archiveBucket != "" && r.storageClient != nil {
		objectName := failedObjectName(doc.Hash())
		if err := gcp.SaveWithRetry(ctx, r.storageClient.Bucket(r.archiveBucket), objectName, doc.ReadAll(), "application/pdf"); err != nil {
			logCtx.Warn("Failed to archive failed resume.", "error", err)
		} else {
			report.ArchivedURI = fmt.Sprintf("gs://%s/%s", r.archiveBucket, objectName)
		}
	}

	docRef, _, err := r.firestoreClient.Collection(r.collection).Add(ctx, report)
	if err != nil {
		return fmt.Errorf("failed to write failure report: %w", err)
	}
	logCtx.Info("Failure reported.", "reportId", docRef.ID)
	return nil
}

func failedObjectName(hash string) string {
	return fmt.Sprintf("FailedResumes/%s.pdf", hash)
}

// FirestoreBatchRecorder writes one audit document per accepted batch, keyed
// by batch id.
type FirestoreBatchRecorder struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreBatchRecorder(client *firestore.Client, collection string) *FirestoreBatchRecorder {
	return &FirestoreBatchRecorder{client: client, collection: collection}
}

func (r *FirestoreBatchRecorder) RecordBatch(ctx context.Context, record models.BatchRecord) error {
	if _, err := r.client.Collection(r.collection).Doc(record.BatchID).Set(ctx, record); err != nil {
		return fmt.Errorf("failed to record batch %s: %w", record.BatchID, err)
	}
	return nil
}
