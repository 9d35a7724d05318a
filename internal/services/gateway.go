package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Lllllllleong/resumeflow/internal/models"
	"github.com/Lllllllleong/resumeflow/internal/queue"
	"github.com/google/uuid"
)

// Gateway validates enqueue requests and publishes one queue entry per file
// reference.
type Gateway struct {
	publisher BatchPublisher
	recorder  BatchRecorder
	now       func() time.Time
	closers   []func() error
}

// NewGateway builds a Gateway. recorder may be nil.
func NewGateway(publisher BatchPublisher, recorder BatchRecorder) *Gateway {
	return &Gateway{
		publisher: publisher,
		recorder:  recorder,
		now:       time.Now,
	}
}

// Enqueue publishes the whole batch or nothing. References are opaque and are
// published as given, in order.
func (g *Gateway) Enqueue(ctx context.Context, fileReferences []string, submitterID string) (*models.EnqueueResponse, error) {
	if err := validateEnqueue(fileReferences, submitterID); err != nil {
		return nil, err
	}

	batchID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate batch id: %w", err)
	}
	logCtx := slog.With("batchId", batchID.String(), "submitterId", submitterID, "count", len(fileReferences))

	submittedAt := g.now().UTC()
	msgs := make([]queue.Message, 0, len(fileReferences))
	for i, ref := range fileReferences {
		entryID, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate entry id: %w", err)
		}
		entry := models.BatchEntry{
			ID:            entryID.String(),
			BatchID:       batchID.String(),
			Sequence:      i,
			SubmitterID:   submitterID,
			FileReference: ref,
			SubmittedAt:   submittedAt,
		}
		payload, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal batch entry: %w", err)
		}
		msgs = append(msgs, queue.Message{ID: entry.ID, Payload: payload})
	}

	if err := g.publisher.PublishBatch(ctx, msgs); err != nil {
		logCtx.Error("Failed to publish batch.", "error", err)
		return nil, fmt.Errorf("failed to publish batch: %w", err)
	}
	logCtx.Info("Batch enqueued.", "queue", g.publisher.Name())

	if g.recorder != nil {
		record := models.BatchRecord{
			BatchID:        batchID.String(),
			SubmitterID:    submitterID,
			FileReferences: fileReferences,
			AcceptedCount:  len(msgs),
			Queue:          g.publisher.Name(),
			CreatedAt:      submittedAt,
		}
		if err := g.recorder.RecordBatch(ctx, record); err != nil {
			// The queue write already committed the batch.
			logCtx.Warn("Failed to record batch audit entry.", "error", err)
		}
	}

	return &models.EnqueueResponse{
		AcceptedCount: len(msgs),
		BatchID:       batchID.String(),
		Queue:         g.publisher.Name(),
	}, nil
}

// Close releases the clients the gateway was built with.
func (g *Gateway) Close() error {
	var firstErr error
	for _, c := range g.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func validateEnqueue(fileReferences []string, submitterID string) error {
	if len(fileReferences) == 0 {
		return fmt.Errorf("%w: filenames must not be empty", models.ErrInvalidRequest)
	}
	for i, ref := range fileReferences {
		if strings.TrimSpace(ref) == "" {
			return fmt.Errorf("%w: filename at index %d is empty", models.ErrInvalidRequest, i)
		}
	}
	if strings.TrimSpace(submitterID) == "" {
		return fmt.Errorf("%w: submitter id must be set", models.ErrInvalidRequest)
	}
	return nil
}
