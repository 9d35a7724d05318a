package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/resumeflow/internal/models"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

const (
	ExtractedTextEventType = "com.resumeflow.resume.text.v1"
	eventSource            = "resumeflow/batch-worker"
)

// CloudEventTextSink delivers extracted text to the semantic extractor as a
// CloudEvent over HTTP.
type CloudEventTextSink struct {
	client cloudevents.Client
	target string
}

// NewCloudEventTextSink builds a sink posting to target.
func NewCloudEventTextSink(target string) (*CloudEventTextSink, error) {
	client, err := cloudevents.NewClientHTTP()
	if err != nil {
		return nil, fmt.Errorf("failed to create CloudEvents client: %w", err)
	}
	return &CloudEventTextSink{client: client, target: target}, nil
}

func (s *CloudEventTextSink) SubmitText(ctx context.Context, text models.ExtractedText) error {
	event, err := newExtractedTextEvent(text)
	if err != nil {
		return err
	}

	result := s.client.Send(cloudevents.ContextWithTarget(ctx, s.target), event)
	if !cloudevents.IsACK(result) {
		return fmt.Errorf("semantic extractor rejected event %s: %w", event.ID(), result)
	}
	slog.Debug("Extracted text delivered.", "eventId", event.ID(), "source", text.Source, "submitterId", text.SubmitterID)
	return nil
}

func newExtractedTextEvent(text models.ExtractedText) (cloudevents.Event, error) {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource(eventSource)
	event.SetType(ExtractedTextEventType)
	event.SetSubject(text.SubmitterID)
	if err := event.SetData(cloudevents.ApplicationJSON, text); err != nil {
		return event, fmt.Errorf("failed to encode extracted text event: %w", err)
	}
	return event, nil
}
