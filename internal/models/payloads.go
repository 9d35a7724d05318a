package models

import "time"

// These structs define the JSON payloads exchanged between the enqueue
// function, the queue, the worker and the downstream collaborators.

// EnqueueRequest is the body accepted by the batch-enqueue function.
type EnqueueRequest struct {
	Filenames   []string `json:"filenames"`
	SubmitterID string   `json:"submitterId"`
}

// EnqueueResponse acknowledges an accepted batch.
type EnqueueResponse struct {
	AcceptedCount int    `json:"acceptedCount"`
	BatchID       string `json:"batchId"`
	Queue         string `json:"queue"`
}

// BatchEntry is one queued resume awaiting processing. It is the queue
// message payload.
type BatchEntry struct {
	ID            string    `json:"id"`
	BatchID       string    `json:"batchId"`
	Sequence      int       `json:"sequence"`
	SubmitterID   string    `json:"submitterId"`
	FileReference string    `json:"fileReference"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// OCRRequest is the argument of the OCR workflow execution.
type OCRRequest struct {
	GCSUri        string `json:"gcsUri"`
	SubmitterID   string `json:"submitterId"`
	FileReference string `json:"fileReference,omitempty"`
	DocumentHash  string `json:"documentHash"`
}

// Values of ExtractedText.Source.
const (
	SourcePDFText = "pdf-text"
	SourceOCR     = "ocr"
)

// ExtractedText is the data of the CloudEvent sent to the semantic extractor.
type ExtractedText struct {
	SubmitterID   string `json:"submitterId"`
	FileReference string `json:"fileReference,omitempty"`
	Source        string `json:"source"`
	Text          string `json:"text"`
}
