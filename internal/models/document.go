package models

import "time"

// FailureReport is the dead-letter record written to Firestore when a resume
// cannot be processed. It carries enough context for a human or a retry job
// to find the original upload.
type FailureReport struct {
	EntryID       string    `firestore:"entryId,omitempty"`
	FileReference string    `firestore:"fileReference"`
	SubmitterID   string    `firestore:"submitterId"`
	ErrorCode     string    `firestore:"errorCode"`
	ErrorMessage  string    `firestore:"errorMessage,omitempty"`
	DocumentHash  string    `firestore:"documentHash,omitempty"`
	ArchivedURI   string    `firestore:"archivedUri,omitempty"` // gs:// copy of the failed bytes
	CreatedAt     time.Time `firestore:"createdAt,omitempty"`
}

// BatchRecord is the audit record of one accepted enqueue request.
type BatchRecord struct {
	BatchID        string    `firestore:"batchId"`
	SubmitterID    string    `firestore:"submitterId"`
	FileReferences []string  `firestore:"fileReferences"`
	AcceptedCount  int       `firestore:"acceptedCount"`
	Queue          string    `firestore:"queue"`
	CreatedAt      time.Time `firestore:"createdAt,omitempty"`
}
