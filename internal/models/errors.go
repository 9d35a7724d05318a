package models

import (
	"errors"
	"fmt"
)

// Stable error codes surfaced to callers and to the dead-letter store.
// ENCRYPTED_PDF is part of the public API and must not change.
const (
	CodeEncryptedPDF      = "ENCRYPTED_PDF"
	CodeMalformedDocument = "MALFORMED_DOCUMENT"
	CodeNotFound          = "NOT_FOUND"
	CodeFetchTimeout      = "FETCH_TIMEOUT"
	CodeFetchFailed       = "FETCH_FAILED"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeInternal          = "INTERNAL"
)

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrMalformedDocument = errors.New("malformed document")
	ErrNotFound          = errors.New("file reference not found")
	ErrFetchTimeout      = errors.New("timed out fetching file")
	ErrFetchFailed       = errors.New("failed to fetch file")
)

// EncryptedPDFError reports a PDF that is encrypted and cannot be opened with
// the empty password.
type EncryptedPDFError struct {
	Code    string
	Message string
	Err     error
}

// NewEncryptedPDFError wraps cause (which may be nil) as an ENCRYPTED_PDF error.
func NewEncryptedPDFError(cause error) *EncryptedPDFError {
	return &EncryptedPDFError{
		Code:    CodeEncryptedPDF,
		Message: "The PDF is encrypted and could not be opened without a password.",
		Err:     cause,
	}
}

func (e *EncryptedPDFError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *EncryptedPDFError) Unwrap() error { return e.Err }

// CodeOf maps an error to its stable code.
func CodeOf(err error) string {
	var encErr *EncryptedPDFError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &encErr):
		return encErr.Code
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrFetchTimeout):
		return CodeFetchTimeout
	case errors.Is(err, ErrFetchFailed):
		return CodeFetchFailed
	case errors.Is(err, ErrMalformedDocument):
		return CodeMalformedDocument
	default:
		return CodeInternal
	}
}

// IsDocumentFatal reports whether err is a per-document failure that must be
// routed to the dead-letter store instead of being retried.
func IsDocumentFatal(err error) bool {
	switch CodeOf(err) {
	case CodeEncryptedPDF, CodeMalformedDocument, CodeNotFound, CodeFetchTimeout, CodeFetchFailed:
		return true
	}
	return false
}
