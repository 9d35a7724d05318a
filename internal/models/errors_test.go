package models

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	cases := map[string]struct {
		err  error
		want string
	}{
		"nil":       {nil, ""},
		"encrypted": {fmt.Errorf("normalize: %w", NewEncryptedPDFError(nil)), CodeEncryptedPDF},
		"malformed": {fmt.Errorf("parse: %w", ErrMalformedDocument), CodeMalformedDocument},
		"not found": {fmt.Errorf("fetch gs://b/o: %w", ErrNotFound), CodeNotFound},
		"timeout":   {ErrFetchTimeout, CodeFetchTimeout},
		"denied":    {fmt.Errorf("%w: googleapi: Error 403", ErrFetchFailed), CodeFetchFailed},
		"invalid":   {ErrInvalidRequest, CodeInvalidRequest},
		"other":     {context.Canceled, CodeInternal},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := CodeOf(tc.err); got != tc.want {
				t.Errorf("CodeOf() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestEncryptedPDFError_UnwrapsCause(t *testing.T) {
	cause := errors.New("wrong password")
	err := NewEncryptedPDFError(cause)
	if !errors.Is(err, cause) {
		t.Fatal("cause should be reachable through Unwrap")
	}
	if err.Code != "ENCRYPTED_PDF" {
		t.Fatalf("code = %q", err.Code)
	}
}

func TestIsDocumentFatal(t *testing.T) {
	for _, err := range []error{NewEncryptedPDFError(nil), ErrMalformedDocument, ErrNotFound, ErrFetchTimeout, ErrFetchFailed} {
		if !IsDocumentFatal(err) {
			t.Errorf("%v should be fatal", err)
		}
	}
	if IsDocumentFatal(errors.New("publish: connection reset")) {
		t.Error("transient errors must not be fatal")
	}
}
