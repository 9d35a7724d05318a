package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/resumeflow/internal/models"
)

func TestCloudEventTextSink_PostsEvent(t *testing.T) {
	var gotType, gotSubject string
	var got models.ExtractedText
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Ce-Type")
		gotSubject = r.Header.Get("Ce-Subject")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("body is not JSON: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink, err := NewCloudEventTextSink(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	text := models.ExtractedText{SubmitterID: "user-1", FileReference: "cv.pdf", Source: models.SourcePDFText, Text: "Jane Doe"}
	if err := sink.SubmitText(context.Background(), text); err != nil {
		t.Fatal(err)
	}

	if gotType != ExtractedTextEventType || gotSubject != "user-1" {
		t.Fatalf("headers: type=%q subject=%q", gotType, gotSubject)
	}
	if got != text {
		t.Fatalf("payload = %+v", got)
	}
}

func TestCloudEventTextSink_RejectionIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sink, err := NewCloudEventTextSink(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	err = sink.SubmitText(context.Background(), models.ExtractedText{SubmitterID: "u", Text: "x"})
	if err == nil {
		t.Fatal("expected error for 503")
	}
	if models.IsDocumentFatal(err) {
		t.Fatal("extractor outages must be retried, not dead-lettered")
	}
}

func TestNewOCRExecutionRequest(t *testing.T) {
	parent := "projects/p/locations/us-central1/workflows/resume-ocr"
	req, err := newOCRExecutionRequest(parent, models.OCRRequest{
		GCSUri:       "gs://staging/ocr/u/abc.pdf",
		SubmitterID:  "u",
		DocumentHash: "abc",
	})
	if err != nil {
		t.Fatal(err)
	}
	if req.Parent != parent {
		t.Fatalf("parent = %q", req.Parent)
	}
	var arg models.OCRRequest
	if err := json.Unmarshal([]byte(req.Execution.Argument), &arg); err != nil {
		t.Fatal(err)
	}
	if arg.GCSUri != "gs://staging/ocr/u/abc.pdf" || arg.SubmitterID != "u" {
		t.Fatalf("argument = %+v", arg)
	}
	if got := ocrObjectName("u", "abc"); got != "ocr/u/abc.pdf" {
		t.Fatalf("object name = %q", got)
	}
}

func TestExtractTranscription(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text("```text\nJane Doe\n"), genai.Text("Engineer\n```")}},
	}}}
	if got := extractTranscription(resp); got != "Jane Doe\nEngineer" {
		t.Fatalf("got %q", got)
	}
	if extractTranscription(nil) != "" {
		t.Fatal("nil response must yield empty text")
	}
	if checkRefusal("I am unable to read this scan.") == nil {
		t.Fatal("refusal not detected")
	}
	if checkRefusal("Jane Doe, Senior Engineer") != nil {
		t.Fatal("false refusal")
	}
}

func TestClassifyFetchError(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{storage.ErrObjectNotExist, models.CodeNotFound},
		{fmt.Errorf("read: %w", storage.ErrBucketNotExist), models.CodeNotFound},
		{context.DeadlineExceeded, models.CodeFetchTimeout},
		{errors.New("googleapi: Error 403: access denied"), models.CodeFetchFailed},
		{context.Canceled, models.CodeInternal},
	}
	for _, tc := range cases {
		got := models.CodeOf(classifyFetchError("b", "o.pdf", tc.err))
		if got != tc.want {
			t.Errorf("classifyFetchError(%v) code = %q, want %q", tc.err, got, tc.want)
		}
	}
	if !strings.HasPrefix(failedObjectName("abc"), "FailedResumes/") {
		t.Fatal("failed resumes are archived under FailedResumes/")
	}
}
