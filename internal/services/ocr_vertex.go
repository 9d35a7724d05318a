package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/resumeflow/internal/document"
	"github.com/Lllllllleong/resumeflow/internal/gcp"
	"github.com/Lllllllleong/resumeflow/internal/models"
)

const vertexOCRTimeout = 5 * time.Minute

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// VertexOCRSink transcribes image-only resumes with Gemini in the background
// and forwards the transcription to a TextSink. SubmitForOCR returns once
// the document is staged.
type VertexOCRSink struct {
	storageClient *storage.Client
	vertexClient  *gcp.VertexClient
	stagingBucket string
	textSink      TextSink
	wg            sync.WaitGroup
}

func NewVertexOCRSink(storageClient *storage.Client, vertexClient *gcp.VertexClient, stagingBucket string, textSink TextSink) *VertexOCRSink {
	return &VertexOCRSink{
		storageClient: storageClient,
		vertexClient:  vertexClient,
		stagingBucket: stagingBucket,
		textSink:      textSink,
	}
}

func (s *VertexOCRSink) SubmitForOCR(ctx context.Context, doc *document.Buffer, entry *models.BatchEntry) error {
	gcsURI, err := stageForOCR(ctx, s.storageClient, s.stagingBucket, doc, entry)
	if err != nil {
		return err
	}

	entryCopy := *entry
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), vertexOCRTimeout)
		defer cancel()
		s.transcribe(bgCtx, gcsURI, &entryCopy)
	}()
	return nil
}

// Wait blocks until every background transcription has finished.
func (s *VertexOCRSink) Wait() {
	s.wg.Wait()
}

func (s *VertexOCRSink) transcribe(ctx context.Context, gcsURI string, entry *models.BatchEntry) {
	logCtx := slog.With("entryId", entry.ID, "submitterId", entry.SubmitterID, "gcsUri", gcsURI)
	logCtx.Info("Starting OCR transcription.")

	filePart := genai.FileData{
		MIMEType: "application/pdf",
		FileURI:  gcsURI,
	}
	resp, err := s.vertexClient.OCRModel.GenerateContent(ctx, filePart, genai.Text(gcp.OCRUserPrompt))
	if err != nil {
		logCtx.Error("Failed to call Vertex AI for OCR.", "error", err)
		return
	}

	text := extractTranscription(resp)
	if err := checkRefusal(text); err != nil {
		logCtx.Error("OCR model refused the document.", "error", err)
		return
	}
	if text == "" {
		logCtx.Warn("OCR produced no text.")
	}

	err = s.textSink.SubmitText(ctx, models.ExtractedText{
		SubmitterID:   entry.SubmitterID,
		FileReference: entry.FileReference,
		Source:        models.SourceOCR,
		Text:          text,
	})
	if err != nil {
		logCtx.Error("Failed to forward OCR text.", "error", err)
		return
	}
	logCtx.Info("OCR transcription forwarded.", "chars", len(text))
}

// extractTranscription concatenates the text parts of the first candidate.
func extractTranscription(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	out := strings.TrimSpace(sb.String())
	out = strings.TrimPrefix(out, "```text")
	out = strings.TrimPrefix(out, "```")
	out = strings.TrimSuffix(out, "```")
	return strings.TrimSpace(out)
}

func checkRefusal(text string) error {
	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return fmt.Errorf("response contains refusal phrase %q", phrase)
		}
	}
	return nil
}
