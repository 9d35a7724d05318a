// Package pdfnorm turns encrypted resumes into cleartext documents when the
// empty password is enough to open them.
package pdfnorm

import (
	"bytes"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/Lllllllleong/resumeflow/internal/document"
	"github.com/Lllllllleong/resumeflow/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// EncryptionState is derived per document and never persisted.
type EncryptionState int

const (
	Unencrypted EncryptionState = iota
	EncryptedRecoverable
	EncryptedUnrecoverable
)

func (s EncryptionState) String() string {
	switch s {
	case Unencrypted:
		return "unencrypted"
	case EncryptedRecoverable:
		return "encrypted-recoverable"
	case EncryptedUnrecoverable:
		return "encrypted-unrecoverable"
	default:
		return fmt.Sprintf("EncryptionState(%d)", int(s))
	}
}

// Result is the outcome of Normalize. Doc is always cleartext when err is nil.
type Result struct {
	Doc       *document.Buffer
	State     EncryptionState
	PageCount int
}

// Normalizer detects and removes empty-password encryption.
type Normalizer struct {
	logger *slog.Logger
}

// New creates a Normalizer. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

// encryptRef matches the /Encrypt entry of a trailer or cross-reference
// stream dictionary. Neither can live in a compressed object stream, so the
// entry is always visible in the raw bytes.
var encryptRef = regexp.MustCompile(`/Encrypt\s*(\d+\s+\d+\s+R|<<)`)

// Normalize returns a cleartext equivalent of doc. The input buffer is never
// modified; a decrypted document is returned as a new Buffer.
//
// Errors: models.ErrMalformedDocument when no PDF structure can be parsed,
// *models.EncryptedPDFError (state EncryptedUnrecoverable) when the document
// is encrypted and the empty password does not open it.
func (n *Normalizer) Normalize(doc *document.Buffer) (*Result, error) {
	logCtx := n.logger.With("documentHash", doc.Hash())

	if err := doc.Rewind(); err != nil {
		return nil, fmt.Errorf("rewind: %w", models.ErrMalformedDocument)
	}
	ctx, err := api.ReadContext(doc, emptyPasswordConfig())
	if err != nil {
		if declaresEncryption(doc) {
			logCtx.Info("Encrypted PDF cannot be opened with the empty password.", "error", err)
			return &Result{Doc: doc, State: EncryptedUnrecoverable}, models.NewEncryptedPDFError(err)
		}
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedDocument, err)
	}

	if ctx.Encrypt == nil && ctx.E == nil {
		return &Result{Doc: doc, State: Unencrypted, PageCount: ctx.PageCount}, nil
	}

	clear, err := n.decrypt(doc, ctx.PageCount)
	if err != nil {
		logCtx.Warn("Empty-password decryption failed.", "error", err)
		return &Result{Doc: doc, State: EncryptedUnrecoverable}, models.NewEncryptedPDFError(err)
	}
	logCtx.Info("Decrypted PDF with the empty password.", "pageCount", ctx.PageCount)
	return &Result{Doc: clear, State: EncryptedRecoverable, PageCount: ctx.PageCount}, nil
}

// decrypt rewrites doc without its security handler and checks that every
// source page made it into the new document.
func (n *Normalizer) decrypt(doc *document.Buffer, wantPages int) (*document.Buffer, error) {
	if err := doc.Rewind(); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := api.Decrypt(doc, &out, emptyPasswordConfig()); err != nil {
		return nil, fmt.Errorf("pdfcpu decrypt: %w", err)
	}

	clear, err := document.New(out.Bytes())
	if err != nil {
		return nil, err
	}
	gotPages, err := api.PageCount(clear, relaxedConfig())
	if err != nil {
		return nil, fmt.Errorf("re-reading decrypted document: %w", err)
	}
	if gotPages != wantPages {
		return nil, fmt.Errorf("decrypted document has %d pages, source has %d", gotPages, wantPages)
	}
	if err := clear.Rewind(); err != nil {
		return nil, err
	}
	return clear, nil
}

func declaresEncryption(doc *document.Buffer) bool {
	return encryptRef.Match(doc.ReadAll())
}

func relaxedConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// emptyPasswordConfig is the only credential this service ever tries.
func emptyPasswordConfig() *model.Configuration {
	conf := relaxedConfig()
	conf.UserPW = ""
	conf.OwnerPW = ""
	return conf
}
