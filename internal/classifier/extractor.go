package classifier

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/Lllllllleong/resumeflow/internal/document"
	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFExtractor reads page text with ledongthuc/pdf. Documents that library
// cannot open (PDF 2.0 headers, unusual xref layouts) fall back to scanning
// the page content streams decoded by pdfcpu.
type PDFExtractor struct {
	logger *slog.Logger
}

var _ PageExtractor = (*PDFExtractor)(nil)

// NewPDFExtractor creates the default extractor. A nil logger uses slog.Default().
func NewPDFExtractor(logger *slog.Logger) *PDFExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFExtractor{logger: logger}
}

// ExtractPages implements PageExtractor.
func (e *PDFExtractor) ExtractPages(doc *document.Buffer, pageCount int) []PageOutcome {
	outcomes := make([]PageOutcome, pageCount)
	for i := range outcomes {
		outcomes[i].Page = i + 1
	}
	if pageCount == 0 {
		return outcomes
	}

	var pageText func(pageNr int) string
	if r, err := openReader(doc); err == nil {
		pageText = func(pageNr int) string { return ledongthucPageText(r, pageNr) }
	} else {
		e.logger.Debug("ledongthuc reader unavailable, using content streams", "error", err)
		if err := doc.Rewind(); err != nil {
			return outcomes
		}
		conf := model.NewDefaultConfiguration()
		conf.ValidationMode = model.ValidationRelaxed
		ctx, err := api.ReadValidateAndOptimize(doc, conf)
		if err != nil {
			e.logger.Warn("No text extractor could open the document; all pages count as image.", "error", err)
			return outcomes
		}
		pageText = func(pageNr int) string { return contentStreamText(ctx, pageNr) }
	}

	// Any non-empty extraction counts as text, whitespace included.
	for i := range outcomes {
		text := safePageText(pageText, i+1)
		if text == "" {
			continue
		}
		outcomes[i].Text = text
		outcomes[i].HasText = true
	}
	return outcomes
}

// openReader guards against the reader panicking on damaged xref sections.
func openReader(doc *document.Buffer) (r *pdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			r, err = nil, fmt.Errorf("pdf reader panic: %v", p)
		}
	}()
	return pdf.NewReader(doc, doc.Len())
}

// safePageText isolates one page: a panic while decoding it only loses that page.
func safePageText(fn func(int) string, pageNr int) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	return fn(pageNr)
}

func ledongthucPageText(r *pdf.Reader, pageNr int) string {
	page := r.Page(pageNr)
	if page.V.IsNull() {
		return ""
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return text
}

// pdfStringRe matches PDF string literals: (text here)
var pdfStringRe = regexp.MustCompile(`\((?:[^()\\]|\\.)*\)`)

// contentStreamText collects the literal strings shown by Tj, TJ, ' and "
// operators on a page.
func contentStreamText(ctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil || r == nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return ""
	}

	var sb strings.Builder
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if !showsText(line) {
			continue
		}
		for _, m := range pdfStringRe.FindAll(line, -1) {
			sb.WriteString(decodePDFString(m[1 : len(m)-1]))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func showsText(line []byte) bool {
	return bytes.HasSuffix(line, []byte("Tj")) ||
		bytes.HasSuffix(line, []byte("TJ")) ||
		(bytes.HasSuffix(line, []byte("'")) || bytes.HasSuffix(line, []byte(`"`))) && bytes.Contains(line, []byte("("))
}

// decodePDFString handles the escape sequences of a PDF literal string.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch c := raw[i]; c {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case 'b', 'f':
		default:
			if c < '0' || c > '7' {
				sb.WriteByte(c)
				continue
			}
			// Up to three octal digits.
			val := int(c - '0')
			for k := 0; k < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; k++ {
				i++
				val = val*8 + int(raw[i]-'0')
			}
			sb.WriteByte(byte(val))
		}
	}
	return sb.String()
}
