// Package classifier decides whether a cleartext resume carries a usable text
// layer or must be sent to OCR.
package classifier

import (
	"strings"

	"github.com/Lllllllleong/resumeflow/internal/document"
)

// Kind is the document-level verdict.
type Kind int

const (
	TextBearing Kind = iota
	ImageOnly
)

func (k Kind) String() string {
	if k == TextBearing {
		return "text-bearing"
	}
	return "image-only"
}

// PageOutcome is the extraction result of one page. HasText false means
// NoText; Text is then empty.
type PageOutcome struct {
	Page    int
	Text    string
	HasText bool
}

// Verdict is the classification of a whole document. Text is only set for
// TextBearing documents.
type Verdict struct {
	Kind          Kind
	Text          string
	PageCount     int
	PagesWithText int
}

// Decide aggregates per-page outcomes, in document order, into a verdict.
//
// Every page must yield text for the document to be TextBearing. A single
// NoText page makes the whole document ImageOnly and all partial text is
// dropped. A document with no pages is TextBearing with empty text.
func Decide(pages []PageOutcome) Verdict {
	v := Verdict{PageCount: len(pages)}
	var text strings.Builder
	for _, p := range pages {
		if !p.HasText {
			continue
		}
		v.PagesWithText++
		text.WriteString(p.Text)
	}
	if v.PagesWithText < v.PageCount {
		v.Kind = ImageOnly
		return v
	}
	v.Kind = TextBearing
	v.Text = text.String()
	return v
}

// PageExtractor attempts text extraction on every page of a cleartext
// document. Implementations must return exactly pageCount outcomes and never
// fail: a page that cannot be read is a NoText page.
type PageExtractor interface {
	ExtractPages(doc *document.Buffer, pageCount int) []PageOutcome
}

// Classifier combines a PageExtractor with Decide.
type Classifier struct {
	extractor PageExtractor
}

// New returns a Classifier. A nil extractor uses the default PDF extractor.
func New(extractor PageExtractor) *Classifier {
	if extractor == nil {
		extractor = NewPDFExtractor(nil)
	}
	return &Classifier{extractor: extractor}
}

// Classify extracts every page of doc and returns the verdict.
func (c *Classifier) Classify(doc *document.Buffer, pageCount int) Verdict {
	return Decide(c.extractor.ExtractPages(doc, pageCount))
}
