package classifier_test

import (
	"testing"

	"github.com/Lllllllleong/resumeflow/internal/classifier"
	"github.com/Lllllllleong/resumeflow/internal/document"
	"github.com/Lllllllleong/resumeflow/internal/pdfnorm"
	"github.com/Lllllllleong/resumeflow/internal/pdftest"
)

// Decrypting an empty-password document must not change its verdict.
func TestDecryptionIsTransparentToClassification(t *testing.T) {
	fixtures := map[string][]pdftest.Page{
		"text":  {pdftest.TextPage("Jane Doe"), pdftest.TextPage("Platform Engineer")},
		"mixed": {pdftest.TextPage("Cover"), pdftest.ImagePage()},
	}
	norm := pdfnorm.New(nil)
	cls := classifier.New(nil)

	for name, pages := range fixtures {
		t.Run(name, func(t *testing.T) {
			plain := pdftest.Build(pages...)
			want := classify(t, norm, cls, plain)
			got := classify(t, norm, cls, pdftest.Encrypt(t, plain, "", "owner"))

			if got.Kind != want.Kind || got.Text != want.Text {
				t.Fatalf("encrypted verdict %+v differs from plain verdict %+v", got, want)
			}
		})
	}
}

func classify(t *testing.T, norm *pdfnorm.Normalizer, cls *classifier.Classifier, raw []byte) classifier.Verdict {
	t.Helper()
	doc, err := document.New(raw)
	if err != nil {
		t.Fatal(err)
	}
	res, err := norm.Normalize(doc)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return cls.Classify(res.Doc, res.PageCount)
}

// A document without pages carries no image pages, so it is text-bearing
// with nothing to extract.
func TestZeroPageDocumentIsEmptyTextBearing(t *testing.T) {
	doc, err := document.New(pdftest.Build())
	if err != nil {
		t.Fatal(err)
	}
	res, err := pdfnorm.New(nil).Normalize(doc)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if res.State != pdfnorm.Unencrypted || res.PageCount != 0 {
		t.Fatalf("normalized %v with %d pages, want unencrypted with 0", res.State, res.PageCount)
	}

	v := classifier.New(nil).Classify(res.Doc, res.PageCount)
	if v.Kind != classifier.TextBearing || v.Text != "" || v.PageCount != 0 {
		t.Fatalf("got %+v, want empty text-bearing verdict", v)
	}
}
