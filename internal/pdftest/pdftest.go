// Package pdftest builds small, valid PDF documents for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Page describes one page of a generated document. A page with empty Text
// draws a single image XObject and carries no text layer.
type Page struct {
	Text string
}

// TextPage is a page showing text.
func TextPage(text string) Page { return Page{Text: text} }

// ImagePage is a scanned-looking page with no text.
func ImagePage() Page { return Page{} }

// Build writes a PDF 1.4 document with correct xref offsets.
//
// Object layout: 1 catalog, 2 page tree, 3 font, 4 image, then a page
// object and a content stream per page.
func Build(pages ...Page) []byte {
	var objs []string
	add := func(body string) int {
		objs = append(objs, body)
		return len(objs)
	}

	add("<< /Type /Catalog /Pages 2 0 R >>")
	add("") // page tree, filled in once kids are known
	add("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	add(stream("<< /Type /XObject /Subtype /Image /Width 1 /Height 1 /ColorSpace /DeviceGray /BitsPerComponent 8", "\x00"))

	var kids []string
	for _, p := range pages {
		var content string
		if p.Text != "" {
			content = "BT\n/F1 12 Tf\n72 720 Td\n(" + escape(p.Text) + ") Tj\nET"
		} else {
			content = "q\n100 0 0 100 72 692 cm\n/Im1 Do\nQ"
		}
		contentNr := add(stream("<<", content))
		pageNr := add(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
			"/Resources << /Font << /F1 3 0 R >> /XObject << /Im1 4 0 R >> >> /Contents %d 0 R >>", contentNr))
		kids = append(kids, fmt.Sprintf("%d 0 R", pageNr))
	}
	objs[1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(kids))

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs)+1)
	for i, body := range objs {
		offsets[i+1] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", len(objs)+1)
	b.WriteString("0000000000 65535 f \n")
	for i := 1; i <= len(objs); i++ {
		fmt.Fprintf(&b, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return b.Bytes()
}

func stream(dictPrefix, data string) string {
	return fmt.Sprintf("%s /Length %d >>\nstream\n%s\nendstream", dictPrefix, len(data), data)
}

func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "(", `\(`)
	return strings.ReplaceAll(s, ")", `\)`)
}

// Encrypt returns raw encrypted with AES-128 under the given passwords.
// An empty userPW yields a document any reader can open.
func Encrypt(tb testing.TB, raw []byte, userPW, ownerPW string) []byte {
	tb.Helper()
	conf := model.NewAESConfiguration(userPW, ownerPW, 128)
	conf.Permissions = model.PermissionsAll
	var out bytes.Buffer
	if err := api.Encrypt(bytes.NewReader(raw), &out, conf); err != nil {
		tb.Fatalf("encrypt fixture: %v", err)
	}
	return out.Bytes()
}
