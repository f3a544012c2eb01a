package docx

import (
	"archive/zip"
	"bytes"
	"errors"
	"testing"
)

const wordNS = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"`

func buildDocx(t *testing.T, parts map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range parts {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func document(body string) string {
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?><w:document ` + wordNS + `><w:body>` + body + `</w:body></w:document>`
}

func TestToHTMLHeadingsRunsAndLinks(t *testing.T) {
	data := buildDocx(t, map[string]string{
		"word/document.xml": document(
			`<w:p><w:pPr><w:pStyle w:val="Heading1"/><w:rPr><w:b/></w:rPr></w:pPr><w:r><w:t>Quarterly report</w:t></w:r></w:p>` +
				`<w:p><w:r><w:t xml:space="preserve">Revenue </w:t></w:r><w:r><w:rPr><w:b/></w:rPr><w:t>grew</w:t></w:r>` +
				`<w:r><w:rPr><w:i w:val="false"/></w:rPr><w:t xml:space="preserve"> &amp; </w:t></w:r>` +
				`<w:hyperlink r:id="rId5"><w:r><w:t>see notes</w:t></w:r></w:hyperlink></w:p>` +
				`<w:p></w:p>`),
		"word/_rels/document.xml.rels": `<?xml version="1.0"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
			`<Relationship Id="rId5" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/hyperlink" Target="https://example.com/notes" TargetMode="External"/>` +
			`</Relationships>`,
	})

	got, err := ToHTML(data)
	if err != nil {
		t.Fatalf("ToHTML() error = %v", err)
	}
	want := `<h1>Quarterly report</h1><p>Revenue <strong>grew</strong> &amp; <a href="https://example.com/notes">see notes</a></p>`
	if got != want {
		t.Fatalf("ToHTML() mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestToHTMLListsAndTables(t *testing.T) {
	item := func(numID, level, text string) string {
		return `<w:p><w:pPr><w:pStyle w:val="ListParagraph"/><w:numPr><w:ilvl w:val="` + level + `"/><w:numId w:val="` + numID + `"/></w:numPr></w:pPr><w:r><w:t>` + text + `</w:t></w:r></w:p>`
	}
	cell := func(text string) string {
		return `<w:tc><w:p><w:r><w:t>` + text + `</w:t></w:r></w:p></w:tc>`
	}
	data := buildDocx(t, map[string]string{
		"word/document.xml": document(
			item("1", "0", "alpha") + item("1", "1", "alpha.1") + item("1", "0", "beta") +
				item("2", "0", "first") +
				`<w:tbl><w:tr>` + cell("Name") + cell("Qty") + `</w:tr><w:tr>` + cell("bolts") + cell("12") + `</w:tr></w:tbl>`),
		"word/numbering.xml": `<w:numbering ` + wordNS + `>` +
			`<w:abstractNum w:abstractNumId="10"><w:lvl w:ilvl="0"><w:numFmt w:val="bullet"/></w:lvl><w:lvl w:ilvl="1"><w:numFmt w:val="bullet"/></w:lvl></w:abstractNum>` +
			`<w:abstractNum w:abstractNumId="20"><w:lvl w:ilvl="0"><w:numFmt w:val="decimal"/></w:lvl></w:abstractNum>` +
			`<w:num w:numId="1"><w:abstractNumId w:val="10"/></w:num><w:num w:numId="2"><w:abstractNumId w:val="20"/></w:num>` +
			`</w:numbering>`,
	})

	got, err := ToHTML(data)
	if err != nil {
		t.Fatalf("ToHTML() error = %v", err)
	}
	want := `<ul><li>alpha<ul><li>alpha.1</li></ul></li><li>beta</li></ul><ol><li>first</li></ol>` +
		`<table><tr><td>Name</td><td>Qty</td></tr><tr><td>bolts</td><td>12</td></tr></table>`
	if got != want {
		t.Fatalf("ToHTML() mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestToHTMLRejectsNonDocx(t *testing.T) {
	if _, err := ToHTML([]byte("\xd0\xcf\x11\xe0 legacy doc")); !errors.Is(err, ErrNotDOCX) {
		t.Fatalf("expected ErrNotDOCX, got %v", err)
	}
	noDocument := buildDocx(t, map[string]string{"xl/workbook.xml": "<workbook/>"})
	if _, err := ToHTML(noDocument); !errors.Is(err, ErrNotDOCX) {
		t.Fatalf("expected ErrNotDOCX for a non-word package, got %v", err)
	}
}
