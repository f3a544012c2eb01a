// Package docx reads WordprocessingML packages and renders their body as
// semantic HTML: headings, paragraphs, lists, tables, links and basic run
// formatting. Layout and images are ignored.
package docx

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"strconv"
	"strings"
)

// ErrNotDOCX is returned for input that is not an OOXML word package,
// including legacy binary .doc files.
var ErrNotDOCX = errors.New("not a docx package")

const maxPartSize = 64 << 20

// ToHTML converts a .docx file to an HTML fragment.
func ToHTML(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotDOCX, err)
	}

	parts := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		parts[f.Name] = f
	}
	document, ok := parts["word/document.xml"]
	if !ok {
		return "", fmt.Errorf("%w: word/document.xml missing", ErrNotDOCX)
	}

	r := &renderer{links: map[string]string{}, numbering: map[string]map[int]bool{}}
	if f, ok := parts["word/_rels/document.xml.rels"]; ok {
		if err := r.loadRelationships(f); err != nil {
			return "", err
		}
	}
	if f, ok := parts["word/numbering.xml"]; ok {
		if err := r.loadNumbering(f); err != nil {
			return "", err
		}
	}

	rc, err := document.Open()
	if err != nil {
		return "", fmt.Errorf("open document part: %w", err)
	}
	defer rc.Close()
	if err := r.render(io.LimitReader(rc, maxPartSize)); err != nil {
		return "", err
	}
	return r.out.String(), nil
}

type relationships struct {
	Items []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
		Mode   string `xml:"TargetMode,attr"`
	} `xml:"Relationship"`
}

type numberingPart struct {
	Abstract []struct {
		ID     string `xml:"abstractNumId,attr"`
		Levels []struct {
			Level  int `xml:"ilvl,attr"`
			Format struct {
				Val string `xml:"val,attr"`
			} `xml:"numFmt"`
		} `xml:"lvl"`
	} `xml:"abstractNum"`
	Nums []struct {
		ID       string `xml:"numId,attr"`
		Abstract struct {
			Val string `xml:"val,attr"`
		} `xml:"abstractNumId"`
	} `xml:"num"`
}

func decodePart(f *zip.File, v any) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	if err := xml.NewDecoder(io.LimitReader(rc, maxPartSize)).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", f.Name, err)
	}
	return nil
}

func (r *renderer) loadRelationships(f *zip.File) error {
	var rels relationships
	if err := decodePart(f, &rels); err != nil {
		return err
	}
	for _, rel := range rels.Items {
		if strings.EqualFold(rel.Mode, "External") {
			r.links[rel.ID] = rel.Target
		}
	}
	return nil
}

func (r *renderer) loadNumbering(f *zip.File) error {
	var part numberingPart
	if err := decodePart(f, &part); err != nil {
		return err
	}
	abstract := make(map[string]map[int]bool, len(part.Abstract))
	for _, a := range part.Abstract {
		levels := make(map[int]bool, len(a.Levels))
		for _, lvl := range a.Levels {
			levels[lvl.Level] = lvl.Format.Val != "" && lvl.Format.Val != "bullet" && lvl.Format.Val != "none"
		}
		abstract[a.ID] = levels
	}
	for _, n := range part.Nums {
		if levels, ok := abstract[n.Abstract.Val]; ok {
			r.numbering[n.ID] = levels
		}
	}
	return nil
}

type runFormat struct {
	bold, italic, strike bool
	vertAlign            string
}

type paragraphState struct {
	style    string
	numID    string
	level    int
	inPPr    bool
	content  strings.Builder
	linkOpen []bool
}

type renderer struct {
	links     map[string]string
	numbering map[string]map[int]bool
	out       strings.Builder

	para   *paragraphState
	run    strings.Builder
	format runFormat
	inRPr  bool
	inText bool

	tableDepth     int
	cellParagraphs int

	// open lists, innermost last; true means ordered
	lists []bool
}

func (r *renderer) render(src io.Reader) error {
	dec := xml.NewDecoder(src)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("decode document part: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			r.start(t)
		case xml.EndElement:
			r.end(t.Name.Local)
		case xml.CharData:
			if r.inText {
				r.run.WriteString(html.EscapeString(string(t)))
			}
		}
	}
	r.closeLists()
	return nil
}

func (r *renderer) start(t xml.StartElement) {
	switch t.Name.Local {
	case "p":
		r.para = &paragraphState{}
	case "pPr":
		if r.para != nil {
			r.para.inPPr = true
		}
	case "pStyle":
		if r.para != nil && r.para.inPPr {
			r.para.style = attr(t, "val")
		}
	case "ilvl":
		if r.para != nil && r.para.inPPr {
			r.para.level, _ = strconv.Atoi(attr(t, "val"))
		}
	case "numId":
		if r.para != nil && r.para.inPPr {
			r.para.numID = attr(t, "val")
		}
	case "r":
		r.run.Reset()
		r.format = runFormat{}
	case "rPr":
		r.inRPr = true
	case "b", "i", "strike", "dstrike":
		if r.inRPr && (r.para == nil || !r.para.inPPr) && toggleOn(t) {
			switch t.Name.Local {
			case "b":
				r.format.bold = true
			case "i":
				r.format.italic = true
			default:
				r.format.strike = true
			}
		}
	case "vertAlign":
		if r.inRPr {
			r.format.vertAlign = attr(t, "val")
		}
	case "t":
		r.inText = true
	case "tab":
		if r.para != nil && !r.para.inPPr {
			r.run.WriteString(" ")
		}
	case "br", "cr":
		if attr(t, "type") != "page" {
			r.run.WriteString("<br>")
		}
	case "hyperlink":
		if r.para == nil {
			return
		}
		href := r.links[attr(t, "id")]
		if anchor := attr(t, "anchor"); href == "" && anchor != "" {
			href = "#" + anchor
		}
		if href == "" {
			r.para.linkOpen = append(r.para.linkOpen, false)
			return
		}
		r.para.linkOpen = append(r.para.linkOpen, true)
		r.para.content.WriteString(`<a href="` + html.EscapeString(href) + `">`)
	case "tbl":
		if r.tableDepth == 0 {
			r.closeLists()
		}
		r.tableDepth++
		r.out.WriteString("<table>")
	case "tr":
		r.out.WriteString("<tr>")
	case "tc":
		r.cellParagraphs = 0
		r.out.WriteString("<td>")
	}
}

func (r *renderer) end(local string) {
	switch local {
	case "t":
		r.inText = false
	case "rPr":
		r.inRPr = false
	case "pPr":
		if r.para != nil {
			r.para.inPPr = false
		}
	case "r":
		if r.para != nil {
			r.para.content.WriteString(r.format.wrap(r.run.String()))
		}
		r.run.Reset()
	case "hyperlink":
		if r.para == nil || len(r.para.linkOpen) == 0 {
			return
		}
		open := r.para.linkOpen[len(r.para.linkOpen)-1]
		r.para.linkOpen = r.para.linkOpen[:len(r.para.linkOpen)-1]
		if open {
			r.para.content.WriteString("</a>")
		}
	case "p":
		r.endParagraph()
	case "tc":
		r.out.WriteString("</td>")
	case "tr":
		r.out.WriteString("</tr>")
	case "tbl":
		r.out.WriteString("</table>")
		r.tableDepth--
	}
}

func (r *renderer) endParagraph() {
	p := r.para
	r.para = nil
	if p == nil {
		return
	}
	content := strings.TrimSpace(p.content.String())

	if r.tableDepth > 0 {
		if content == "" {
			return
		}
		if r.cellParagraphs > 0 {
			r.out.WriteString("<br>")
		}
		r.out.WriteString(content)
		r.cellParagraphs++
		return
	}
	if content == "" {
		return
	}

	if p.numID != "" && p.numID != "0" {
		r.listItem(content, r.numbering[p.numID][p.level], p.level)
		return
	}
	r.closeLists()

	if level := headingLevel(p.style); level > 0 {
		fmt.Fprintf(&r.out, "<h%d>%s</h%d>", level, content, level)
		return
	}
	r.out.WriteString("<p>" + content + "</p>")
}

func (r *renderer) listItem(content string, ordered bool, level int) {
	level = max(level, 0)
	for len(r.lists) > level+1 {
		r.popList()
	}
	if len(r.lists) == level+1 {
		if r.lists[level] != ordered {
			r.popList()
		} else {
			r.out.WriteString("</li>")
		}
	}
	for len(r.lists) < level+1 {
		r.lists = append(r.lists, ordered)
		r.out.WriteString(listTag(ordered, false))
	}
	r.out.WriteString("<li>" + content)
}

func (r *renderer) popList() {
	ordered := r.lists[len(r.lists)-1]
	r.lists = r.lists[:len(r.lists)-1]
	r.out.WriteString("</li>" + listTag(ordered, true))
}

func (r *renderer) closeLists() {
	for len(r.lists) > 0 {
		r.popList()
	}
}

func listTag(ordered, closing bool) string {
	name := "ul"
	if ordered {
		name = "ol"
	}
	if closing {
		return "</" + name + ">"
	}
	return "<" + name + ">"
}

func (f runFormat) wrap(s string) string {
	if strings.TrimSpace(s) == "" {
		return s
	}
	switch f.vertAlign {
	case "superscript":
		s = "<sup>" + s + "</sup>"
	case "subscript":
		s = "<sub>" + s + "</sub>"
	}
	if f.strike {
		s = "<s>" + s + "</s>"
	}
	if f.italic {
		s = "<em>" + s + "</em>"
	}
	if f.bold {
		s = "<strong>" + s + "</strong>"
	}
	return s
}

// headingLevel maps built-in style ids ("Heading1", "heading 2", "Title").
func headingLevel(style string) int {
	s := strings.ToLower(strings.ReplaceAll(style, " ", ""))
	if s == "title" {
		return 1
	}
	if rest, ok := strings.CutPrefix(s, "heading"); ok {
		if n, err := strconv.Atoi(rest); err == nil && n >= 1 && n <= 6 {
			return n
		}
	}
	return 0
}

// toggleOn reads an OOXML on/off property; a bare element means on.
func toggleOn(t xml.StartElement) bool {
	switch attr(t, "val") {
	case "0", "false", "off", "none":
		return false
	default:
		return true
	}
}

func attr(t xml.StartElement, local string) string {
	for _, a := range t.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
