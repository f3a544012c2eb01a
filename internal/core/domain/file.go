package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// FileRecord describes an uploaded source file.
type FileRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	MimeType   string    `json:"mime_type"`
	Extension  string    `json:"extension"`
	CreatedAt  time.Time `json:"created_at"`
	StorageKey string    `json:"-"`
}

// ExtensionOf returns the lowercased suffix of name without the leading dot.
func ExtensionOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// MarkdownName replaces the last extension of name with ".md".
func MarkdownName(name string) string {
	base := filepath.Base(name)
	if ext := filepath.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "document"
	}
	return base + ".md"
}
