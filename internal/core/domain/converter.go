package domain

import (
	"fmt"
	"strings"
)

type ConverterID string

const (
	ConverterMarkitdown   ConverterID = "markitdown"
	ConverterDocling      ConverterID = "docling"
	ConverterMarker       ConverterID = "marker"
	ConverterPypandoc     ConverterID = "pypandoc"
	ConverterUnstructured ConverterID = "unstructured"
	ConverterMammoth      ConverterID = "mammoth"
	ConverterHTML2Text    ConverterID = "html2text"

	// Selection policies accepted by the dispatcher in place of a concrete id.
	ConverterAuto   ConverterID = "auto"
	ConverterCustom ConverterID = "custom"
)

// ConverterDescriptor is an immutable catalog entry for one engine.
type ConverterDescriptor struct {
	ID                  ConverterID `json:"id" yaml:"id"`
	Name                string      `json:"name" yaml:"name"`
	Description         string      `json:"description" yaml:"description"`
	SupportedExtensions []string    `json:"supported_extensions" yaml:"supported_extensions"`
	RequiresAPIKey      bool        `json:"requires_api_key" yaml:"requires_api_key"`
	MaxConcurrency      int         `json:"-" yaml:"max_concurrency"`
}

func (d ConverterDescriptor) Supports(extension string) bool {
	for _, ext := range d.SupportedExtensions {
		if ext == extension {
			return true
		}
	}
	return false
}

// ConversionInput is what an engine receives for a single conversion.
type ConversionInput struct {
	Filename  string
	Extension string
	Data      []byte
	Settings  Settings
}

// NormalizeOverrides lowercases extension keys and drops a leading dot. Keys
// that collapse to the same extension must name the same converter.
func NormalizeOverrides(overrides map[string]ConverterID) (map[string]ConverterID, error) {
	if len(overrides) == 0 {
		return nil, nil
	}
	out := make(map[string]ConverterID, len(overrides))
	for key, id := range overrides {
		ext := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(key), "."))
		if prev, ok := out[ext]; ok && prev != id {
			return nil, WrapError(ErrInvalidInput, "normalize overrides",
				fmt.Errorf("extension %q is mapped to both %q and %q", ext, min(prev, id), max(prev, id)))
		}
		out[ext] = id
	}
	return out, nil
}
