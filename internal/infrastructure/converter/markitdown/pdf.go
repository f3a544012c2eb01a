package markitdown

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kirillkom/tomd/internal/core/domain"
	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var disablePDFConfig sync.Once

// convertPDF extracts the text layer page by page. Scanned documents have no
// text layer and fall back to the container when one is configured.
func (e *Engine) convertPDF(ctx context.Context, in domain.ConversionInput) (string, error) {
	if err := validatePDF(in.Data); err != nil {
		return "", domain.WrapError(domain.ErrEngine, "markitdown", fmt.Errorf("invalid pdf: %w", err))
	}

	text, err := extractPDFText(in.Data)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		if e.runtime != nil {
			e.logger.Info("pdf_without_text_layer", "file", in.Filename, "fallback", e.image)
			return e.viaContainer(ctx, in)
		}
		return "", domain.WrapError(domain.ErrEngine, "markitdown", fmt.Errorf("%s has no extractable text", in.Filename))
	}
	return text, nil
}

func validatePDF(data []byte) error {
	disablePDFConfig.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.Validate(bytes.NewReader(data), conf)
}

func extractPDFText(data []byte) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.WrapError(domain.ErrEngine, "markitdown", fmt.Errorf("pdf text extraction panicked: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", domain.WrapError(domain.ErrEngine, "markitdown", fmt.Errorf("open pdf: %w", err))
	}

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", domain.WrapError(domain.ErrEngine, "markitdown", fmt.Errorf("read page %d: %w", i, err))
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n\n---\n\n"), nil
}
