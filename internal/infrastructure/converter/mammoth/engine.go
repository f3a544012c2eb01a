// Package mammoth converts Word documents by their semantic structure
// (heading styles, lists, tables) rather than their visual formatting.
package mammoth

import (
	"context"
	"errors"

	"github.com/kirillkom/tomd/internal/core/domain"
	"github.com/kirillkom/tomd/internal/infrastructure/converter/docx"
	"github.com/kirillkom/tomd/internal/infrastructure/converter/markdown"
)

type Engine struct{}

func New() *Engine { return &Engine{} }

func (e *Engine) Convert(ctx context.Context, in domain.ConversionInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	body, err := docx.ToHTML(in.Data)
	if errors.Is(err, docx.ErrNotDOCX) {
		return "", domain.WrapError(domain.ErrUnsupportedFormat, "mammoth", err)
	}
	if err != nil {
		return "", domain.WrapError(domain.ErrEngine, "mammoth", err)
	}
	return markdown.FromHTMLString(body)
}
