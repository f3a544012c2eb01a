// Package html2text converts HTML and XHTML documents to Markdown.
package html2text

import (
	"bytes"
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/kirillkom/tomd/internal/core/domain"
	"github.com/kirillkom/tomd/internal/infrastructure/converter/markdown"
)

type Engine struct{}

func New() *Engine { return &Engine{} }

func (e *Engine) Convert(ctx context.Context, in domain.ConversionInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	// Markup is text; anything else would render as noise.
	if !utf8.Valid(in.Data) {
		return "", domain.WrapError(domain.ErrUnsupportedFormat, "html2text", fmt.Errorf("%s is not a text document", in.Filename))
	}
	return markdown.FromHTML(bytes.NewReader(in.Data))
}
