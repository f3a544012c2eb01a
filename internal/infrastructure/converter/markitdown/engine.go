// Package markitdown is the general-purpose engine. Common formats are
// handled natively; the rest go through the markitdown container image.
package markitdown

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/tomd/internal/core/domain"
	"github.com/kirillkom/tomd/internal/infrastructure/container"
	"github.com/kirillkom/tomd/internal/infrastructure/converter/docx"
	"github.com/kirillkom/tomd/internal/infrastructure/converter/markdown"
)

const DefaultImage = "markitdown:latest"

type handler func(ctx context.Context, in domain.ConversionInput) (string, error)

type Engine struct {
	runtime  container.Runtime
	image    string
	logger   *slog.Logger
	handlers map[string]handler
}

type Option func(*Engine)

// WithContainer enables the container fallback for formats without a native handler.
func WithContainer(rt container.Runtime, image string) Option {
	return func(e *Engine) {
		e.runtime = rt
		if image != "" {
			e.image = image
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{image: DefaultImage, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	e.handlers = map[string]handler{
		"pdf":   e.convertPDF,
		"xlsx":  convertWorkbook,
		"xlsm":  convertWorkbook,
		"csv":   convertDelimited(','),
		"tsv":   convertDelimited('\t'),
		"html":  convertHTML,
		"htm":   convertHTML,
		"xhtml": convertHTML,
		"docx":  e.convertDOCX,
		"json":  convertJSON,
		"xml":   fenced("xml"),
		"txt":   convertText,
		"md":    convertText,
		"rst":   convertText,
	}
	return e
}

func (e *Engine) Convert(ctx context.Context, in domain.ConversionInput) (string, error) {
	if h, ok := e.handlers[in.Extension]; ok {
		return h(ctx, in)
	}
	return e.viaContainer(ctx, in)
}

func (e *Engine) viaContainer(ctx context.Context, in domain.ConversionInput) (string, error) {
	if e.runtime == nil {
		return "", domain.WrapError(domain.ErrUnsupportedFormat, "markitdown",
			fmt.Errorf("no native handler for .%s and no container runtime configured", in.Extension))
	}

	spec := container.RunSpec{Image: e.image}
	if in.Extension != "" {
		spec.Args = []string{"--extension", in.Extension}
	}
	if in.Settings.HasAPIKey() {
		spec.Env = map[string]string{"OPENAI_API_KEY": in.Settings.APIKey}
		if in.Settings.BaseURL != "" {
			spec.Env["OPENAI_BASE_URL"] = in.Settings.BaseURL
		}
	} else {
		spec.Network = "none"
	}

	var out bytes.Buffer
	if err := e.runtime.Run(ctx, spec, bytes.NewReader(in.Data), &out); err != nil {
		return "", fmt.Errorf("markitdown container: %w", err)
	}
	if strings.TrimSpace(out.String()) == "" {
		return "", domain.WrapError(domain.ErrEngine, "markitdown", fmt.Errorf("empty output for %s", in.Filename))
	}
	return out.String(), nil
}

func (e *Engine) convertDOCX(ctx context.Context, in domain.ConversionInput) (string, error) {
	body, err := docx.ToHTML(in.Data)
	if errors.Is(err, docx.ErrNotDOCX) {
		return "", domain.WrapError(domain.ErrUnsupportedFormat, "markitdown", err)
	}
	if err != nil {
		return "", err
	}
	return markdown.FromHTMLString(body)
}

func convertHTML(_ context.Context, in domain.ConversionInput) (string, error) {
	return markdown.FromHTML(bytes.NewReader(in.Data))
}
