// Package marker runs the marker PDF pipeline (layout detection, OCR and
// equation recovery) packaged as a container image.
package marker

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/tomd/internal/core/domain"
	"github.com/kirillkom/tomd/internal/infrastructure/container"
)

const DefaultImage = "marker-pdf:latest"

type Engine struct {
	runtime container.Runtime
	image   string
}

// New returns an engine that fails every job when rt is nil; the catalog
// still lists marker so clients see why.
func New(rt container.Runtime, image string) *Engine {
	if image == "" {
		image = DefaultImage
	}
	return &Engine{runtime: rt, image: image}
}

func (e *Engine) Convert(ctx context.Context, in domain.ConversionInput) (string, error) {
	if in.Extension != "pdf" {
		return "", domain.WrapError(domain.ErrUnsupportedFormat, "marker", fmt.Errorf("marker only converts PDF files, got .%s", in.Extension))
	}
	if e.runtime == nil {
		return "", domain.WrapError(domain.ErrEngine, "marker", fmt.Errorf("no container runtime available"))
	}

	var out bytes.Buffer
	spec := container.RunSpec{Image: e.image, Network: "none"}
	if err := e.runtime.Run(ctx, spec, bytes.NewReader(in.Data), &out); err != nil {
		return "", fmt.Errorf("marker container: %w", err)
	}
	if strings.TrimSpace(out.String()) == "" {
		return "", domain.WrapError(domain.ErrEngine, "marker", fmt.Errorf("empty output for %s", in.Filename))
	}
	return out.String(), nil
}
