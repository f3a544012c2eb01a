// Package pandoc shells out to the pandoc binary.
package pandoc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kirillkom/tomd/internal/core/domain"
)

// inputFormats maps file extensions to pandoc reader names. Extensions not
// listed are passed through unchanged.
var inputFormats = map[string]string{
	"tex":   "latex",
	"htm":   "html",
	"xhtml": "html",
	"mw":    "mediawiki",
	"txt":   "markdown",
	"md":    "markdown",
	"xml":   "docbook",
}

// pandoc cannot read these.
var unreadable = map[string]bool{"pdf": true, "doc": true, "ppt": true, "xls": true}

type runner interface {
	Run(ctx context.Context, name string, args []string, stdout, stderr *bytes.Buffer) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string, stdout, stderr *bytes.Buffer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

type Engine struct {
	binary string
	tmpDir string
	run    runner
}

func New(binary string) *Engine {
	if binary == "" {
		binary = "pandoc"
	}
	return &Engine{binary: binary, run: execRunner{}}
}

func (e *Engine) Convert(ctx context.Context, in domain.ConversionInput) (string, error) {
	if unreadable[in.Extension] {
		return "", domain.WrapError(domain.ErrUnsupportedFormat, "pandoc", fmt.Errorf("pandoc cannot read .%s files", in.Extension))
	}
	format := in.Extension
	if mapped, ok := inputFormats[format]; ok {
		format = mapped
	}
	if format == "" {
		format = "markdown"
	}

	// Binary inputs (docx, odt, epub) must come from a file, so always use one.
	src, err := os.CreateTemp(e.tmpDir, "tomd-pandoc-*"+filepath.Ext(in.Filename))
	if err != nil {
		return "", fmt.Errorf("create pandoc input: %w", err)
	}
	defer os.Remove(src.Name())
	if _, err := src.Write(in.Data); err != nil {
		src.Close()
		return "", fmt.Errorf("write pandoc input: %w", err)
	}
	if err := src.Close(); err != nil {
		return "", fmt.Errorf("close pandoc input: %w", err)
	}

	args := []string{"-f", format, "-t", "gfm", "--wrap=none", src.Name()}
	var stdout, stderr bytes.Buffer
	if err := e.run.Run(ctx, e.binary, args, &stdout, &stderr); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if errors.Is(err, exec.ErrNotFound) {
			return "", domain.WrapError(domain.ErrEngine, "pandoc", fmt.Errorf("%s is not installed", e.binary))
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return "", domain.WrapError(domain.ErrEngine, "pandoc", fmt.Errorf("%w: %s", err, msg))
	}
	return stdout.String(), nil
}
