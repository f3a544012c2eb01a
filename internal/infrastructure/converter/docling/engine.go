// Package docling converts documents through a docling-serve instance.
package docling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/tomd/internal/core/domain"
	"github.com/kirillkom/tomd/internal/infrastructure/converter/remote"
)

const convertPath = "/v1/convert/file"

type convertResponse struct {
	Document struct {
		Filename  string `json:"filename"`
		MDContent string `json:"md_content"`
	} `json:"document"`
	Status string `json:"status"`
	Errors []struct {
		Component string `json:"component_type"`
		Module    string `json:"module_name"`
		Message   string `json:"error_message"`
	} `json:"errors"`
	ProcessingTime float64 `json:"processing_time"`
}

type Engine struct {
	client *remote.Client
}

func New(client *remote.Client) *Engine {
	return &Engine{client: client}
}

func (e *Engine) Convert(ctx context.Context, in domain.ConversionInput) (string, error) {
	if e.client == nil {
		return "", domain.WrapError(domain.ErrEngine, "docling", errors.New("DOCLING_URL is not configured"))
	}

	resp, err := remote.PostFile[convertResponse](ctx, e.client, remote.Upload{
		Path:     convertPath,
		Field:    "files",
		Filename: in.Filename,
		Data:     in.Data,
		Fields: map[string][]string{
			"to_formats":        {"md"},
			"image_export_mode": {"placeholder"},
		},
	})
	if err != nil {
		return "", err
	}

	switch resp.Status {
	case "success", "partial_success", "":
	default:
		return "", domain.WrapError(domain.ErrEngine, "docling", fmt.Errorf("conversion %s: %s", resp.Status, joinErrors(resp)))
	}
	if strings.TrimSpace(resp.Document.MDContent) == "" {
		return "", domain.WrapError(domain.ErrEngine, "docling", fmt.Errorf("no markdown returned for %s", in.Filename))
	}
	return resp.Document.MDContent, nil
}

func joinErrors(resp convertResponse) string {
	if len(resp.Errors) == 0 {
		return "no details"
	}
	msgs := make([]string, 0, len(resp.Errors))
	for _, e := range resp.Errors {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}
