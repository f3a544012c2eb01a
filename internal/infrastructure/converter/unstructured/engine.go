// Package unstructured partitions documents with the Unstructured API and
// renders the returned elements as Markdown.
package unstructured

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/kirillkom/tomd/internal/core/domain"
	"github.com/kirillkom/tomd/internal/infrastructure/converter/markdown"
	"github.com/kirillkom/tomd/internal/infrastructure/converter/remote"
)

const (
	DefaultURL    = "https://api.unstructuredapp.io"
	partitionPath = "/general/v0/general"
)

type element struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Metadata struct {
		TextAsHTML string `json:"text_as_html"`
		ImagePath  string `json:"image_path"`
	} `json:"metadata"`
}

type Engine struct {
	client *remote.Client
}

func New(client *remote.Client) *Engine {
	return &Engine{client: client}
}

func (e *Engine) Convert(ctx context.Context, in domain.ConversionInput) (string, error) {
	if !in.Settings.HasAPIKey() {
		return "", domain.WrapError(domain.ErrMissingCredential, "unstructured", errors.New("an API key is required"))
	}

	elements, err := remote.PostFile[[]element](ctx, e.client, remote.Upload{
		Path:     partitionPath,
		Field:    "files",
		Filename: in.Filename,
		Data:     in.Data,
		Fields:   map[string][]string{"strategy": {"auto"}},
		Header:   http.Header{"unstructured-api-key": {in.Settings.APIKey}},
	})
	if err != nil {
		return "", err
	}
	return render(elements), nil
}

func render(elements []element) string {
	var blocks []string
	var list []string
	flushList := func() {
		if len(list) > 0 {
			blocks = append(blocks, strings.Join(list, "\n"))
			list = nil
		}
	}

	for _, el := range elements {
		text := strings.TrimSpace(el.Text)
		if el.Type == "ListItem" {
			if text != "" {
				list = append(list, "- "+text)
			}
			continue
		}
		flushList()

		switch el.Type {
		case "Title":
			if text != "" {
				blocks = append(blocks, "# "+text)
			}
		case "Header":
			if text != "" {
				blocks = append(blocks, "## "+text)
			}
		case "Table":
			if table := renderTable(el); table != "" {
				blocks = append(blocks, table)
			}
		case "CodeSnippet", "Formula":
			if text != "" {
				blocks = append(blocks, "```\n"+text+"\n```")
			}
		case "Image":
			if el.Metadata.ImagePath != "" {
				blocks = append(blocks, "![Image]("+el.Metadata.ImagePath+")")
			} else if text != "" {
				blocks = append(blocks, text)
			}
		case "PageBreak", "Footer", "PageNumber":
		default:
			if text != "" {
				blocks = append(blocks, text)
			}
		}
	}
	flushList()

	if len(blocks) == 0 {
		return ""
	}
	return strings.Join(blocks, "\n\n") + "\n"
}

func renderTable(el element) string {
	if el.Metadata.TextAsHTML != "" {
		if md, err := markdown.FromHTMLString(el.Metadata.TextAsHTML); err == nil && strings.TrimSpace(md) != "" {
			return strings.TrimRight(md, "\n")
		}
	}
	if text := strings.TrimSpace(el.Text); text != "" {
		return "```\n" + text + "\n```"
	}
	return ""
}
