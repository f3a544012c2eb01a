package markitdown

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/tomd/internal/core/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func convertText(_ context.Context, in domain.ConversionInput) (string, error) {
	data := bytes.TrimPrefix(in.Data, utf8BOM)
	if !utf8.Valid(data) {
		return "", domain.WrapError(domain.ErrUnsupportedFormat, "markitdown", fmt.Errorf("%s is not valid UTF-8 text", in.Filename))
	}
	return strings.ReplaceAll(string(data), "\r\n", "\n"), nil
}

func convertJSON(_ context.Context, in domain.ConversionInput) (string, error) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, bytes.TrimPrefix(in.Data, utf8BOM), "", "  "); err != nil {
		return "", domain.WrapError(domain.ErrEngine, "markitdown", fmt.Errorf("parse json: %w", err))
	}
	return "```json\n" + pretty.String() + "\n```\n", nil
}

func fenced(lang string) handler {
	return func(ctx context.Context, in domain.ConversionInput) (string, error) {
		text, err := convertText(ctx, in)
		if err != nil {
			return "", err
		}
		return "```" + lang + "\n" + strings.TrimRight(text, "\n") + "\n```\n", nil
	}
}
