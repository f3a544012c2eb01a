package markitdown

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kirillkom/tomd/internal/core/domain"
	"github.com/kirillkom/tomd/internal/infrastructure/converter/markdown"
	"github.com/xuri/excelize/v2"
)

func convertWorkbook(_ context.Context, in domain.ConversionInput) (string, error) {
	book, err := excelize.OpenReader(bytes.NewReader(in.Data))
	if err != nil {
		return "", domain.WrapError(domain.ErrEngine, "markitdown", fmt.Errorf("open workbook: %w", err))
	}
	defer book.Close()

	var sections []string
	for _, sheet := range book.GetSheetList() {
		rows, err := book.GetRows(sheet)
		if err != nil {
			return "", domain.WrapError(domain.ErrEngine, "markitdown", fmt.Errorf("read sheet %q: %w", sheet, err))
		}
		rows = trimEmptyRows(rows)
		if len(rows) == 0 {
			continue
		}
		sections = append(sections, "## "+sheet+"\n\n"+markdown.Table(rows))
	}
	return strings.Join(sections, "\n\n"), nil
}

func convertDelimited(sep rune) handler {
	return func(_ context.Context, in domain.ConversionInput) (string, error) {
		r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(in.Data, utf8BOM)))
		r.Comma = sep
		r.FieldsPerRecord = -1
		r.LazyQuotes = true

		var rows [][]string
		for {
			record, err := r.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return "", domain.WrapError(domain.ErrEngine, "markitdown", fmt.Errorf("parse %s: %w", in.Extension, err))
			}
			rows = append(rows, record)
		}
		return markdown.Table(trimEmptyRows(rows)), nil
	}
}

func trimEmptyRows(rows [][]string) [][]string {
	out := rows[:0]
	for _, row := range rows {
		if strings.TrimSpace(strings.Join(row, "")) != "" {
			out = append(out, row)
		}
	}
	return out
}
