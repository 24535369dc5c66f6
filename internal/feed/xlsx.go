package feed

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// XLSXToCSV rewrites the first visible sheet of a workbook as CSV so it can
// go through the same parsers as a CSV feed. The first row is the header.
// Rows are padded to the header width, since excelize drops trailing empty
// cells, and blank rows are skipped.
func XLSXToCSV(r io.Reader, w io.Writer) error {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return fmt.Errorf("open xlsx: %w", err)
	}
	defer book.Close()

	sheet, err := feedSheet(book)
	if err != nil {
		return err
	}

	rows, err := book.Rows(sheet)
	if err != nil {
		return fmt.Errorf("open sheet %q: %w", sheet, err)
	}
	defer rows.Close()

	out := csv.NewWriter(w)
	width := 0
	for line := 1; rows.Next(); line++ {
		cells, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("sheet %q row %d: %w", sheet, line, err)
		}
		if blankRecord(cells) {
			continue
		}
		if width == 0 {
			width = len(cells)
		}
		for len(cells) < width {
			cells = append(cells, "")
		}
		if err := out.Write(cells); err != nil {
			return fmt.Errorf("write csv row %d: %w", line, err)
		}
	}
	if err := rows.Error(); err != nil {
		return fmt.Errorf("sheet %q: %w", sheet, err)
	}

	out.Flush()
	return out.Error()
}

func feedSheet(book *excelize.File) (string, error) {
	sheets := book.GetSheetList()
	for _, name := range sheets {
		if visible, err := book.GetSheetVisible(name); err == nil && visible {
			return name, nil
		}
	}
	if len(sheets) == 0 {
		return "", fmt.Errorf("xlsx workbook has no sheets")
	}
	return sheets[0], nil
}
