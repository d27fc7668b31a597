// Package excel writes tabular data sources to .xlsx workbooks.
package excel

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

const maxSheetNameLen = 31

// DataSource feeds one sheet.
type DataSource interface {
	GetHeaders(ctx context.Context) ([]string, error)
	// GetRows returns an iterator; it yields nil, nil when exhausted.
	GetRows(ctx context.Context) (func() ([]any, error), error)
	GetSheetName() string
}

// ColumnFormatter is implemented by sources that know the number format of
// their columns. An empty format leaves the column as General.
type ColumnFormatter interface {
	ColumnFormats() []string
}

type ExportOptions struct {
	IncludeHeaders bool
	AutoFilter     bool
	FreezeHeader   bool
	// MaxRows limits data rows; zero means unlimited.
	MaxRows int
}

func DefaultOptions() *ExportOptions {
	return &ExportOptions{
		IncludeHeaders: true,
		AutoFilter:     true,
		FreezeHeader:   true,
	}
}

type StyleOptions struct {
	HeaderBold  bool
	HeaderFill  string
	ColumnWidth float64
}

func DefaultStyleOptions() *StyleOptions {
	return &StyleOptions{
		HeaderBold:  true,
		HeaderFill:  "#DDEBF7",
		ColumnWidth: 16,
	}
}

type ExcelExporter struct {
	options *ExportOptions
	styles  *StyleOptions
}

func NewExcelExporter(options *ExportOptions, styles *StyleOptions) *ExcelExporter {
	if options == nil {
		options = DefaultOptions()
	}
	if styles == nil {
		styles = DefaultStyleOptions()
	}
	return &ExcelExporter{options: options, styles: styles}
}

// Export renders the data source into workbook bytes.
func (e *ExcelExporter) Export(ctx context.Context, ds DataSource) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := SheetName(ds.GetSheetName())
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	headers, err := ds.GetHeaders(ctx)
	if err != nil {
		return nil, fmt.Errorf("get headers: %w", err)
	}

	row := 1
	if e.options.IncludeHeaders && len(headers) > 0 {
		if err := e.writeHeaders(f, sheet, headers); err != nil {
			return nil, err
		}
		row++
	}

	next, err := ds.GetRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("get rows: %w", err)
	}
	written := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.options.MaxRows > 0 && written >= e.options.MaxRows {
			break
		}
		values, err := next()
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", written+1, err)
		}
		if values == nil {
			break
		}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", written+1, err)
		}
		row++
		written++
	}

	if cf, ok := ds.(ColumnFormatter); ok && written > 0 {
		first := 1
		if e.options.IncludeHeaders && len(headers) > 0 {
			first = 2
		}
		if err := e.applyFormats(f, sheet, cf.ColumnFormats(), first, row-1); err != nil {
			return nil, err
		}
	}

	if len(headers) > 0 && e.options.IncludeHeaders {
		if err := e.decorate(f, sheet, len(headers), row-1); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *ExcelExporter) writeHeaders(f *excelize.File, sheet string, headers []string) error {
	values := make([]any, len(headers))
	for i, h := range headers {
		values[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &values); err != nil {
		return fmt.Errorf("write headers: %w", err)
	}

	style := &excelize.Style{Font: &excelize.Font{Bold: e.styles.HeaderBold}}
	if e.styles.HeaderFill != "" {
		style.Fill = excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{e.styles.HeaderFill}}
	}
	id, err := f.NewStyle(style)
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, id); err != nil {
		return fmt.Errorf("apply header style: %w", err)
	}
	if e.styles.ColumnWidth > 0 {
		end, err := excelize.ColumnNumberToName(len(headers))
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, "A", end, e.styles.ColumnWidth); err != nil {
			return fmt.Errorf("column width: %w", err)
		}
	}
	return nil
}

func (e *ExcelExporter) applyFormats(f *excelize.File, sheet string, formats []string, firstRow, lastRow int) error {
	styles := make(map[string]int)
	for i, format := range formats {
		if format == "" {
			continue
		}
		id, ok := styles[format]
		if !ok {
			numFmt := format
			var err error
			id, err = f.NewStyle(&excelize.Style{CustomNumFmt: &numFmt})
			if err != nil {
				return fmt.Errorf("number style %q: %w", format, err)
			}
			styles[format] = id
		}
		top, err := excelize.CoordinatesToCellName(i+1, firstRow)
		if err != nil {
			return err
		}
		bottom, err := excelize.CoordinatesToCellName(i+1, lastRow)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, top, bottom, id); err != nil {
			return fmt.Errorf("apply number style: %w", err)
		}
	}
	return nil
}

func (e *ExcelExporter) decorate(f *excelize.File, sheet string, cols, lastRow int) error {
	if e.options.AutoFilter {
		end, err := excelize.CoordinatesToCellName(cols, lastRow)
		if err != nil {
			return err
		}
		if err := f.AutoFilter(sheet, "A1:"+end, nil); err != nil {
			return fmt.Errorf("auto filter: %w", err)
		}
	}
	if e.options.FreezeHeader {
		if err := f.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return fmt.Errorf("freeze header: %w", err)
		}
	}
	return nil
}

var sheetNameReplacer = strings.NewReplacer(":", "_", "\\", "_", "/", "_", "?", "_", "*", "_", "[", "(", "]", ")")

// SheetName strips characters Excel rejects, trims name to the Excel limit
// and falls back to "Sheet1".
func SheetName(name string) string {
	runes := []rune(strings.TrimSpace(sheetNameReplacer.Replace(name)))
	if len(runes) == 0 {
		return "Sheet1"
	}
	if len(runes) > maxSheetNameLen {
		runes = runes[:maxSheetNameLen]
	}
	return string(runes)
}
