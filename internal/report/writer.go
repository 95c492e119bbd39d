package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"jettyreport/internal/correlate"
	"jettyreport/internal/logger"
)

// ErrStorageFailure wraps failures to build or persist a workbook.
var ErrStorageFailure = errors.New("report storage failure")

var headers = map[string][]string{
	"en": {"Thread", "Host", "Start", "End", "Delay", "Status", "Method", "Request"},
	"ja": {"スレッド", "ホスト", "開始日時", "終了日時", "遅延", "ステータス", "メソッド", "リクエスト"},
}

// Writer serializes a Workbook as one xlsx file.
type Writer struct {
	// HeaderLocale selects the header row language: "en" (default) or "ja".
	HeaderLocale string
}

func (w Writer) header() []string {
	if h, ok := headers[w.HeaderLocale]; ok {
		return h
	}
	return headers["en"]
}

// Write builds the whole workbook in memory and saves it at path in one go.
func (w Writer) Write(wb *Workbook, path string) (string, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheets := wb.Sheets()
	if len(sheets) == 0 {
		sheets = []correlate.Sheet{{Label: DefaultSheetName}}
	}
	for i, sheet := range sheets {
		if err := w.addSheet(f, i, sheet); err != nil {
			return "", fmt.Errorf("%w: sheet %q: %v", ErrStorageFailure, sheet.Label, err)
		}
	}
	f.SetActiveSheet(0)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("%w: save %s: %v", ErrStorageFailure, filepath.Base(path), err)
	}
	logger.Infof("[report] wrote %d sheets to %s", len(sheets), path)
	return path, nil
}

func (w Writer) addSheet(f *excelize.File, index int, sheet correlate.Sheet) error {
	name := sheet.Label
	if index == 0 {
		if name != DefaultSheetName {
			if err := f.SetSheetName(DefaultSheetName, name); err != nil {
				return err
			}
		}
	} else if _, err := f.NewSheet(name); err != nil {
		return err
	}

	header := w.header()
	headerRow := make([]any, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	if err := f.SetSheetRow(name, "A1", &headerRow); err != nil {
		return err
	}
	for i, row := range sheet.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []any{row.ID, row.Host, row.Start, nil, nil, nil, row.Method, row.Request}
		if row.End != nil {
			values[3] = *row.End
		}
		if row.Delay != nil {
			values[4] = *row.Delay
		}
		if row.Status != nil {
			values[5] = *row.Status
		}
		if err := f.SetSheetRow(name, cell, &values); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(name, "A", "D", 24); err != nil {
		return err
	}
	return f.SetColWidth(name, "H", "H", 60)
}
