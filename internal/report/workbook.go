package report

import (
	"path/filepath"
	"strings"
	"unicode/utf8"

	"jettyreport/internal/correlate"
	"jettyreport/internal/upload"
)

const (
	DefaultSheetName = "Sheet1"
	maxSheetName     = 31
)

var sheetNameReplacer = strings.NewReplacer(
	":", "_", `\`, "_", "/", "_", "?", "_", "*", "_", "[", "_", "]", "_",
)

// Workbook is an insertion-ordered set of sheets, unique by label.
type Workbook struct {
	sheets []correlate.Sheet
}

func NewWorkbook() *Workbook {
	return &Workbook{}
}

// Add appends sheet, or replaces the sheet already holding the same label in place.
// It reports whether a sheet was replaced.
func (w *Workbook) Add(sheet correlate.Sheet) bool {
	sheet.Label = SheetName(sheet.Label)
	for i := range w.sheets {
		// spreadsheet applications compare sheet names case-insensitively
		if strings.EqualFold(w.sheets[i].Label, sheet.Label) {
			w.sheets[i] = sheet
			return true
		}
	}
	w.sheets = append(w.sheets, sheet)
	return false
}

func (w *Workbook) Sheets() []correlate.Sheet {
	return w.sheets
}

func (w *Workbook) Labels() []string {
	labels := make([]string, 0, len(w.sheets))
	for _, s := range w.sheets {
		labels = append(labels, s.Label)
	}
	return labels
}

func (w *Workbook) Len() int {
	return len(w.sheets)
}

// SheetName turns a label into a valid sheet name.
func SheetName(label string) string {
	name := strings.Trim(sheetNameReplacer.Replace(strings.TrimSpace(label)), "'")
	if name == "" {
		return DefaultSheetName
	}
	if utf8.RuneCountInString(name) > maxSheetName {
		name = string([]rune(name)[:maxSheetName])
	}
	return name
}

// ReportPath is where the workbook of a session is written.
func ReportPath(workDir, token string) string {
	return filepath.Join(upload.SessionDir(workDir, token), token+".xlsx")
}
