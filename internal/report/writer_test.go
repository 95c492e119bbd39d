package report

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"jettyreport/internal/correlate"
)

func ptr[T any](v T) *T { return &v }

func sampleSheet(label, id string) correlate.Sheet {
	return correlate.Sheet{
		Label:  label,
		Source: "access-" + label + ".log",
		Rows: []correlate.Row{
			{
				ID:      id,
				Host:    "h",
				Start:   "2024-01-01 00:00:00.000",
				End:     ptr("2024-01-01 00:00:02.000"),
				Delay:   ptr(int64(2)),
				Status:  ptr(200),
				Method:  "GET",
				Request: "/a",
			},
			{
				ID:      id,
				Host:    "h",
				Start:   "2024-01-01 00:00:05.000",
				Method:  "POST",
				Request: "/b",
			},
		},
	}
}

func TestWriteAndReadBack(t *testing.T) {
	wb := NewWorkbook()
	wb.Add(sampleSheet("app01", "T1"))
	wb.Add(sampleSheet("app02", "T2"))

	path := filepath.Join(t.TempDir(), "upload_x", "x.xlsx")
	written, err := Writer{}.Write(wb, path)
	require.NoError(t, err)
	require.Equal(t, path, written)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, []string{"app01", "app02"}, f.GetSheetList())

	rows, err := f.GetRows("app01")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, []string{"Thread", "Host", "Start", "End", "Delay", "Status", "Method", "Request"}, rows[0])
	require.Equal(t, []string{"T1", "h", "2024-01-01 00:00:00.000", "2024-01-01 00:00:02.000", "2", "200", "GET", "/a"}, rows[1])

	open := rows[2]
	require.Equal(t, "T1", open[0])
	require.Empty(t, open[3])
	require.Empty(t, open[4])
	require.Empty(t, open[5])
	require.Equal(t, "POST", open[6])
	require.Equal(t, "/b", open[7])
}

func TestDuplicateLabelLastWriteWins(t *testing.T) {
	wb := NewWorkbook()
	require.False(t, wb.Add(sampleSheet("app01", "first")))
	require.False(t, wb.Add(sampleSheet("app02", "other")))
	require.True(t, wb.Add(sampleSheet("app01", "second")))
	require.Equal(t, []string{"app01", "app02"}, wb.Labels())

	path := filepath.Join(t.TempDir(), "r.xlsx")
	_, err := Writer{}.Write(wb, path)
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("app01")
	require.NoError(t, err)
	require.Equal(t, "second", rows[1][0])
}

func TestJapaneseHeaders(t *testing.T) {
	wb := NewWorkbook()
	wb.Add(correlate.Sheet{Label: "app01"})

	path := filepath.Join(t.TempDir(), "ja.xlsx")
	_, err := Writer{HeaderLocale: "ja"}.Write(wb, path)
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("app01")
	require.NoError(t, err)
	require.Equal(t, []string{"スレッド", "ホスト", "開始日時", "終了日時", "遅延", "ステータス", "メソッド", "リクエスト"}, rows[0])
}

func TestSheetName(t *testing.T) {
	require.Equal(t, DefaultSheetName, SheetName(""))
	require.Equal(t, DefaultSheetName, SheetName("  "))
	require.Equal(t, "a_b", SheetName("a/b"))
	require.Equal(t, strings.Repeat("x", 31), SheetName(strings.Repeat("x", 40)))
}

func TestEmptyLabelBecomesDefaultSheet(t *testing.T) {
	wb := NewWorkbook()
	wb.Add(correlate.Sheet{Label: "", Rows: sampleSheet("", "T1").Rows})
	wb.Add(correlate.Sheet{Label: "app02"})

	path := filepath.Join(t.TempDir(), "d.xlsx")
	_, err := Writer{}.Write(wb, path)
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, []string{DefaultSheetName, "app02"}, f.GetSheetList())
}

func TestWriteStorageFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("file"), 0o644))

	wb := NewWorkbook()
	wb.Add(sampleSheet("app01", "T1"))
	_, err := Writer{}.Write(wb, filepath.Join(blocker, "r.xlsx"))
	require.True(t, errors.Is(err, ErrStorageFailure), "got %v", err)
}

func TestReportPath(t *testing.T) {
	require.Equal(t,
		filepath.Join("/work", "upload_20240101_000000-abc123", "20240101_000000-abc123.xlsx"),
		ReportPath("/work", "20240101_000000-abc123"))
}
