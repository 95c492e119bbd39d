package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"jettyreport/internal/archive"
	"jettyreport/internal/logger"
	"jettyreport/internal/models"
	"jettyreport/internal/report"
	"jettyreport/internal/upload"
)

func accessLog(id string, status int) string {
	b := fmt.Sprintf(`2024-01-01 00:00:00.000 [%s] INFO  c.j.d.api.common.logging.AccessLog - {"fn":"B","ts":"x","ip":"1","ri":"r","ht":"h","md":"GET","cm":"/a","tm":1,"cs":-1,"ca":-1}`, id)
	e := fmt.Sprintf(`2024-01-01 00:00:03.250 [%s] INFO  c.j.d.api.common.logging.AccessLog - {"fn":"E","ts":"x","te":1,"ip":"1","ri":"r","ht":"h","md":"GET","cm":"/a","st":%d,"tm":1,"cs":-1,"ca":-1}`, id, status)
	return b + "\n" + e + "\n"
}

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

type fixture struct {
	proc    *Processor
	session models.UploadSession
	dir     string
}

func newFixture(t *testing.T, keep bool) fixture {
	work := t.TempDir()
	session := models.UploadSession{ID: "s", Token: upload.NewToken(time.Now())}
	dir := upload.SessionDir(work, session.Token)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return fixture{
		proc: &Processor{
			Expander:      archive.Expander{MaxNestedDepth: archive.DefaultMaxNestedDepth},
			WorkDir:       work,
			KeepExtracted: keep,
		},
		session: session,
		dir:     dir,
	}
}

func (f fixture) completed(t *testing.T, stored, original string, data []byte) models.CompletedUpload {
	path := filepath.Join(f.dir, stored)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return models.CompletedUpload{
		UploadedFile: models.UploadedFile{
			FieldName:    "file",
			OriginalName: original,
			StoredName:   stored,
			Path:         path,
			Size:         int64(len(data)),
		},
		UploadFilename: upload.ReportFilename(original),
		DestDir:        filepath.Join(f.dir, "extract_"+stored),
	}
}

func TestArchiveUploadProducesWorkbook(t *testing.T) {
	f := newFixture(t, false)
	data := zipOf(t, map[string]string{
		"srv/app01/jetty/access-app01.log":  accessLog("T1", 200),
		"srv/app02/jetty/access-app02.log":  accessLog("T2", 500),
		"__MACOSX/srv/jetty/._access-x.log": "resource fork",
		"srv/app01/notes.txt":               "ignored",
	})
	done := f.completed(t, "logs.zip", "logs.zip", data)

	batch := f.proc.NewBatch(f.session)
	require.NoError(t, batch.Dispatch(context.Background(), done))
	res, err := batch.Flush(context.Background())
	require.NoError(t, err)

	require.Equal(t, report.ReportPath(f.proc.WorkDir, f.session.Token), res.Path)
	require.Equal(t, "logs.xlsx", res.ReportName)
	require.Equal(t, 2, res.SheetCount)
	require.ElementsMatch(t, []string{"app01", "app02"}, res.Labels)

	book, err := excelize.OpenFile(res.Path)
	require.NoError(t, err)
	defer book.Close()
	rows, err := book.GetRows("app02")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "T2", rows[1][0])
	require.Equal(t, "3", rows[1][4])
	require.Equal(t, "500", rows[1][5])

	_, err = os.Stat(done.DestDir)
	require.True(t, os.IsNotExist(err), "extraction dir should be removed after flush")
	_, err = os.Stat(done.Path)
	require.NoError(t, err, "the upload itself is left for the cleaner")
}

func TestKeepExtracted(t *testing.T) {
	f := newFixture(t, true)
	done := f.completed(t, "logs.zip", "logs.zip", zipOf(t, map[string]string{
		"jetty/access-app01.log": accessLog("T1", 200),
	}))
	batch := f.proc.NewBatch(f.session)
	require.NoError(t, batch.Dispatch(context.Background(), done))
	_, err := batch.Flush(context.Background())
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(done.DestDir, "jetty", "access-app01.log"))
	require.NoError(t, err)
}

func TestPlainLogUpload(t *testing.T) {
	f := newFixture(t, false)
	done := f.completed(t, "tok_file.log", "access-web.log", []byte(accessLog("T9", 204)))

	batch := f.proc.NewBatch(f.session)
	require.NoError(t, batch.Dispatch(context.Background(), done))
	res, err := batch.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-web.xlsx", res.ReportName)
	require.Equal(t, []string{"web"}, res.Labels)

	hook := new(logtest.Hook)
	logger.AddHook(hook)
	g := newFixture(t, false)
	unlabelled := g.completed(t, "tok_file.log", "access.log", []byte(accessLog("T9", 204)))
	batch = g.proc.NewBatch(g.session)
	require.NoError(t, batch.Dispatch(context.Background(), unlabelled))
	res, err = batch.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{report.DefaultSheetName}, res.Labels)

	var warned bool
	for _, entry := range hook.AllEntries() {
		if strings.Contains(entry.Message, "no sheet label in access.log") {
			warned = true
		}
	}
	require.True(t, warned, "missing label should be logged")
}

func TestCollidingLabelsAcrossUploadsKeepLast(t *testing.T) {
	f := newFixture(t, false)
	first := f.completed(t, "a.zip", "a.zip", zipOf(t, map[string]string{"jetty/access-app01.log": accessLog("FIRST", 200)}))
	second := f.completed(t, "b.zip", "b.zip", zipOf(t, map[string]string{"jetty/access-app01.log": accessLog("SECOND", 200)}))

	batch := f.proc.NewBatch(f.session)
	require.NoError(t, batch.Dispatch(context.Background(), first))
	require.NoError(t, batch.Dispatch(context.Background(), second))
	res, err := batch.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a.xlsx", res.ReportName)
	require.Equal(t, 1, res.SheetCount)

	book, err := excelize.OpenFile(res.Path)
	require.NoError(t, err)
	defer book.Close()
	rows, err := book.GetRows("app01")
	require.NoError(t, err)
	require.Equal(t, "SECOND", rows[1][0])
}

func TestFlushWithoutSheets(t *testing.T) {
	f := newFixture(t, false)
	done := f.completed(t, "empty.zip", "empty.zip", zipOf(t, map[string]string{"readme.txt": "no logs"}))
	batch := f.proc.NewBatch(f.session)
	require.NoError(t, batch.Dispatch(context.Background(), done))
	_, err := batch.Flush(context.Background())
	require.True(t, errors.Is(err, ErrEmptyReport), "got %v", err)
}

func TestCorruptArchiveFailsDispatch(t *testing.T) {
	f := newFixture(t, false)
	done := f.completed(t, "bad.zip", "bad.zip", append([]byte("PK\x03\x04"), bytes.Repeat([]byte{0xff}, 64)...))
	batch := f.proc.NewBatch(f.session)
	err := batch.Dispatch(context.Background(), done)
	require.True(t, errors.Is(err, archive.ErrExtractionFailure), "got %v", err)
}
