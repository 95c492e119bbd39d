package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"jettyreport/internal/archive"
	"jettyreport/internal/correlate"
	"jettyreport/internal/logger"
	"jettyreport/internal/models"
	"jettyreport/internal/report"
)

// ErrEmptyReport is returned by Flush when no sheet was produced.
var ErrEmptyReport = errors.New("no log sheets produced")

// Processor routes completed uploads to the archive expander and the correlation engine.
type Processor struct {
	Expander      archive.Expander
	Engine        correlate.Engine
	Writer        report.Writer
	WorkDir       string
	KeepExtracted bool
}

// Result describes a written report.
type Result struct {
	Path       string
	ReportName string
	SheetCount int
	Labels     []string
}

// Batch collects the sheets of every part of one upload action into a single workbook.
type Batch struct {
	proc    *Processor
	session models.UploadSession

	mu         sync.Mutex
	workbook   *report.Workbook
	reportName string
	extracted  []string
}

func (p *Processor) NewBatch(session models.UploadSession) *Batch {
	return &Batch{proc: p, session: session, workbook: report.NewWorkbook()}
}

// Dispatch processes one completed upload: archives are expanded and every jetty directory
// inside is correlated, anything else is correlated as a single access log.
func (b *Batch) Dispatch(ctx context.Context, done models.CompletedUpload) error {
	isArchive, err := archive.IsArchive(done.Path)
	if err != nil {
		return fmt.Errorf("%w: inspect %s: %v", archive.ErrExtractionFailure, done.StoredName, err)
	}

	var sheets []correlate.Sheet
	if isArchive {
		sheets, err = b.expandAndCorrelate(ctx, done)
		if err != nil {
			return err
		}
	} else {
		sheet, err := b.proc.Engine.CorrelateFile(done.Path)
		if err != nil {
			// a single unreadable log degrades the report instead of failing it
			logger.Warnf("[pipeline] skip %s: %v", done.Path, err)
		} else {
			// stored names carry the session token; label by what the client sent
			label, ok := correlate.SheetLabel(done.OriginalName)
			if !ok {
				logger.WithField("upload_id", b.session.ID).Warnf("[pipeline] no sheet label in %s", done.OriginalName)
			}
			sheet.Label = label
			sheets = append(sheets, sheet)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reportName == "" {
		b.reportName = done.UploadFilename
	}
	for _, sheet := range sheets {
		if b.workbook.Add(sheet) {
			logger.WithField("upload_id", b.session.ID).Warnf("[pipeline] sheet %q replaced by %s", sheet.Label, sheet.Source)
		}
	}
	return nil
}

func (b *Batch) expandAndCorrelate(ctx context.Context, done models.CompletedUpload) ([]correlate.Sheet, error) {
	b.mu.Lock()
	b.extracted = append(b.extracted, done.DestDir)
	b.mu.Unlock()

	if _, err := b.proc.Expander.Expand(ctx, done.Path, done.DestDir); err != nil {
		return nil, err
	}
	var sheets []correlate.Sheet
	for dir, err := range correlate.FindLogDirectories(done.DestDir) {
		if err != nil {
			logger.Warnf("[pipeline] walk %s: %v", dir, err)
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		sheets = append(sheets, b.proc.Engine.CorrelateDirectory(ctx, dir)...)
	}
	if len(sheets) == 0 {
		logger.Infof("[pipeline] no jetty logs found in %s", done.OriginalName)
	}
	return sheets, nil
}

// Flush writes the workbook to the session's report path.
func (b *Batch) Flush(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.workbook.Len() == 0 {
		return nil, ErrEmptyReport
	}
	path, err := b.proc.Writer.Write(b.workbook, report.ReportPath(b.proc.WorkDir, b.session.Token))
	if err != nil {
		return nil, err
	}
	if !b.proc.KeepExtracted {
		for _, dir := range b.extracted {
			if err := os.RemoveAll(dir); err != nil {
				logger.Warnf("[pipeline] remove %s: %v", dir, err)
			}
		}
		b.extracted = nil
	}
	name := b.reportName
	if name == "" {
		name = b.session.Token + ".xlsx"
	}
	return &Result{
		Path:       path,
		ReportName: name,
		SheetCount: b.workbook.Len(),
		Labels:     b.workbook.Labels(),
	}, nil
}
