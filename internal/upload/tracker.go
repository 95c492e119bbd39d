package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"jettyreport/internal/logger"
	"jettyreport/internal/models"
	"jettyreport/internal/progress"
)

var (
	// ErrSizeExceeded is returned when a part is, or turns out to be, larger than allowed.
	ErrSizeExceeded = errors.New("upload size exceeded")
	// ErrStorageFailure wraps disk errors while persisting a part.
	ErrStorageFailure = errors.New("upload storage failure")
)

const (
	DefaultProgressInterval = 250 * time.Millisecond
	maxNameAttempts         = 5
	copyBufferSize          = 32 * 1024
)

// CompleteFunc receives every fully written part.
type CompleteFunc func(ctx context.Context, done models.CompletedUpload) error

type Options struct {
	WorkDir            string
	MaxPartSize        int64
	AvoidFileConflicts bool
	ProgressInterval   time.Duration
	Publisher          progress.Publisher
	OnComplete         CompleteFunc
	Clock              func() time.Time
}

// Part is one multipart file field.
type Part struct {
	FieldName string
	Filename  string
	SizeHint  int64
	Body      io.Reader
}

// Tracker streams the parts of one upload session to disk and reports progress for them.
// Progress is computed from the bytes received across all parts of the session against the
// session's declared size, so the percentage never moves backwards between parts.
type Tracker struct {
	session models.UploadSession
	opts    Options
	dir     string

	mu          sync.Mutex
	transferred int64
	lastPct     int64
	lastPublish time.Time
}

func NewTracker(session models.UploadSession, opts Options) *Tracker {
	if opts.MaxPartSize <= 0 {
		opts.MaxPartSize = session.MaxPartSize
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = opts.Clock()
	}
	return &Tracker{
		session: session,
		opts:    opts,
		dir:     SessionDir(opts.WorkDir, session.Token),
	}
}

// Dir is the session working directory.
func (t *Tracker) Dir() string {
	return t.dir
}

// Accept persists one part and hands it to OnComplete.
func (t *Tracker) Accept(ctx context.Context, part Part) (*models.UploadedFile, error) {
	if t.opts.MaxPartSize > 0 && part.SizeHint > t.opts.MaxPartSize {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrSizeExceeded, part.SizeHint, t.opts.MaxPartSize)
	}
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create session dir: %v", ErrStorageFailure, err)
	}
	f, name, err := t.create(storedName(t.session.Token, part.FieldName, part.Filename))
	if err != nil {
		return nil, err
	}
	path := f.Name()

	written, err := t.copy(ctx, f, part, name)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("%w: close %s: %v", ErrStorageFailure, name, cerr)
	}
	if err != nil {
		logger.Warnf("[upload] session %s field %s aborted after %d bytes: %v", t.session.ID, part.FieldName, written, err)
		// nothing records a part that never completed, so the cleaner would not find it
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warnf("[upload] remove partial %s: %v", path, rmErr)
		}
		return nil, err
	}

	t.publishTerminal(part.FieldName, name)

	uploaded := &models.UploadedFile{
		FieldName:    part.FieldName,
		OriginalName: part.Filename,
		StoredName:   name,
		Path:         path,
		Size:         written,
		DeclaredSize: part.SizeHint,
	}
	logger.Infof("[upload] session %s stored %s (%d bytes)", t.session.ID, path, written)

	if t.opts.OnComplete != nil {
		done := models.CompletedUpload{
			UploadedFile:   *uploaded,
			UploadFilename: ReportFilename(part.Filename),
			DestDir:        ExtractDir(path),
		}
		if err := t.opts.OnComplete(ctx, done); err != nil {
			return uploaded, err
		}
	}
	return uploaded, nil
}

func (t *Tracker) create(name string) (*os.File, string, error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if t.opts.AvoidFileConflicts {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	candidate := name
	for attempt := 0; attempt <= maxNameAttempts; attempt++ {
		f, err := os.OpenFile(filepath.Join(t.dir, candidate), flags, 0o644)
		if err == nil {
			return f, candidate, nil
		}
		if !t.opts.AvoidFileConflicts || !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("%w: create %s: %v", ErrStorageFailure, candidate, err)
		}
		candidate = withDisambiguator(name)
	}
	return nil, "", fmt.Errorf("%w: no free name for %s", ErrStorageFailure, name)
}

func (t *Tracker) copy(ctx context.Context, dst io.Writer, part Part, filename string) (int64, error) {
	if part.Body == nil {
		return 0, nil
	}
	src := &countingReader{ctx: ctx, r: part.Body, limit: t.opts.MaxPartSize}
	buf := make([]byte, copyBufferSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return src.n, fmt.Errorf("%w: write: %v", ErrStorageFailure, werr)
			}
			t.advance(part.FieldName, filename, int64(n))
		}
		if rerr == io.EOF {
			return src.n, nil
		}
		if rerr != nil {
			return src.n, rerr
		}
	}
}

// advance counts n more bytes and publishes a snapshot when the interval has elapsed.
func (t *Tracker) advance(field, filename string, n int64) {
	now := t.opts.Clock()
	t.mu.Lock()
	t.transferred += n
	if !t.lastPublish.IsZero() && now.Sub(t.lastPublish) < t.opts.ProgressInterval {
		t.mu.Unlock()
		return
	}
	t.lastPublish = now
	ev := t.snapshotLocked(field, filename, now)
	t.mu.Unlock()
	t.publish(ev)
}

func (t *Tracker) snapshotLocked(field, filename string, now time.Time) models.ProgressEvent {
	total := t.session.DeclaredSize
	pct := t.lastPct
	var remaining int64
	if total > 0 {
		computed := int64(math.Floor(float64(t.transferred) * 100 / float64(total)))
		pct = min(max(computed, t.lastPct), 100)
		elapsed := now.Sub(t.session.StartedAt).Seconds()
		if elapsed > 0 && t.transferred > 0 {
			speed := float64(t.transferred) / elapsed
			remaining = max(int64(math.Floor(float64(total-t.transferred)/speed)), 0)
		}
	}
	t.lastPct = pct
	return models.ProgressEvent{
		UploadID:         t.session.ID,
		Name:             field,
		Filename:         filename,
		FilesizeKB:       max(total, 0) / 1024,
		UploadedKB:       t.transferred / 1024,
		Percentage:       pct,
		RemainingSeconds: remaining,
	}
}

func (t *Tracker) publishTerminal(field, filename string) {
	t.mu.Lock()
	total := t.session.DeclaredSize
	if total <= 0 {
		total = t.transferred
	}
	t.lastPct = 100
	t.lastPublish = t.opts.Clock()
	t.mu.Unlock()

	t.publish(models.ProgressEvent{
		UploadID:         t.session.ID,
		Name:             field,
		Filename:         filename,
		FilesizeKB:       total / 1024,
		UploadedKB:       total / 1024,
		Percentage:       100,
		RemainingSeconds: 0,
		Done:             true,
	})
}

func (t *Tracker) publish(ev models.ProgressEvent) {
	if t.opts.Publisher == nil {
		return
	}
	if logger.IsDebugEnabled() {
		logger.Debugf("[upload] session %s field %s %d%% (%d KB)", ev.UploadID, ev.Name, ev.Percentage, ev.UploadedKB)
	}
	t.opts.Publisher.Publish(t.session.ID, ev)
}

// countingReader counts bytes and stops once the limit is passed or ctx is done.
type countingReader struct {
	ctx   context.Context
	r     io.Reader
	n     int64
	limit int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.limit > 0 && c.n > c.limit {
		return 0, fmt.Errorf("%w: received more than %d bytes", ErrSizeExceeded, c.limit)
	}
	return n, err
}
