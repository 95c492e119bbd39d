package artifact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"jettyreport/internal/models"
	"jettyreport/internal/storage"
)

// DefaultTTL is how long uploads and reports stay on disk when no TTL is configured.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned when no unexpired report matches a lookup.
var ErrNotFound = errors.New("report not found")

// Service records uploaded files and written reports so they can be served and expired.
type Service struct {
	db     *sql.DB
	driver string
	ttl    time.Duration
	now    func() time.Time
}

// NewService builds the registry on an already migrated database.
func NewService(db *sql.DB, driver string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{db: db, driver: storage.DriverName(driver), ttl: ttl, now: time.Now}
}

// RecordUpload registers a stored upload for later cleanup.
func (s *Service) RecordUpload(ctx context.Context, sessionID, token string, f models.UploadedFile) (*models.UploadRecord, error) {
	now := s.now().UTC()
	rec := &models.UploadRecord{
		SessionID:    sessionID,
		Token:        token,
		FieldName:    f.FieldName,
		OriginalName: f.OriginalName,
		StoredPath:   f.Path,
		Size:         f.Size,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}
	id, err := s.insert(ctx,
		`INSERT INTO uploads (session_id, token, field_name, original_name, stored_path, size, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Token, rec.FieldName, rec.OriginalName, rec.StoredPath, rec.Size, rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("record upload: %w", err)
	}
	rec.ID = id
	return rec, nil
}

// RecordReport registers a written workbook. Size, timestamps and ID are filled in.
func (s *Service) RecordReport(ctx context.Context, art *models.ReportArtifact) error {
	if art == nil || art.Token == "" || art.Path == "" {
		return errors.New("report token and path are required")
	}
	info, err := os.Stat(art.Path)
	if err != nil {
		return fmt.Errorf("stat report: %w", err)
	}
	now := s.now().UTC()
	art.Size = info.Size()
	art.CreatedAt = now
	art.ExpiresAt = now.Add(s.ttl)

	id, err := s.insert(ctx,
		`INSERT INTO reports (token, session_id, upload_filename, report_name, path, size, sheet_count, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		art.Token, art.SessionID, art.UploadFilename, art.ReportName, art.Path, art.Size, art.SheetCount, art.CreatedAt, art.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("record report: %w", err)
	}
	art.ID = id
	return nil
}

// ReportByToken returns the unexpired report of the session named by token.
func (s *Service) ReportByToken(ctx context.Context, token string) (*models.ReportArtifact, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrNotFound
	}
	return s.queryReport(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE token = ? AND expires_at > ?`,
		token, s.now().UTC(),
	)
}

// ReportByName returns the most recent unexpired report with the given download name.
func (s *Service) ReportByName(ctx context.Context, name string) (*models.ReportArtifact, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNotFound
	}
	return s.queryReport(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE report_name = ? AND expires_at > ?
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		name, s.now().UTC(),
	)
}

const reportColumns = `id, token, session_id, upload_filename, report_name, path, size, sheet_count, created_at, expires_at`

func (s *Service) queryReport(ctx context.Context, query string, args ...any) (*models.ReportArtifact, error) {
	row := s.db.QueryRowContext(ctx, storage.Rebind(s.driver, query), args...)
	var art models.ReportArtifact
	err := row.Scan(&art.ID, &art.Token, &art.SessionID, &art.UploadFilename, &art.ReportName,
		&art.Path, &art.Size, &art.SheetCount, &art.CreatedAt, &art.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query report: %w", err)
	}
	return &art, nil
}

// insert runs an INSERT and returns the new row id; postgres has no LastInsertId.
func (s *Service) insert(ctx context.Context, query string, args ...any) (int64, error) {
	if s.driver == "postgres" {
		var id int64
		err := s.db.QueryRowContext(ctx, storage.Rebind(s.driver, query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
