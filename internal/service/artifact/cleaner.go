package artifact

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"jettyreport/internal/logger"
	"jettyreport/internal/storage"
	"jettyreport/internal/upload"
)

const DefaultCleanupInterval = time.Hour

// StartCleaner removes expired uploads and reports every interval until ctx is done.
func (s *Service) StartCleaner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	go s.cleanupLoop(ctx, interval)
}

func (s *Service) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.cleanupExpired(ctx); err != nil {
				logger.Errorf("[artifact] cleanup error: %v", err)
			}
		}
	}
}

type expiredRow struct {
	id   int64
	path string
}

// cleanupExpired deletes files past their expiry, then their rows, then any session
// directory left empty.
func (s *Service) cleanupExpired(ctx context.Context) error {
	now := s.now().UTC()
	dirs := make(map[string]struct{})

	uploads, err := s.expired(ctx, `SELECT id, stored_path FROM uploads WHERE expires_at <= ?`, now)
	if err != nil {
		return err
	}
	for _, f := range uploads {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			logger.Warnf("[artifact] remove upload %s failed: %v", f.path, err)
			continue
		}
		if err := os.RemoveAll(upload.ExtractDir(f.path)); err != nil {
			logger.Warnf("[artifact] remove extracted files of %s failed: %v", f.path, err)
		}
		if err := s.deleteRow(ctx, `DELETE FROM uploads WHERE id = ?`, f.id); err != nil {
			logger.Warnf("[artifact] delete upload record %d failed: %v", f.id, err)
		}
		dirs[filepath.Dir(f.path)] = struct{}{}
	}

	reports, err := s.expired(ctx, `SELECT id, path FROM reports WHERE expires_at <= ?`, now)
	if err != nil {
		return err
	}
	for _, r := range reports {
		if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
			logger.Warnf("[artifact] remove report %s failed: %v", r.path, err)
			continue
		}
		if err := s.deleteRow(ctx, `DELETE FROM reports WHERE id = ?`, r.id); err != nil {
			logger.Warnf("[artifact] delete report record %d failed: %v", r.id, err)
		}
		dirs[filepath.Dir(r.path)] = struct{}{}
	}

	// prune session directories that are now empty
	for dir := range dirs {
		_ = os.Remove(dir)
	}
	if len(uploads)+len(reports) > 0 {
		logger.Infof("[artifact] cleaned %d expired uploads and %d expired reports", len(uploads), len(reports))
	}
	return nil
}

func (s *Service) expired(ctx context.Context, query string, now time.Time) ([]expiredRow, error) {
	rows, err := s.db.QueryContext(ctx, storage.Rebind(s.driver, query), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []expiredRow
	for rows.Next() {
		var r expiredRow
		if err := rows.Scan(&r.id, &r.path); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Service) deleteRow(ctx context.Context, query string, id int64) error {
	_, err := s.db.ExecContext(ctx, storage.Rebind(s.driver, query), id)
	return err
}
