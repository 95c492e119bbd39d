package correlate

import (
	"context"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"jettyreport/internal/archive"
	"jettyreport/internal/logger"
)

// LogDirName is the directory name that marks a set of jetty access logs.
const LogDirName = "jetty"

var sheetLabelPattern = regexp.MustCompile(`-(\w+)\.[^.]+$`)

// SheetLabel extracts the token between the last hyphen and the extension of a log
// filename, e.g. "access-app01.log" -> "app01".
func SheetLabel(filename string) (string, bool) {
	m := sheetLabelPattern.FindStringSubmatch(filepath.Base(filename))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// FindLogDirectories lazily walks root and yields every jetty directory outside macOS
// metadata folders. Selected directories are not descended into. Walk errors are yielded
// with the offending path and the walk continues.
func FindLogDirectories(root string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if !yield(path, err) {
					return filepath.SkipAll
				}
				return nil
			}
			if !d.IsDir() || path == root {
				return nil
			}
			if d.Name() == archive.MetadataDir {
				return filepath.SkipDir
			}
			if d.Name() != LogDirName {
				return nil
			}
			rel, _ := filepath.Rel(root, path)
			if strings.Contains(rel, archive.MetadataDir) {
				return filepath.SkipDir
			}
			if !yield(path, nil) {
				return filepath.SkipAll
			}
			return filepath.SkipDir
		})
	}
}

// Engine correlates log files into sheets.
type Engine struct {
	Policy MatchPolicy
}

// CorrelateFile reads one access log and correlates it.
func (e Engine) CorrelateFile(path string) (Sheet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Sheet{}, err
	}
	text := strings.ReplaceAll(string(data), `""`, `"`)
	lines := strings.Split(text, "\n")

	label, ok := SheetLabel(path)
	if !ok {
		logger.Warnf("[correlate] no sheet label in %s", filepath.Base(path))
	}
	rows := Correlate(lines, e.Policy)
	logger.Debugf("[correlate] %s: %d requests", filepath.Base(path), len(rows))
	return Sheet{Label: label, Source: path, Rows: rows}, nil
}

// CorrelateDirectory correlates every non-directory entry of dir in name order. Symlinks
// are followed; entries that cannot be read are logged and skipped.
func (e Engine) CorrelateDirectory(ctx context.Context, dir string) []Sheet {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Errorf("[correlate] read dir %s: %v", dir, err)
		return nil
	}
	var sheets []Sheet
	for _, entry := range entries {
		if ctx.Err() != nil {
			return sheets
		}
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if mode := entry.Type(); !mode.IsRegular() && mode&fs.ModeSymlink == 0 {
			// pipes and devices would block or never end
			logger.Warnf("[correlate] skip %s: not a regular file (%s)", path, mode)
			continue
		}
		sheet, err := e.CorrelateFile(path)
		if err != nil {
			logger.Warnf("[correlate] skip %s: %v", path, err)
			continue
		}
		sheets = append(sheets, sheet)
	}
	return sheets
}
