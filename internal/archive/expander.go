package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"jettyreport/internal/logger"
)

// ErrExtractionFailure is returned when an archive entry cannot be decoded or written.
var ErrExtractionFailure = errors.New("archive extraction failure")

// MetadataDir is the resource-fork directory macOS adds to archives it creates.
const MetadataDir = "__MACOSX"

const (
	DefaultMaxNestedDepth = 2
	zipMIME               = "application/zip"
	nestedDirSuffix       = "_expanded"
)

// IsArchive reports whether the file at path carries a zip container signature. Formats
// built on zip (jar, docx, xlsx) count as archives too.
func IsArchive(path string) (bool, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return false, err
	}
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is(zipMIME) {
			return true, nil
		}
	}
	return false, nil
}

// Expander extracts zip archives, including archives nested inside them.
type Expander struct {
	// MaxNestedDepth bounds how many levels of archives inside archives are expanded.
	// Zero expands the outer archive only.
	MaxNestedDepth int
}

// Expand recreates the archive's file hierarchy under destDir and returns every extracted
// path. Directory entries are skipped; only parents needed by files are created. Nothing
// is rolled back on failure.
func (e Expander) Expand(ctx context.Context, archivePath, destDir string) ([]string, error) {
	return e.expand(ctx, archivePath, destDir, 0)
}

func (e Expander) expand(ctx context.Context, archivePath, destDir string, depth int) ([]string, error) {
	reader, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) && reader != nil {
		// entryTarget rejects the offending entries one by one
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrExtractionFailure, filepath.Base(archivePath), err)
	}
	defer reader.Close()

	root, err := filepath.Abs(destDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailure, err)
	}

	var extracted []string
	for _, entry := range reader.File {
		if err := ctx.Err(); err != nil {
			return extracted, err
		}
		if entry.FileInfo().IsDir() || strings.HasSuffix(entry.Name, "/") {
			continue
		}
		target, err := entryTarget(root, entry.Name)
		if err != nil {
			return extracted, err
		}
		if err := writeEntry(entry, target); err != nil {
			return extracted, err
		}
		extracted = append(extracted, target)

		if depth >= e.MaxNestedDepth || inMetadataDir(target) {
			continue
		}
		nested, err := IsArchive(target)
		if err != nil || !nested {
			continue
		}
		nestedDest := nestedTarget(target)
		logger.Debugf("[archive] expanding nested %s into %s", target, nestedDest)
		inner, err := e.expand(ctx, target, nestedDest, depth+1)
		extracted = append(extracted, inner...)
		if err != nil {
			return extracted, err
		}
	}
	logger.Infof("[archive] extracted %d files from %s", len(extracted), filepath.Base(archivePath))
	return extracted, nil
}

// entryTarget resolves an entry name under root, refusing names that escape it.
func entryTarget(root, name string) (string, error) {
	clean := filepath.FromSlash(strings.ReplaceAll(name, `\`, "/"))
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", fmt.Errorf("%w: absolute entry path %q", ErrExtractionFailure, name)
	}
	target := filepath.Join(root, clean)
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: entry %q escapes destination", ErrExtractionFailure, name)
	}
	return target, nil
}

func writeEntry(entry *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir for %s: %v", ErrExtractionFailure, entry.Name, err)
	}
	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("%w: open entry %s: %v", ErrExtractionFailure, entry.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrExtractionFailure, entry.Name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("%w: write %s: %v", ErrExtractionFailure, entry.Name, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrExtractionFailure, entry.Name, err)
	}
	return nil
}

// nestedTarget names the directory an inner archive is expanded into: logs/a.zip -> logs/a.
func nestedTarget(path string) string {
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	if stem == path {
		return path + nestedDirSuffix
	}
	return stem
}

func inMetadataDir(path string) bool {
	return slices.Contains(strings.Split(filepath.ToSlash(path), "/"), MetadataDir)
}
