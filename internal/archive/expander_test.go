package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type entry struct {
	name string
	body []byte
}

func buildZip(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		f, err := w.Create(e.name)
		require.NoError(t, err, "create entry %s", e.name)
		if e.body != nil {
			_, err = f.Write(e.body)
			require.NoError(t, err, "write entry %s", e.name)
		}
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func writeFile(t *testing.T, path string, data []byte) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestIsArchiveUsesSignature(t *testing.T) {
	dir := t.TempDir()
	zipped := writeFile(t, filepath.Join(dir, "logs.bin"), buildZip(t, []entry{{name: "a.txt", body: []byte("a")}}))
	plain := writeFile(t, filepath.Join(dir, "fake.zip"), []byte("2024-01-01 00:00:00.000 [T1] INFO plain text"))

	ok, err := IsArchive(zipped)
	require.NoError(t, err)
	require.True(t, ok, "zip signature should be detected regardless of extension")

	ok, err = IsArchive(plain)
	require.NoError(t, err)
	require.False(t, ok, "plain file named .zip is not an archive")

	_, err = IsArchive(filepath.Join(dir, "missing"))
	require.Error(t, err)
}

func TestExpandRoundTripsNestedDirectories(t *testing.T) {
	dir := t.TempDir()
	entries := []entry{
		{name: "logs/"},
		{name: "logs/app01/jetty/access-app01.log", body: []byte("line one\nline two\n")},
		{name: "logs/app02/jetty/access-app02.log", body: bytes.Repeat([]byte{0, 1, 2, 3}, 4096)},
		{name: "logs/empty/"},
		{name: "README", body: []byte("readme")},
	}
	archivePath := writeFile(t, filepath.Join(dir, "upload.zip"), buildZip(t, entries))
	dest := filepath.Join(dir, "out")

	paths, err := Expander{MaxNestedDepth: DefaultMaxNestedDepth}.Expand(context.Background(), archivePath, dest)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	for _, e := range entries {
		if e.body == nil {
			continue
		}
		got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(e.name)))
		require.NoError(t, err)
		require.True(t, bytes.Equal(got, e.body), "content mismatch for %s", e.name)
	}
	_, err = os.Stat(filepath.Join(dest, "logs", "empty"))
	require.True(t, os.IsNotExist(err), "directory entries must not be materialized")
}

func TestExpandNestedArchives(t *testing.T) {
	dir := t.TempDir()
	inner := buildZip(t, []entry{{name: "jetty/access-inner.log", body: []byte("inner")}})
	outer := buildZip(t, []entry{{name: "bundle/inner.zip", body: inner}})
	archivePath := writeFile(t, filepath.Join(dir, "outer.zip"), outer)

	dest := filepath.Join(dir, "out")
	paths, err := Expander{MaxNestedDepth: 1}.Expand(context.Background(), archivePath, dest)
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(dest, "bundle", "inner", "jetty", "access-inner.log"))
	require.NoError(t, err, "nested archive not expanded, paths %v", paths)
	require.Equal(t, "inner", string(got))

	flat := filepath.Join(dir, "flat")
	_, err = Expander{}.Expand(context.Background(), archivePath, flat)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(flat, "bundle", "inner"))
	require.True(t, os.IsNotExist(err), "nested archive expanded despite zero depth")
}

func TestExpandRejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	archivePath := writeFile(t, filepath.Join(dir, "evil.zip"), buildZip(t, []entry{
		{name: "ok.txt", body: []byte("ok")},
		{name: "../../escape.txt", body: []byte("bad")},
	}))
	dest := filepath.Join(dir, "nested", "out")

	_, err := Expander{}.Expand(context.Background(), archivePath, dest)
	require.True(t, errors.Is(err, ErrExtractionFailure), "got %v", err)
	_, err = os.Stat(filepath.Join(dir, "escape.txt"))
	require.True(t, os.IsNotExist(err), "entry escaped the destination")
	// partial extraction is left in place
	_, err = os.Stat(filepath.Join(dest, "ok.txt"))
	require.NoError(t, err)
}

func TestExpandCorruptArchive(t *testing.T) {
	dir := t.TempDir()
	archivePath := writeFile(t, filepath.Join(dir, "broken.zip"), []byte("PK\x03\x04 definitely not a zip"))
	_, err := Expander{}.Expand(context.Background(), archivePath, filepath.Join(dir, "out"))
	require.True(t, errors.Is(err, ErrExtractionFailure), "got %v", err)
}
