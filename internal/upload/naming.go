package upload

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const tokenLayout = "20060102_150405"

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// NewToken returns the run-scoped name token for a session started at t: the formatted
// timestamp plus six random hex characters, so two sessions started in the same second
// collide only with probability 1/16^6.
func NewToken(t time.Time) string {
	return t.Format(tokenLayout) + "-" + randomSuffix()
}

// SessionDir is the working directory every file of one session is written under.
func SessionDir(workDir, token string) string {
	return filepath.Join(workDir, "upload_"+token)
}

// ReportFilename maps an uploaded filename to the name of the report derived from it.
func ReportFilename(original string) string {
	base := filepath.Base(strings.ReplaceAll(original, `\`, "/"))
	if base == "." || base == "/" || base == "" {
		return "report.xlsx"
	}
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".xlsx"
}

// ExtractDir is where the stored file at path is expanded when it turns out to be an archive.
func ExtractDir(path string) string {
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	if stem == path {
		return path + "_expanded"
	}
	return stem
}

func storedName(token, field, original string) string {
	field = sanitize(field)
	if field == "" {
		field = "file"
	}
	ext := sanitize(filepath.Ext(filepath.Base(original)))
	if ext == "." {
		ext = ""
	}
	return token + "_" + field + ext
}

func withDisambiguator(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "-" + randomSuffix() + ext
}

func sanitize(s string) string {
	return strings.Trim(unsafeNameChars.ReplaceAllString(s, "_"), "_")
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}
