package archive

import (
	"path/filepath"
	"time"

	fileutil "repodocx/internal/file"
)

// Manifest records what a conversion produced and where it was saved.
type Manifest struct {
	JobID      string    `json:"job_id"`
	SourceURL  string    `json:"source_url"`
	Extensions []string  `json:"extensions"`
	CreatedAt  time.Time `json:"created_at"`
	Artifacts  []Result  `json:"artifacts"`
}

// WriteManifest stores m as <dir>/<job_id>.json and returns the path.
func WriteManifest(dir string, m Manifest) (string, error) {
	dest := filepath.Join(dir, fileutil.SanitizeFilename(m.JobID)+".json")
	if err := fileutil.WriteJSONAtomic(dest, m); err != nil {
		return "", err
	}
	return dest, nil
}
