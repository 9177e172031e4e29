package home

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// DefaultDirName is the default name for the scriptorium home directory.
	DefaultDirName = ".scriptorium"

	// DownloadsDirName is the subdirectory for merged manuscript PDFs.
	DownloadsDirName = "downloads"

	// StateDirName is the subdirectory used by the file-backed store.
	StateDirName = "state"

	// PagesDirName is the scratch subdirectory for in-flight page images.
	PagesDirName = "pages"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Dir represents the scriptorium home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.scriptorium).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// DownloadsPath returns the directory merged PDFs are written to.
func (d *Dir) DownloadsPath() string {
	return filepath.Join(d.path, DownloadsDirName)
}

// StatePath returns the directory holding persisted queue state.
func (d *Dir) StatePath() string {
	return filepath.Join(d.path, StateDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{d.DownloadsPath(), d.StatePath(), d.PagesPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// PagesPath returns the scratch directory that holds page images while a
// download is in flight.
func (d *Dir) PagesPath() string {
	return filepath.Join(d.path, PagesDirName)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// OutputPath returns the merged PDF path for a manuscript.
// The name is sanitized; the job ID prefix keeps paths unique.
func (d *Dir) OutputPath(jobID, displayName string) string {
	name := strings.Trim(unsafeChars.ReplaceAllString(displayName, "_"), "_.")
	if len(name) > 80 {
		name = name[:80]
	}
	short := jobID
	if len(short) > 8 {
		short = short[:8]
	}
	if name == "" {
		return filepath.Join(d.DownloadsPath(), short+".pdf")
	}
	return filepath.Join(d.DownloadsPath(), fmt.Sprintf("%s_%s.pdf", name, short))
}
