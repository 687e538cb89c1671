// Package outputs manages the directory of finished export videos: listing,
// safe path resolution for downloads, deletion, ZIP archiving, and thumbnail
// generation.
package outputs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// FileInfo describes one finished export in the output directory.
type FileInfo struct {
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Dir is a handle on the output directory. Zero value is not usable; use New.
type Dir struct {
	root string
}

// New returns a Dir rooted at path, creating the directory if needed.
func New(path string) (*Dir, error) {
	if path == "" {
		return nil, fmt.Errorf("output directory path is empty")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", path, err)
	}
	return &Dir{root: path}, nil
}

// Root returns the directory path.
func (d *Dir) Root() string {
	return d.root
}

// List returns the .mp4 files in the directory, newest first.
func (d *Dir) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("read output directory: %w", err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".mp4") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping unreadable output file")
			continue
		}
		files = append(files, FileInfo{
			Filename: entry.Name(),
			Size:     info.Size(),
			Modified: info.ModTime().UTC(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Modified.After(files[j].Modified)
	})
	return files, nil
}

// Path resolves a filename to its full path inside the directory. It rejects
// traversal sequences and names that resolve outside the root, and reports
// whether the file exists.
func (d *Dir) Path(filename string) (string, error) {
	if filename == "" || ContainsPathTraversal(filename) {
		return "", fmt.Errorf("invalid filename: %s", filename)
	}
	// Names with separators would address subdirectories the listing never
	// exposes; reject them outright.
	if filepath.Base(filename) != filename {
		return "", fmt.Errorf("invalid filename: %s", filename)
	}

	full := filepath.Join(d.root, filename)
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", filename)
		}
		return "", fmt.Errorf("stat %s: %w", filename, err)
	}
	return full, nil
}

// Delete removes a file from the directory.
func (d *Dir) Delete(filename string) error {
	full, err := d.Path(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("delete %s: %w", filename, err)
	}
	log.Info().Str("file", filename).Msg("Deleted output file")
	return nil
}

// ContainsPathTraversal returns true if the path contains directory traversal
// sequences that could escape the intended directory.
//
// The raw segments are checked before filepath.Clean resolves them, because
// Clean("/tmp/../etc") silently produces "/etc" with no ".." remaining.
func ContainsPathTraversal(p string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}
