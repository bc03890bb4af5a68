package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ferry/internal/logging"
)

// CleanStaleResult contains the outcome of a stale entry cleanup.
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
}

// Err returns the first cleanup error, or nil.
func (r CleanStaleResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0].Error
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// Kind selects which directory entries CleanStale considers.
type Kind int

const (
	// Dirs matches per-item work directories.
	Dirs Kind = 1 << iota
	// Files matches plain files such as downloaded copies.
	Files
	All = Dirs | Files
)

// CleanStale removes entries of dir whose modification time is older than
// maxAge. A non-positive maxAge disables cleanup. Missing directories are not
// an error.
func CleanStale(ctx context.Context, dir string, maxAge time.Duration, kind Kind, logger *slog.Logger) CleanStaleResult {
	result := CleanStaleResult{}

	dir = strings.TrimSpace(dir)
	if dir == "" || maxAge <= 0 {
		return result
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: dir, Error: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)

	for _, entry := range entries {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dir, Error: ctx.Err()})
			return result
		}
		if entry.IsDir() && kind&Dirs == 0 {
			continue
		}
		if !entry.IsDir() && kind&Files == 0 {
			continue
		}

		entryPath := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: entryPath, Error: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.RemoveAll(entryPath); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: entryPath, Error: err})
			logger.Warn("failed to remove old entry",
				logging.String("path", entryPath),
				logging.Error(err),
				logging.String(logging.FieldEventType, "old_file_cleanup_failed"),
				logging.String(logging.FieldErrorHint, "check permissions under paths.work_dir"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, entryPath)
		logger.Info("removed old entry",
			logging.String("path", entryPath),
			logging.Duration("age", time.Since(info.ModTime())),
			logging.String(logging.FieldEventType, "old_file_cleanup"),
		)
	}

	return result
}

// ListEntries returns the entries of dir with their metadata, sorted by name.
func ListEntries(dir string) ([]EntryInfo, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []EntryInfo
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		entryPath := filepath.Join(dir, entry.Name())
		size := info.Size()
		if entry.IsDir() {
			size, _ = dirSize(entryPath)
		}
		out = append(out, EntryInfo{
			Name:    entry.Name(),
			Path:    entryPath,
			IsDir:   entry.IsDir(),
			ModTime: info.ModTime(),
			Size:    size,
		})
	}
	return out, nil
}

// EntryInfo describes one entry of a staging area.
type EntryInfo struct {
	Name    string
	Path    string
	IsDir   bool
	ModTime time.Time
	Size    int64
}

func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			if info, infoErr := d.Info(); infoErr == nil {
				size += info.Size()
			}
		}
		return nil
	})
	return size, err
}
