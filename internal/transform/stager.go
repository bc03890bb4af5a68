package transform

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"ferry/internal/config"
	"ferry/internal/fileutil"
	"ferry/internal/logging"
	"ferry/internal/pipeline"
	"ferry/internal/staging"
	"ferry/internal/textutil"
)

const archiveExt = ".zip"

// Stager is a pipeline.Transformer that stages files into per-item work dirs.
type Stager struct {
	processingDir string
	downloadsDir  string
	extensions    []string
	maxAge        time.Duration
	logger        *slog.Logger
}

var _ pipeline.Transformer = (*Stager)(nil)

// New builds a stager from cfg.
func New(cfg *config.Config, logger *slog.Logger) *Stager {
	var exts []string
	for _, ext := range cfg.Inbox.Extensions {
		ext = strings.ToLower(ext)
		if ext != archiveExt {
			exts = append(exts, ext)
		}
	}
	return &Stager{
		processingDir: cfg.Paths.ProcessingDir,
		downloadsDir:  cfg.Paths.DownloadsDir,
		extensions:    exts,
		maxAge:        cfg.CleanupAge(),
		logger:        logging.NewComponentLogger(logger, "transform"),
	}
}

// WorkDir returns the work directory used for item.
func (s *Stager) WorkDir(item pipeline.WorkItem) string {
	return filepath.Join(s.processingDir, textutil.SanitizeSegment(item.ID, "item"))
}

// Transform stages item.Locator into the item's work directory and returns
// the staged artifact paths in lexical order.
func (s *Stager) Transform(ctx context.Context, item pipeline.WorkItem) pipeline.StageResult {
	input := strings.TrimSpace(item.Locator)
	if input == "" {
		return pipeline.Failed(errors.New("item has no fetched input"))
	}
	info, err := os.Stat(input)
	if err != nil {
		return pipeline.Failed(fmt.Errorf("stat input: %w", err))
	}

	workDir := s.WorkDir(item)
	if err := os.RemoveAll(workDir); err != nil {
		return pipeline.Failed(fmt.Errorf("reset work dir: %w", err))
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return pipeline.Failed(fmt.Errorf("create work dir: %w", err))
	}

	switch {
	case info.IsDir():
		err = s.copyTree(ctx, input, workDir)
	case strings.EqualFold(filepath.Ext(input), archiveExt):
		err = s.extract(ctx, input, workDir)
	default:
		err = fileutil.CopyFile(input, filepath.Join(workDir, filepath.Base(input)))
	}
	if err != nil {
		return pipeline.Failed(err)
	}

	artifacts, err := s.collect(workDir)
	if err != nil {
		return pipeline.Failed(fmt.Errorf("collect artifacts: %w", err))
	}
	logging.WithContext(ctx, s.logger).Debug("item staged",
		logging.String("work_dir", workDir),
		logging.Int("artifacts", len(artifacts)),
	)
	return pipeline.Succeeded(artifacts...)
}

// Cleanup removes the item's work directory and its downloaded input.
func (s *Stager) Cleanup(_ context.Context, item pipeline.WorkItem) error {
	var errs []error
	if err := os.RemoveAll(s.WorkDir(item)); err != nil {
		errs = append(errs, fmt.Errorf("remove work dir: %w", err))
	}
	if input := item.Locator; input != "" && fileutil.Within(s.downloadsDir, input) && input != s.downloadsDir {
		if err := os.RemoveAll(input); err != nil {
			errs = append(errs, fmt.Errorf("remove download: %w", err))
		}
	}
	return errors.Join(errs...)
}

// CleanupOld removes work directories older than workflow.cleanup_old_files_days.
func (s *Stager) CleanupOld(ctx context.Context) error {
	result := staging.CleanStale(ctx, s.processingDir, s.maxAge, staging.Dirs, logging.WithContext(ctx, s.logger))
	if len(result.Removed) > 0 {
		s.logger.Info("old work directories removed", logging.Int("count", len(result.Removed)))
	}
	return result.Err()
}

func (s *Stager) extract(ctx context.Context, archive, dest string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	for _, file := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, err := fileutil.SafeJoin(dest, file.Name)
		if err != nil {
			return fmt.Errorf("archive entry: %w", err)
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(file, target); err != nil {
			return fmt.Errorf("extract %s: %w", file.Name, err)
		}
	}
	return nil
}

func extractFile(file *zip.File, target string) error {
	rc, err := file.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return fileutil.WriteFrom(rc, target, 0o644)
}

func (s *Stager) copyTree(ctx context.Context, src, dest string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		return fileutil.CopyFile(path, filepath.Join(dest, rel))
	})
}

func (s *Stager) collect(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (strings.HasPrefix(name, ".") || name == "__MACOSX") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !s.allowed(name) {
			return nil
		}
		out = append(out, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(out)
	return out, nil
}

func (s *Stager) allowed(name string) bool {
	if len(s.extensions) == 0 {
		return true
	}
	return slices.Contains(s.extensions, strings.ToLower(filepath.Ext(name)))
}
