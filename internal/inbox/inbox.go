package inbox

import (
	"context"
	"errors"
	"fmt"
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
	"ferry/internal/services"
	"ferry/internal/staging"
)

// Marker records transmissions so acknowledged items are not listed again.
// Marks are keyed by pipeline.WorkItem.Key so poll and push runs share them.
type Marker interface {
	MarkTransmitted(ctx context.Context, itemID, rowNumber string, at time.Time) error
	LastTransmitted(ctx context.Context, itemID string) (time.Time, bool, error)
}

// Folder is a pipeline.Source over inbox.monitor_dir.
type Folder struct {
	monitorDir   string
	downloadsDir string
	extensions   []string
	autoDelete   bool
	maxAge       time.Duration
	marker       Marker
	logger       *slog.Logger
	now          func() time.Time
}

var (
	_ pipeline.Source  = (*Folder)(nil)
	_ pipeline.Settler = (*Folder)(nil)
)

// New builds a folder source. marker may be nil when the ledger is disabled.
func New(cfg *config.Config, marker Marker, logger *slog.Logger) *Folder {
	exts := make([]string, 0, len(cfg.Inbox.Extensions))
	for _, ext := range cfg.Inbox.Extensions {
		exts = append(exts, strings.ToLower(ext))
	}
	return &Folder{
		monitorDir:   cfg.Inbox.MonitorDir,
		downloadsDir: cfg.Paths.DownloadsDir,
		extensions:   exts,
		autoDelete:   cfg.Inbox.AutoDelete,
		maxAge:       cfg.CleanupAge(),
		marker:       marker,
		logger:       logging.NewComponentLogger(logger, "inbox"),
		now:          time.Now,
	}
}

// Scan lists pending source files, oldest first, without fetching them.
func (f *Folder) Scan(ctx context.Context) ([]pipeline.WorkItem, error) {
	entries, err := os.ReadDir(f.monitorDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, services.Wrap(services.ErrConfiguration, "fetch", "scan", "read monitor directory", err)
	}

	type candidate struct {
		item    pipeline.WorkItem
		modTime time.Time
	}
	var found []candidate
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || !f.allowed(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		item := f.itemFor(filepath.Join(f.monitorDir, entry.Name()))
		if f.alreadyTransmitted(ctx, item) {
			continue
		}
		found = append(found, candidate{item: item, modTime: info.ModTime()})
	}
	slices.SortStableFunc(found, func(a, b candidate) int {
		if c := a.modTime.Compare(b.modTime); c != 0 {
			return c
		}
		return strings.Compare(a.item.Name, b.item.Name)
	})

	items := make([]pipeline.WorkItem, 0, len(found))
	for _, c := range found {
		items = append(items, c.item)
	}
	return items, nil
}

// ListPending scans the monitor directory and fetches every pending file.
// Files that cannot be copied are logged and left for the next cycle.
func (f *Folder) ListPending(ctx context.Context) ([]pipeline.WorkItem, error) {
	found, err := f.Scan(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]pipeline.WorkItem, 0, len(found))
	for _, item := range found {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		res := f.Fetch(ctx, item)
		if !res.Success {
			logging.WarnWithContext(f.logger, "pending file could not be fetched; skipped", "inbox_fetch_skipped",
				logging.String(logging.FieldItemID, item.ID),
				logging.String("reason", res.Error),
				logging.String(logging.FieldErrorHint, "check paths.downloads_dir permissions and free space"),
				logging.String(logging.FieldImpact, "item retried next cycle"),
			)
			continue
		}
		item.Locator = res.Artifacts[0]
		items = append(items, item)
	}
	if len(items) > 0 {
		f.logger.Info("pending items fetched",
			logging.String(logging.FieldEventType, "inbox_pending"),
			logging.Int("count", len(items)),
		)
	}
	return items, nil
}

// Locate finds a notified item in the monitor directory by file name, then
// by identifier.
func (f *Folder) Locate(_ context.Context, item pipeline.WorkItem) (pipeline.WorkItem, error) {
	if name := filepath.Base(strings.TrimSpace(item.Name)); name != "" && name != "." && name != string(filepath.Separator) {
		candidate := filepath.Join(f.monitorDir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return f.merge(item, candidate), nil
		}
	}
	if id := strings.TrimSpace(item.ID); id != "" {
		entries, err := os.ReadDir(f.monitorDir)
		if err != nil && !os.IsNotExist(err) {
			return item, services.Wrap(services.ErrConfiguration, "locate", "scan", "read monitor directory", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !f.allowed(entry.Name()) {
				continue
			}
			if stem(entry.Name()) == id {
				return f.merge(item, filepath.Join(f.monitorDir, entry.Name())), nil
			}
		}
	}
	return item, services.Wrap(services.ErrNotFound, "locate", "find source file",
		fmt.Sprintf("%s not found in %s", item.Label(), f.monitorDir), nil)
}

// Fetch copies the item's source file into the downloads directory.
func (f *Folder) Fetch(_ context.Context, item pipeline.WorkItem) pipeline.StageResult {
	src := item.Meta(pipeline.MetaSourcePath)
	if src == "" {
		src = item.Locator
	}
	if strings.TrimSpace(src) == "" {
		return pipeline.Failed(errors.New("item has no source path"))
	}
	dst := filepath.Join(f.downloadsDir, filepath.Base(src))
	if err := fileutil.CopyFileVerified(src, dst); err != nil {
		return pipeline.Failed(fmt.Errorf("copy %s: %w", filepath.Base(src), err))
	}
	return pipeline.Succeeded(dst)
}

// Acknowledge marks the transmission time in the ledger and removes the
// source file when auto-delete is enabled.
func (f *Folder) Acknowledge(ctx context.Context, item pipeline.WorkItem) error {
	var errs []error
	if f.marker != nil {
		if err := f.marker.MarkTransmitted(ctx, item.Key(), item.Meta(pipeline.MetaRowNumber), f.now()); err != nil {
			errs = append(errs, fmt.Errorf("mark transmitted: %w", err))
		}
	}
	if f.autoDelete {
		src := item.Meta(pipeline.MetaSourcePath)
		if src != "" && fileutil.Within(f.monitorDir, src) {
			if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
				errs = append(errs, fmt.Errorf("delete source: %w", err))
			} else {
				logging.WithContext(ctx, f.logger).Info("source file deleted",
					logging.String(logging.FieldEventType, "inbox_source_deleted"),
					logging.String("path", src),
				)
			}
		}
	}
	return errors.Join(errs...)
}

// Settled reports whether another run already delivered item: its source
// file is gone, or, without auto-delete, the ledger holds a mark for it.
func (f *Folder) Settled(ctx context.Context, item pipeline.WorkItem) (bool, error) {
	if src := item.Meta(pipeline.MetaSourcePath); src != "" {
		if _, err := os.Stat(src); err != nil {
			if os.IsNotExist(err) {
				return true, nil
			}
			return false, fmt.Errorf("stat source: %w", err)
		}
	}
	if f.marker == nil || f.autoDelete {
		return false, nil
	}
	_, ok, err := f.marker.LastTransmitted(ctx, item.Key())
	return ok, err
}

// CleanupOld removes downloaded copies older than workflow.cleanup_old_files_days.
func (f *Folder) CleanupOld(ctx context.Context) error {
	result := staging.CleanStale(ctx, f.downloadsDir, f.maxAge, staging.All, logging.WithContext(ctx, f.logger))
	if len(result.Removed) > 0 {
		f.logger.Info("old downloads removed", logging.Int("count", len(result.Removed)))
	}
	return result.Err()
}

func (f *Folder) allowed(name string) bool {
	if len(f.extensions) == 0 {
		return true
	}
	return slices.Contains(f.extensions, strings.ToLower(filepath.Ext(name)))
}

func (f *Folder) itemFor(path string) pipeline.WorkItem {
	name := filepath.Base(path)
	return pipeline.WorkItem{
		ID:       stem(name),
		Name:     name,
		Locator:  path,
		Metadata: map[string]string{pipeline.MetaSourcePath: path},
	}
}

// merge keeps the notified metadata and adds the resolved source path.
func (f *Folder) merge(item pipeline.WorkItem, path string) pipeline.WorkItem {
	meta := make(map[string]string, len(item.Metadata)+1)
	for k, v := range item.Metadata {
		meta[k] = v
	}
	meta[pipeline.MetaSourcePath] = path
	item.Metadata = meta
	item.Locator = path
	if strings.TrimSpace(item.Name) == "" {
		item.Name = filepath.Base(path)
	}
	if strings.TrimSpace(item.ID) == "" {
		item.ID = stem(filepath.Base(path))
	}
	return item
}

func (f *Folder) alreadyTransmitted(ctx context.Context, item pipeline.WorkItem) bool {
	if f.marker == nil || f.autoDelete {
		return false
	}
	_, ok, err := f.marker.LastTransmitted(ctx, item.Key())
	if err != nil {
		logging.WarnWithContext(f.logger, "ledger lookup failed; treating item as pending", "inbox_ledger_lookup_failed",
			logging.String(logging.FieldItemID, item.ID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check ledger.path"),
			logging.String(logging.FieldImpact, "item may be sent again"),
		)
		return false
	}
	return ok
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
