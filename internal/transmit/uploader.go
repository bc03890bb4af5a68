package transmit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ferry/internal/config"
	"ferry/internal/logging"
	"ferry/internal/pipeline"
	"ferry/internal/services"
)

const (
	userAgent       = "Ferry-Go/0.1.0"
	probeTimeout    = 10 * time.Second
	maxErrorSnippet = 512
)

// Uploader is a pipeline.Transmitter backed by a REST upload endpoint.
type Uploader struct {
	uploadURL string
	probeURL  string
	username  string
	password  string
	workers   int
	client    *http.Client
	logger    *slog.Logger
}

var _ pipeline.Transmitter = (*Uploader)(nil)

// New builds an uploader from the destination section of cfg.
func New(cfg *config.Config, logger *slog.Logger) *Uploader {
	dest := cfg.Destination
	workers := dest.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	timeout := cfg.DestinationTimeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Uploader{
		uploadURL: dest.URL + dest.UploadPath,
		probeURL:  dest.URL + dest.ProbePath,
		username:  dest.Username,
		password:  dest.Password,
		workers:   workers,
		client:    &http.Client{Timeout: timeout},
		logger:    logging.NewComponentLogger(logger, "transmit"),
	}
}

// Probe reports whether the destination answers the probe path with a 2xx.
func (u *Uploader) Probe(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := u.ProbeErr(checkCtx)
	if err != nil {
		logging.WarnWithContext(u.logger, "destination probe failed", "destination_unreachable",
			logging.String("url", u.probeURL),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check destination.url and that the server is running"),
			logging.String(logging.FieldImpact, "no items are transmitted until the destination answers"),
		)
		return false
	}
	u.logger.Debug("destination reachable", logging.String("url", u.probeURL))
	return true
}

// ProbeErr performs the connectivity probe and returns the failure detail.
func (u *Uploader) ProbeErr(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.probeURL, nil)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "transmit", "probe", "build probe request", err)
	}
	u.decorate(req)

	resp, err := u.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "transmit", "probe", "contact destination", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, "transmit", "probe", "destination rejected credentials", fmt.Errorf("status %d", resp.StatusCode))
	default:
		return services.Wrap(services.ErrExternalTool, "transmit", "probe", "unexpected probe status", fmt.Errorf("status %d", resp.StatusCode))
	}
}

// Transmit uploads every artifact and reports per-artifact success counts.
// Artifacts that fail are listed in FailedRefs in input order.
func (u *Uploader) Transmit(ctx context.Context, artifacts []string) pipeline.TransmitOutcome {
	outcome := pipeline.TransmitOutcome{Total: len(artifacts)}
	if len(artifacts) == 0 {
		return outcome
	}

	errs := make([]error, len(artifacts))
	sem := make(chan struct{}, u.workers)
	var wg sync.WaitGroup
	for i, path := range artifacts {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errs[i] = ctx.Err()
				return
			}
			defer func() { <-sem }()
			errs[i] = u.upload(ctx, path)
		}(i, path)
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			outcome.Successful++
			continue
		}
		outcome.Failed++
		outcome.FailedRefs = append(outcome.FailedRefs, artifacts[i])
		u.logger.Debug("artifact upload failed",
			logging.String("artifact", filepath.Base(artifacts[i])),
			logging.Error(err),
		)
	}

	u.logger.Info("batch transmitted",
		logging.Int("total", outcome.Total),
		logging.Int("successful", outcome.Successful),
		logging.Int("failed", outcome.Failed),
		logging.Int("workers", u.workers),
	)
	return outcome
}

func (u *Uploader) upload(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return services.Wrap(services.ErrNotFound, "transmit", "open artifact", filepath.Base(path), err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return services.Wrap(services.ErrNotFound, "transmit", "stat artifact", filepath.Base(path), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.uploadURL, file)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "transmit", "upload", "build upload request", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	u.decorate(req)

	resp, err := u.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "transmit", "upload", filepath.Base(path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorSnippet))
		return services.Wrap(services.ErrExternalTool, "transmit", "upload", filepath.Base(path),
			fmt.Errorf("status %d: %s", resp.StatusCode, string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (u *Uploader) decorate(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	if u.username != "" {
		req.SetBasicAuth(u.username, u.password)
	}
}
