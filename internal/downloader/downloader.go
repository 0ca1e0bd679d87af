// Package downloader retrieves a URL into a file, either blocking or in the
// background with success and failure callbacks.
package downloader

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/fetchfile/internal/fsutil"
	"github.com/italolelis/fetchfile/internal/logctx"
	"github.com/italolelis/fetchfile/internal/registry"
	"github.com/italolelis/fetchfile/internal/storage"
	"github.com/italolelis/fetchfile/internal/telemetry"
	"github.com/italolelis/fetchfile/internal/transfer"
)

const (
	filePerm = 0644

	modeSync  = "sync"
	modeAsync = "async"

	waitPollInterval = 50 * time.Millisecond
)

// Option configures a Downloader.
type Option func(*Downloader)

// WithPreloader runs p over every file written by Start before success is
// reported.
func WithPreloader(p transfer.Preloader) Option {
	return func(d *Downloader) {
		d.preloader = p
	}
}

// WithJournal records every download in j.
func WithJournal(j storage.DownloadWriteRepository) Option {
	return func(d *Downloader) {
		d.journal = j
	}
}

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(d *Downloader) {
		d.telemetry = t
	}
}

type Downloader struct {
	fetcher   transfer.Fetcher
	async     transfer.AsyncFetcher
	preloader transfer.Preloader
	journal   storage.DownloadWriteRepository
	telemetry *telemetry.Telemetry

	// requests waiting on the preloader, which only hands back a path
	registry *registry.Registry

	mu       sync.Mutex
	inFlight map[fsutil.CanonicalPath]struct{}
}

// New returns a Downloader fetching through client.
func New(client transfer.Client, opts ...Option) *Downloader {
	d := &Downloader{
		fetcher:  client,
		async:    client,
		registry: registry.New(),
		inFlight: make(map[fsutil.CanonicalPath]struct{}),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Download fetches url and writes it to path, creating the parent directories
// first. It blocks until the file is written. No preload runs.
func (d *Downloader) Download(ctx context.Context, url, path string) error {
	var size int

	return d.telemetry.InstrumentDownload(ctx, modeSync, func() int { return size }, func(ctx context.Context) error {
		logger := logctx.LoggerFromContext(ctx).With("url", url, "path", path)

		if err := fsutil.EnsureDirectories(path); err != nil {
			err = directoryError(path, err)
			logger.ErrorContext(ctx, "failed to create target directory", "err", err)

			return err
		}

		id := d.track(ctx, url, path)

		data, err := d.fetcher.Fetch(ctx, url)
		if err == nil {
			size = len(data)
			err = writeFile(path, data)
		}

		d.updateJournal(ctx, id, err)

		if err != nil {
			logger.ErrorContext(ctx, "download failed", "err", err)

			return err
		}

		logger.InfoContext(ctx, "downloaded file", "size", humanize.IBytes(uint64(size)))

		return nil
	})
}

// Start begins downloading url to path in the background and returns the
// resolved path every callback will receive. Exactly one of onSuccess or
// onFailure is eventually called. A directory creation failure or a download
// already running for the same destination is reported before Start returns.
func (d *Downloader) Start(ctx context.Context, url, path string, onSuccess, onFailure transfer.PathHandler) fsutil.CanonicalPath {
	if onSuccess == nil || onFailure == nil {
		panic("downloader: nil path handler")
	}

	logger := logctx.LoggerFromContext(ctx).With("url", url, "path", path)

	if err := fsutil.EnsureDirectories(path); err != nil {
		err = directoryError(path, err)
		logger.ErrorContext(ctx, "failed to create target directory", "err", err)
		d.telemetry.RecordDownload(modeAsync, statusOf(err), 0, 0)
		transfer.NotifyFailure(onFailure, path, err)

		return fsutil.CanonicalPath(path)
	}

	canonical := fsutil.Canonicalize(path)
	destination := destinationOf(path)

	if !d.claim(destination) {
		logger.WarnContext(ctx, "download already in flight", "destination", destination)
		transfer.NotifyFailure(onFailure, canonical.String(), transfer.ErrInFlight)

		return canonical
	}

	req := transfer.NewRequest(ctx, url, canonical, onSuccess, onFailure)
	req.Destination = destination
	req.JournalID = d.track(ctx, url, destination.String())

	d.telemetry.IncrementActiveDownloads()

	logger.InfoContext(ctx, "starting download", "canonical_path", canonical, "destination", destination)

	d.async.FetchAsync(ctx, url, req, d.onFetchLoad, d.onFetchError)

	return canonical
}

// InFlight reports how many downloads started with Start have not finished.
func (d *Downloader) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.inFlight)
}

// Wait blocks until every download started with Start has finished or ctx is
// done. Callers stop starting downloads first.
func (d *Downloader) Wait(ctx context.Context) error {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for d.InFlight() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	return nil
}

func (d *Downloader) onFetchLoad(req *transfer.Request, data []byte) {
	ctx := req.Context()
	path := req.Path.String()

	if err := writeFile(path, data); err != nil {
		d.finish(req, err)

		return
	}

	req.Size = len(data)

	if d.preloader == nil {
		d.finish(req, nil)

		return
	}

	if detached, replaced := d.registry.Register(req.Path, req); replaced {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "replaced pending preload", "path", path, "url", detached.URL)
	}

	d.telemetry.IncrementPendingPreloads()

	d.preloader.Preload(ctx, path, d.onPreloadFinished, d.onPreloadFailed)
}

func (d *Downloader) onFetchError(req *transfer.Request, err error) {
	d.finish(req, err)
}

func (d *Downloader) onPreloadFinished(path string) {
	req, ok := d.takePending(path)
	if !ok {
		return
	}

	d.finish(req, nil)
}

func (d *Downloader) onPreloadFailed(path string) {
	req, ok := d.takePending(path)
	if !ok {
		return
	}

	d.finish(req, &transfer.PreloadError{Path: path})
}

func (d *Downloader) takePending(path string) (*transfer.Request, bool) {
	req, ok := d.registry.TakeAndRemove(fsutil.CanonicalPath(path))
	if !ok {
		logctx.LoggerFromContext(context.Background()).Error("preload callback for unknown path", "path", path)

		return nil, false
	}

	d.telemetry.DecrementPendingPreloads()

	return req, true
}

// finish ends req. The in-flight marker is cleared before the handler runs
// so that a handler may start a new download for the same path.
func (d *Downloader) finish(req *transfer.Request, err error) {
	ctx := req.Context()
	logger := logctx.LoggerFromContext(ctx).With("url", req.URL, "path", req.Path)
	duration := time.Since(req.StartedAt)

	d.updateJournal(ctx, req.JournalID, err)
	d.telemetry.DecrementActiveDownloads()
	d.telemetry.RecordDownload(modeAsync, statusOf(err), duration, req.Size)
	d.release(req.Destination)

	if err != nil {
		logger.ErrorContext(ctx, "download failed", "err", err, "duration", duration)
		req.Fail(err)

		return
	}

	logger.InfoContext(ctx, "download finished", "size", humanize.IBytes(uint64(req.Size)), "duration", duration)
	req.Succeed()
}

func (d *Downloader) claim(path fsutil.CanonicalPath) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.inFlight[path]; ok {
		return false
	}

	d.inFlight[path] = struct{}{}

	return true
}

func (d *Downloader) release(path fsutil.CanonicalPath) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.inFlight, path)
}

func (d *Downloader) track(ctx context.Context, url, path string) int64 {
	if d.journal == nil {
		return 0
	}

	id, err := d.journal.TrackDownload(url, path)
	if err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to track download", "url", url, "path", path, "err", err)
		d.telemetry.RecordSystemError("downloader", "journal")

		return 0
	}

	return id
}

func (d *Downloader) updateJournal(ctx context.Context, id int64, downloadErr error) {
	if d.journal == nil || id == 0 {
		return
	}

	status, errMsg := storage.StatusDownloaded, ""
	if downloadErr != nil {
		status, errMsg = storage.StatusFailed, downloadErr.Error()
	}

	if err := d.journal.UpdateDownloadStatus(id, status, errMsg); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to update download status", "download_id", id, "err", err)
		d.telemetry.RecordSystemError("downloader", "journal")
	}
}

// destinationOf keys a destination by its resolved parent directory, which
// exists once EnsureDirectories succeeded, so the key is the same before and
// after the file itself is created.
func destinationOf(path string) fsutil.CanonicalPath {
	dir := fsutil.Canonicalize(filepath.Dir(path))

	return fsutil.CanonicalPath(filepath.Join(dir.String(), filepath.Base(path)))
}

func writeFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return &transfer.WriteError{Path: path, Op: "open", Err: err}
	}

	if _, err := f.Write(data); err != nil {
		f.Close()

		return &transfer.WriteError{Path: path, Op: "write", Err: err}
	}

	if err := f.Close(); err != nil {
		return &transfer.WriteError{Path: path, Op: "close", Err: err}
	}

	return nil
}

func directoryError(path string, err error) *transfer.DirectoryError {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return &transfer.DirectoryError{DirectoryName: pathErr.Path, Reason: pathErr.Err.Error(), Err: err}
	}

	return &transfer.DirectoryError{DirectoryName: filepath.Dir(path), Reason: err.Error(), Err: err}
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
