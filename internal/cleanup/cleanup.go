// Package cleanup removes downloaded files once they outlive the retention
// period recorded in the download journal.
package cleanup

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/italolelis/fetchfile/internal/logctx"
	"github.com/italolelis/fetchfile/internal/storage"
)

// DeleteExpiredFiles deletes files finished more than keepDuration ago and
// marks their records expired. It returns how many files were removed.
func DeleteExpiredFiles(ctx context.Context, repo storage.DownloadRepository, keepDuration time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	records, err := repo.GetDownloadsByStatus(storage.StatusDownloaded)
	if err != nil {
		return 0, fmt.Errorf("failed to list downloads: %w", err)
	}

	// a file downloaded again only keeps its newest record
	latest := make(map[string]int64, len(records))
	for _, rec := range records {
		if rec.ID > latest[rec.FilePath] {
			latest[rec.FilePath] = rec.ID
		}
	}

	var deleted int

	for _, rec := range records {
		if rec.ID != latest[rec.FilePath] {
			logger.Debug("record superseded by a newer download", "file", rec.FilePath, "download_id", rec.ID)
			markExpired(ctx, repo, rec)

			continue
		}

		info, err := os.Stat(rec.FilePath)
		if err != nil {
			if os.IsNotExist(err) {
				// removed by someone else
				markExpired(ctx, repo, rec)

				continue
			}

			logger.Error("failed to stat file", "file", rec.FilePath, "err", err)

			return deleted, err
		}

		finishedAt, err := time.Parse(time.RFC3339, rec.FinishedAt)
		if err != nil {
			logger.Warn("failed to parse finish time, using file mod time", "file", rec.FilePath, "err", err)

			finishedAt = info.ModTime()
		}

		if now.Sub(finishedAt) <= keepDuration {
			continue
		}

		if err := os.Remove(rec.FilePath); err != nil && !os.IsNotExist(err) {
			logger.Error("failed to delete expired file", "file", rec.FilePath, "err", err)

			return deleted, err
		}

		markExpired(ctx, repo, rec)
		deleted++

		logger.Info("deleted expired file", "file", rec.FilePath, "download_id", rec.ID)
	}

	return deleted, nil
}

// Run sweeps every interval until ctx is done.
func Run(ctx context.Context, repo storage.DownloadRepository, interval, keepDuration time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("cleanup sweeper started", "interval", interval, "keep_downloaded_for", keepDuration)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down cleanup sweeper")

			return
		case <-ticker.C:
			if _, err := DeleteExpiredFiles(ctx, repo, keepDuration); err != nil {
				logger.Error("failed to delete expired files", "err", err)
			}
		}
	}
}

func markExpired(ctx context.Context, repo storage.DownloadRepository, rec storage.DownloadRecord) {
	if err := repo.UpdateDownloadStatus(rec.ID, storage.StatusExpired, ""); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to mark download expired", "download_id", rec.ID, "err", err)
	}
}
