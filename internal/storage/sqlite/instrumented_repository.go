package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/fetchfile/internal/storage"
	"github.com/italolelis/fetchfile/internal/telemetry"
)

// InstrumentedDownloadRepository wraps DownloadRepository with telemetry.
type InstrumentedDownloadRepository struct {
	repo      *DownloadRepository
	telemetry *telemetry.Telemetry
}

var _ storage.DownloadRepository = (*InstrumentedDownloadRepository)(nil)

// NewInstrumentedDownloadRepository creates a new instrumented download repository.
func NewInstrumentedDownloadRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedDownloadRepository {
	return &InstrumentedDownloadRepository{
		repo:      NewDownloadRepository(dbConn),
		telemetry: tel,
	}
}

// TrackDownload records a starting download with telemetry.
func (r *InstrumentedDownloadRepository) TrackDownload(url, filePath string) (int64, error) {
	var id int64

	err := r.telemetry.InstrumentDBOperation(context.Background(), "track_download", func(ctx context.Context) error {
		var err error
		id, err = r.repo.TrackDownload(url, filePath)

		return err
	})

	return id, err
}

// UpdateDownloadStatus updates a download's status with telemetry.
func (r *InstrumentedDownloadRepository) UpdateDownloadStatus(id int64, status, errMsg string) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "update_download_status", func(ctx context.Context) error {
		return r.repo.UpdateDownloadStatus(id, status, errMsg)
	})
}

// GetDownloads retrieves all downloads with telemetry.
func (r *InstrumentedDownloadRepository) GetDownloads() ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(context.Background(), "get_downloads", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetDownloads()

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetDownloadsByStatus retrieves downloads in one status with telemetry.
func (r *InstrumentedDownloadRepository) GetDownloadsByStatus(status string) ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(context.Background(), "get_downloads_by_status", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetDownloadsByStatus(status)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetDownload retrieves one download with telemetry.
func (r *InstrumentedDownloadRepository) GetDownload(id int64) (*storage.DownloadRecord, error) {
	var result *storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(context.Background(), "get_download", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetDownload(id)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
