package storage

import "errors"

// Download statuses stored in the journal.
const (
	StatusDownloading = "downloading"
	StatusDownloaded  = "downloaded"
	StatusFailed      = "failed"
	StatusExpired     = "expired"
)

// ErrNotFound is returned when a journal record does not exist.
var ErrNotFound = errors.New("download record not found")

// DownloadRecord is one journal row: a single download attempt.
type DownloadRecord struct {
	ID         int64  `json:"id"`
	URL        string `json:"url"`
	FilePath   string `json:"file_path"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

type DownloadReadRepository interface {
	GetDownloads() ([]DownloadRecord, error)
	GetDownload(id int64) (*DownloadRecord, error)
	GetDownloadsByStatus(status string) ([]DownloadRecord, error)
}

type DownloadWriteRepository interface {
	TrackDownload(url, filePath string) (int64, error)
	UpdateDownloadStatus(id int64, status, errMsg string) error
}

type DownloadRepository interface {
	DownloadReadRepository
	DownloadWriteRepository
}
