package sqlite

import (
	"database/sql"
	"errors"
	"time"

	"github.com/italolelis/fetchfile/internal/storage"
)

const selectColumns = `SELECT id, url, file_path, started_at, finished_at, status, error FROM downloads`

// DownloadRepository implements storage.DownloadRepository on SQLite.
type DownloadRepository struct {
	db *sql.DB
}

var _ storage.DownloadRepository = (*DownloadRepository)(nil)

func NewDownloadRepository(dbConn *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: dbConn}
}

// TrackDownload records a download that is starting and returns its id.
func (r *DownloadRepository) TrackDownload(url, filePath string) (int64, error) {
	res, err := r.db.Exec(
		`INSERT INTO downloads (url, file_path, started_at, status) VALUES (?, ?, ?, ?)`,
		url, filePath, time.Now().UTC().Format(time.RFC3339), storage.StatusDownloading,
	)
	if err != nil {
		return 0, err
	}

	return res.LastInsertId()
}

// UpdateDownloadStatus sets the final status of a download.
func (r *DownloadRepository) UpdateDownloadStatus(id int64, status, errMsg string) error {
	res, err := r.db.Exec(
		`UPDATE downloads SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, nullString(errMsg), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

func (r *DownloadRepository) GetDownloads() ([]storage.DownloadRecord, error) {
	rows, err := r.db.Query(selectColumns + ` ORDER BY id`)
	if err != nil {
		return nil, err
	}

	return scanRecords(rows)
}

// GetDownloadsByStatus returns the downloads currently in status.
func (r *DownloadRepository) GetDownloadsByStatus(status string) ([]storage.DownloadRecord, error) {
	rows, err := r.db.Query(selectColumns+` WHERE status = ? ORDER BY id`, status)
	if err != nil {
		return nil, err
	}

	return scanRecords(rows)
}

func (r *DownloadRepository) GetDownload(id int64) (*storage.DownloadRecord, error) {
	rec, err := scanRecord(r.db.QueryRow(selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*storage.DownloadRecord, error) {
	var (
		record     storage.DownloadRecord
		finishedAt sql.NullString
		errMsg     sql.NullString
	)

	if err := s.Scan(&record.ID, &record.URL, &record.FilePath, &record.StartedAt, &finishedAt, &record.Status, &errMsg); err != nil {
		return nil, err
	}

	record.FinishedAt = finishedAt.String
	record.Error = errMsg.String

	return &record, nil
}

func scanRecords(rows *sql.Rows) ([]storage.DownloadRecord, error) {
	defer rows.Close()

	var downloads []storage.DownloadRecord

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		downloads = append(downloads, *record)
	}

	return downloads, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
