package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/fetchfile/internal/fsutil"
	"github.com/italolelis/fetchfile/internal/logctx"
	"github.com/italolelis/fetchfile/internal/storage"
	"github.com/italolelis/fetchfile/internal/transfer"
)

// Downloader starts downloads. *downloader.Downloader satisfies it.
type Downloader interface {
	Start(ctx context.Context, url, path string, onSuccess, onFailure transfer.PathHandler) fsutil.CanonicalPath
	Download(ctx context.Context, url, path string) error
}

type DownloadRequest struct {
	URL  string `json:"url"`
	Path string `json:"path"`
}

type DownloadResponse struct {
	Path string `json:"path"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type DownloadsHandler struct {
	username   string
	password   string
	downloader Downloader
	journal    storage.DownloadReadRepository
	targetDir  string
	onSuccess  transfer.PathHandler
	onFailure  transfer.PathHandler
}

// NewDownloadsHandler creates the downloads API. onSuccess and onFailure
// receive the outcome of downloads started without waiting; either may be nil.
func NewDownloadsHandler(
	username, password string,
	d Downloader,
	journal storage.DownloadReadRepository,
	targetDir string,
	onSuccess, onFailure transfer.PathHandler,
) *DownloadsHandler {
	return &DownloadsHandler{
		username:   username,
		password:   password,
		downloader: d,
		journal:    journal,
		targetDir:  targetDir,
		onSuccess:  onSuccess,
		onFailure:  onFailure,
	}
}

func (h *DownloadsHandler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Post("/downloads", h.HandleCreate)
	r.Get("/downloads", h.HandleList)
	r.Get("/downloads/{id}", h.HandleGet)

	return r
}

// HandleCreate starts a download. With ?wait=true it blocks until the file
// is written.
func (h *DownloadsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Debug("failed to decode request", "err", err)
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	if msg := validate(req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)

		return
	}

	target := filepath.Join(h.targetDir, req.Path)

	if r.URL.Query().Get("wait") == "true" {
		if err := h.downloader.Download(r.Context(), req.URL, target); err != nil {
			writeError(w, statusFor(err), formatError(err))

			return
		}

		writeJSON(w, http.StatusCreated, DownloadResponse{Path: target})

		return
	}

	// the download outlives the request
	ctx := context.WithoutCancel(r.Context())
	tracker := &startTracker{next: h.onFailure}

	path := h.downloader.Start(ctx, req.URL, target, h.successHandler(), tracker)

	if failed, err := tracker.returned(); failed {
		writeError(w, statusFor(err), formatError(err))

		return
	}

	writeJSON(w, http.StatusAccepted, DownloadResponse{Path: path.String()})
}

func (h *DownloadsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	downloads, err := h.journal.GetDownloads()
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to list downloads", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list downloads")

		return
	}

	if downloads == nil {
		downloads = []storage.DownloadRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"downloads": downloads})
}

func (h *DownloadsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid download id")

		return
	}

	rec, err := h.journal.GetDownload(id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "download not found")

		return
	}

	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to get download", "download_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to get download")

		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (h *DownloadsHandler) successHandler() transfer.PathHandler {
	if h.onSuccess != nil {
		return h.onSuccess
	}

	return transfer.PathFunc(func(string) {})
}

func (h *DownloadsHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="fetchfile"`)
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

// startTracker catches failures reported before Start returns so the
// response can carry them. Every failure is passed on to next.
type startTracker struct {
	mu     sync.Mutex
	done   bool
	failed bool
	err    error
	next   transfer.PathHandler
}

func (s *startTracker) HandlePath(path string) {
	s.HandlePathError(path, nil)
}

func (s *startTracker) HandlePathError(path string, err error) {
	s.mu.Lock()
	if !s.done {
		s.failed, s.err = true, err
	}
	s.mu.Unlock()

	if s.next != nil {
		transfer.NotifyFailure(s.next, path, err)
	}
}

func (s *startTracker) returned() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.done = true

	return s.failed, s.err
}

func validate(req DownloadRequest) string {
	if req.URL == "" {
		return "url is required"
	}

	u, err := url.Parse(req.URL)
	if err != nil || u.Scheme == "" {
		return "url must be absolute"
	}

	if req.Path == "" {
		return "path is required"
	}

	if !filepath.IsLocal(req.Path) {
		return "path must be relative and stay inside the target directory"
	}

	return ""
}

func statusFor(err error) int {
	var (
		networkErr *transfer.NetworkError
		authErr    *transfer.AuthenticationError
	)

	switch {
	case errors.Is(err, transfer.ErrInFlight):
		return http.StatusConflict
	case errors.Is(err, transfer.ErrUnsupportedScheme):
		return http.StatusBadRequest
	case errors.As(err, &networkErr), errors.As(err, &authErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// formatError converts download errors to messages safe to return to API
// clients.
func formatError(err error) string {
	if err == nil {
		return "download failed"
	}

	var dirErr *transfer.DirectoryError
	if errors.As(err, &dirErr) {
		return fmt.Sprintf("directory error: %s", dirErr.Reason)
	}

	var networkErr *transfer.NetworkError
	if errors.As(err, &networkErr) {
		if networkErr.StatusCode > 0 {
			return fmt.Sprintf("fetch failed: HTTP %d: %s", networkErr.StatusCode, networkErr.Message)
		}

		return fmt.Sprintf("fetch failed: %s", networkErr.Message)
	}

	var authErr *transfer.AuthenticationError
	if errors.As(err, &authErr) {
		return "authentication failed"
	}

	var writeErr *transfer.WriteError
	if errors.As(err, &writeErr) {
		return fmt.Sprintf("failed to %s destination file", writeErr.Op)
	}

	var preloadErr *transfer.PreloadError
	if errors.As(err, &preloadErr) {
		return "file rejected by preload"
	}

	if errors.Is(err, transfer.ErrInFlight) {
		return "a download for this path is already running"
	}

	return fmt.Sprintf("error: %v", err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(context.Background()).Error("failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
