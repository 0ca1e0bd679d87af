package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrInFlight is reported when a download is started for a path that
	// already has one running.
	ErrInFlight = errors.New("download already in flight for path")

	// ErrUnsupportedScheme is reported when no client handles the URL scheme.
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
)

// DirectoryError represents a failure to create one of the destination's
// ancestor directories, such as a permission problem or a file in the way.
type DirectoryError struct {
	DirectoryName string // The directory that could not be created
	Reason        string // Human-readable explanation of the directory error
	Err           error  // Underlying error, if any
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("directory error for '%s': %s", e.DirectoryName, e.Reason)
}

func (e *DirectoryError) Unwrap() error {
	return e.Err
}

// NetworkError represents fetch failures: connection errors, timeouts and
// non-2xx responses.
type NetworkError struct {
	URL        string // The URL being fetched
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Message    string // Error message from the server or network layer
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error fetching %s (HTTP %d): %s", e.URL, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("network error fetching %s: %s", e.URL, e.Message)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// AuthenticationError represents 401 Unauthorized and 403 Forbidden responses.
type AuthenticationError struct {
	URL string // The URL that required authentication
	Err error  // Underlying error, if any
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed fetching %s", e.URL)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// WriteError represents a failure to persist fetched bytes to the destination.
type WriteError struct {
	Path string // The destination file
	Op   string // "open", "write" or "close"
	Err  error  // Underlying error, if any
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// PreloadError is reported when a preload plugin rejects a written file.
type PreloadError struct {
	Path string
}

func (e *PreloadError) Error() string {
	return fmt.Sprintf("preload failed for %s", e.Path)
}
