package transfer

import (
	"context"
	"time"

	"github.com/italolelis/fetchfile/internal/fsutil"
)

// PathHandler receives the resolved destination path of a finished download.
type PathHandler interface {
	HandlePath(path string)
}

// PathFunc adapts an ordinary function to a PathHandler.
type PathFunc func(path string)

func (f PathFunc) HandlePath(path string) {
	f(path)
}

// FailureHandler is implemented by failure handlers that want the cause as well
// as the path. When present it is called instead of HandlePath.
type FailureHandler interface {
	HandlePathError(path string, err error)
}

// Fetcher retrieves a resource in one blocking call.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// AsyncFetcher retrieves a resource in the background. Exactly one of onLoad or
// onError is called, receiving back the request it was given.
type AsyncFetcher interface {
	FetchAsync(ctx context.Context, url string, req *Request, onLoad func(req *Request, data []byte), onError func(req *Request, err error))
}

// Client fetches both ways.
type Client interface {
	Fetcher
	AsyncFetcher
}

// Preloader post-processes a written file. It identifies the operation by
// path only: exactly one of onFinished or onFailed is called with the path it
// was given.
type Preloader interface {
	Preload(ctx context.Context, path string, onFinished, onFailed func(path string))
}

// Request is the state of one asynchronous download.
type Request struct {
	URL       string
	Path      fsutil.CanonicalPath
	OnSuccess PathHandler
	OnFailure PathHandler
	StartedAt time.Time
	JournalID int64
	Size      int // bytes written, set once the fetch stage completes

	// Destination identifies the target file for the request's whole life,
	// whether or not the file exists yet. Path may change form once it does.
	Destination fsutil.CanonicalPath

	ctx context.Context
}

// NewRequest builds a request bound to ctx. The context is handed back to the
// fetch and preload stages for logging and tracing.
func NewRequest(ctx context.Context, url string, path fsutil.CanonicalPath, onSuccess, onFailure PathHandler) *Request {
	return &Request{
		URL:       url,
		Path:      path,
		OnSuccess: onSuccess,
		OnFailure: onFailure,
		StartedAt: time.Now(),
		ctx:       ctx,
	}
}

// Context returns the context the request was started with.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}

	return r.ctx
}

// Succeed notifies the success handler.
func (r *Request) Succeed() {
	r.OnSuccess.HandlePath(r.Path.String())
}

// Fail notifies the failure handler.
func (r *Request) Fail(err error) {
	NotifyFailure(r.OnFailure, r.Path.String(), err)
}

// NotifyFailure calls h with path, passing err along when h implements
// FailureHandler.
func NotifyFailure(h PathHandler, path string, err error) {
	if fh, ok := h.(FailureHandler); ok {
		fh.HandlePathError(path, err)

		return
	}

	h.HandlePath(path)
}
