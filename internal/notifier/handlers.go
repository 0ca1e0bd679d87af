package notifier

import (
	"context"
	"fmt"

	"github.com/italolelis/fetchfile/internal/logctx"
	"github.com/italolelis/fetchfile/internal/transfer"
)

// SuccessHandler announces finished downloads through n, then calls next if
// it is not nil.
func SuccessHandler(ctx context.Context, n Notifier, next transfer.PathHandler) transfer.PathHandler {
	return transfer.PathFunc(func(path string) {
		notify(ctx, n, fmt.Sprintf("Download finished: %s", path))

		if next != nil {
			next.HandlePath(path)
		}
	})
}

// FailureHandler announces failed downloads, cause included, through n and
// then passes the failure on to next if it is not nil.
func FailureHandler(ctx context.Context, n Notifier, next transfer.PathHandler) transfer.PathHandler {
	return &failureHandler{ctx: ctx, notifier: n, next: next}
}

type failureHandler struct {
	ctx      context.Context
	notifier Notifier
	next     transfer.PathHandler
}

func (h *failureHandler) HandlePath(path string) {
	h.HandlePathError(path, nil)
}

func (h *failureHandler) HandlePathError(path string, err error) {
	msg := fmt.Sprintf("Download failed: %s", path)
	if err != nil {
		msg = fmt.Sprintf("Download failed: %s (%v)", path, err)
	}

	notify(h.ctx, h.notifier, msg)

	if h.next != nil {
		transfer.NotifyFailure(h.next, path, err)
	}
}

func notify(ctx context.Context, n Notifier, content string) {
	if err := n.Notify(ctx, content); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to send notification", "err", err)
	}
}
