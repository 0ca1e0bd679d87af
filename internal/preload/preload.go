// Package preload runs post-write plugins over downloaded files. Like the
// hooks it stands in for, it reports back by path only.
package preload

import (
	"context"
	"runtime/debug"

	"github.com/italolelis/fetchfile/internal/logctx"
	"github.com/italolelis/fetchfile/internal/transfer"
)

// Plugin validates or transforms a written file.
type Plugin interface {
	Name() string
	CanHandle(path string) bool
	Handle(ctx context.Context, path string) error
}

// Runner applies its plugins in order. The first plugin error fails the file.
type Runner struct {
	plugins []Plugin
}

var _ transfer.Preloader = (*Runner)(nil)

func NewRunner(plugins ...Plugin) *Runner {
	return &Runner{plugins: plugins}
}

// Preload runs the plugins on a new goroutine and calls exactly one of
// onFinished or onFailed with path.
func (r *Runner) Preload(ctx context.Context, path string, onFinished, onFailed func(path string)) {
	go func() {
		if err := r.Run(ctx, path); err != nil {
			logctx.LoggerFromContext(ctx).WarnContext(ctx, "preload rejected file", "path", path, "err", err)
			onFailed(path)

			return
		}

		onFinished(path)
	}()
}

// Run applies the plugins synchronously.
func (r *Runner) Run(ctx context.Context, path string) (err error) {
	logger := logctx.LoggerFromContext(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorContext(ctx, "preload plugin panic", "path", path, "panic", rec, "stack", string(debug.Stack()))
			err = &PluginError{Plugin: "unknown", Path: path, Reason: "plugin panicked"}
		}
	}()

	for _, p := range r.plugins {
		if !p.CanHandle(path) {
			continue
		}

		logger.DebugContext(ctx, "running preload plugin", "plugin", p.Name(), "path", path)

		if err := ctx.Err(); err != nil {
			return err
		}

		if err := p.Handle(ctx, path); err != nil {
			return err
		}
	}

	return nil
}
