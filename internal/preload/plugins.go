package preload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// sniffLen is what http.DetectContentType looks at.
const sniffLen = 512

// PluginError is returned by the built-in plugins when they reject a file.
type PluginError struct {
	Plugin string
	Path   string
	Reason string
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("%s rejected %s: %s", e.Plugin, e.Path, e.Reason)
}

// MaxSize rejects files larger than Limit bytes.
type MaxSize struct {
	Limit uint64
}

func (p MaxSize) Name() string { return "max_size" }

func (p MaxSize) CanHandle(string) bool { return p.Limit > 0 }

func (p MaxSize) Handle(_ context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	if size := uint64(info.Size()); size > p.Limit {
		return &PluginError{
			Plugin: p.Name(),
			Path:   path,
			Reason: fmt.Sprintf("size %s exceeds limit %s", humanize.IBytes(size), humanize.IBytes(p.Limit)),
		}
	}

	return nil
}

// RejectHTML rejects HTML documents saved under a name that does not say
// HTML. Servers that answer 200 with an error or login page are the usual
// cause.
type RejectHTML struct{}

func (p RejectHTML) Name() string { return "reject_html" }

func (p RejectHTML) CanHandle(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm", ".xhtml":
		return false
	}

	return true
}

func (p RejectHTML) Handle(_ context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	head := make([]byte, sniffLen)

	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return fmt.Errorf("failed to read file: %w", err)
	}

	if ct := http.DetectContentType(head[:n]); strings.HasPrefix(ct, "text/html") {
		return &PluginError{Plugin: p.Name(), Path: path, Reason: "content is an HTML document"}
	}

	return nil
}
