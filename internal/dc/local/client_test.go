package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/italolelis/fetchfile/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileURL(path string) string {
	return "file://" + filepath.ToSlash(path)
}

func TestFetch(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src.bin")
	require.NoError(t, os.WriteFile(src, []byte{1, 2, 3, 4}, 0644))

	data, err := NewClient().Fetch(context.Background(), fileURL(src))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)
}

func TestFetch_Missing(t *testing.T) {
	_, err := NewClient().Fetch(context.Background(), fileURL(filepath.Join(t.TempDir(), "nope")))

	var netErr *transfer.NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, "file not found", netErr.Message)
}

func TestFetch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient().Fetch(ctx, fileURL("/etc/hosts"))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPathFromURL(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"file:///data/a.bin", filepath.FromSlash("/data/a.bin"), false},
		{"file://localhost/data/a.bin", filepath.FromSlash("/data/a.bin"), false},
		{"file://remote/data/a.bin", "", true},
		{"http://x/a.bin", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := pathFromURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
