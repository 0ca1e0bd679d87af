package downloader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/italolelis/fetchfile/internal/fsutil"
	"github.com/italolelis/fetchfile/internal/storage"
	"github.com/italolelis/fetchfile/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu      sync.Mutex
	bodies  map[string][]byte
	gate    chan struct{} // when set, async fetches wait for it
	fetched []string
}

func newFakeClient(bodies map[string][]byte) *fakeClient {
	return &fakeClient{bodies: bodies}
}

func (c *fakeClient) Fetch(_ context.Context, url string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fetched = append(c.fetched, url)

	data, ok := c.bodies[url]
	if !ok {
		return nil, &transfer.NetworkError{URL: url, StatusCode: 404, Message: "Not Found"}
	}

	return data, nil
}

func (c *fakeClient) FetchAsync(ctx context.Context, url string, req *transfer.Request, onLoad func(*transfer.Request, []byte), onError func(*transfer.Request, error)) {
	go func() {
		if c.gate != nil {
			<-c.gate
		}

		data, err := c.Fetch(ctx, url)
		if err != nil {
			onError(req, err)

			return
		}

		onLoad(req, data)
	}()
}

func (c *fakeClient) fetchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.fetched)
}

// fakePreloader holds the callbacks until the test resolves them.
type fakePreloader struct {
	mu      sync.Mutex
	pending map[string][2]func(string)
	called  chan string
}

func newFakePreloader() *fakePreloader {
	return &fakePreloader{pending: map[string][2]func(string){}, called: make(chan string, 8)}
}

func (p *fakePreloader) Preload(_ context.Context, path string, onFinished, onFailed func(string)) {
	p.mu.Lock()
	p.pending[path] = [2]func(string){onFinished, onFailed}
	p.mu.Unlock()

	p.called <- path
}

func (p *fakePreloader) resolve(path string, ok bool) {
	p.mu.Lock()
	cbs := p.pending[path]
	p.mu.Unlock()

	if ok {
		cbs[0](path)
	} else {
		cbs[1](path)
	}
}

// autoPreloader accepts or rejects every file immediately.
type autoPreloader struct {
	reject bool
	seen   []string
}

func (p *autoPreloader) Preload(_ context.Context, path string, onFinished, onFailed func(string)) {
	p.seen = append(p.seen, path)

	if p.reject {
		onFailed(path)

		return
	}

	onFinished(path)
}

type outcome struct {
	path    string
	success bool
	err     error
}

type recorder struct {
	results chan outcome
}

func newRecorder() *recorder {
	return &recorder{results: make(chan outcome, 8)}
}

func (r *recorder) onSuccess() transfer.PathHandler {
	return transfer.PathFunc(func(path string) {
		r.results <- outcome{path: path, success: true}
	})
}

func (r *recorder) onFailure() transfer.PathHandler {
	return failureFunc(func(path string, err error) {
		r.results <- outcome{path: path, err: err}
	})
}

func (r *recorder) wait(t *testing.T) outcome {
	t.Helper()

	select {
	case o := <-r.results:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a terminal callback")

		return outcome{}
	}
}

func (r *recorder) assertNoMore(t *testing.T) {
	t.Helper()

	select {
	case o := <-r.results:
		t.Fatalf("unexpected extra callback: %+v", o)
	case <-time.After(50 * time.Millisecond):
	}
}

type failureFunc func(path string, err error)

func (f failureFunc) HandlePath(path string) { f(path, nil) }

func (f failureFunc) HandlePathError(path string, err error) { f(path, err) }

type fakeJournal struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*storage.DownloadRecord
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{records: map[int64]*storage.DownloadRecord{}}
}

func (j *fakeJournal) TrackDownload(url, filePath string) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.nextID++
	j.records[j.nextID] = &storage.DownloadRecord{ID: j.nextID, URL: url, FilePath: filePath, Status: storage.StatusDownloading}

	return j.nextID, nil
}

func (j *fakeJournal) UpdateDownloadStatus(id int64, status, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec, ok := j.records[id]
	if !ok {
		return storage.ErrNotFound
	}

	rec.Status = status
	rec.Error = errMsg

	return nil
}

func (j *fakeJournal) get(id int64) storage.DownloadRecord {
	j.mu.Lock()
	defer j.mu.Unlock()

	return *j.records[id]
}

func TestStart_RelativePathScenario(t *testing.T) {
	t.Chdir(t.TempDir())

	client := newFakeClient(map[string][]byte{"http://x/test.bin": []byte("abcd")})
	d := New(client)
	rec := newRecorder()

	d.Start(context.Background(), "http://x/test.bin", "./a/b/test.bin", rec.onSuccess(), rec.onFailure())

	got := rec.wait(t)
	require.True(t, got.success, "unexpected failure: %v", got.err)
	assert.Equal(t, "./a/b/test.bin", got.path)

	info, err := os.Stat("a/b")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	data, err := os.ReadFile("a/b/test.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), data)

	rec.assertNoMore(t)
	assert.Equal(t, 0, d.InFlight())
}

func TestStart_WithPreloader(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "x", "y.bin")

	client := newFakeClient(map[string][]byte{"http://x/y.bin": []byte("payload")})
	preloader := newFakePreloader()
	d := New(client, WithPreloader(preloader))
	rec := newRecorder()

	d.Start(context.Background(), "http://x/y.bin", target, rec.onSuccess(), rec.onFailure())

	var preloaded string
	select {
	case preloaded = <-preloader.called:
	case <-time.After(5 * time.Second):
		t.Fatal("preloader was not called")
	}

	assert.Equal(t, target, preloaded)
	assert.Equal(t, 1, d.registry.Len(), "request must be registered while the preload is outstanding")

	preloader.resolve(preloaded, true)

	got := rec.wait(t)
	require.True(t, got.success)
	assert.Equal(t, target, got.path)
	assert.Equal(t, 0, d.registry.Len())

	// a second completion for the same path is ignored
	preloader.resolve(preloaded, true)
	rec.assertNoMore(t)
}

func TestStart_PreloadFailure(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "y.bin")

	client := newFakeClient(map[string][]byte{"http://x/y.bin": []byte("payload")})
	preloader := &autoPreloader{reject: true}
	d := New(client, WithPreloader(preloader))
	rec := newRecorder()

	d.Start(context.Background(), "http://x/y.bin", target, rec.onSuccess(), rec.onFailure())

	got := rec.wait(t)
	require.False(t, got.success)
	assert.Equal(t, target, got.path)

	var preloadErr *transfer.PreloadError
	require.ErrorAs(t, got.err, &preloadErr)
	assert.Equal(t, target, preloadErr.Path)

	// the file stays on disk
	assert.FileExists(t, target)
	assert.Equal(t, []string{target}, preloader.seen)
	assert.Equal(t, 0, d.registry.Len())
}

func TestStart_DirectoryFailure(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	target := filepath.Join(blocker, "sub", "f.bin")

	client := newFakeClient(map[string][]byte{"http://x/f.bin": []byte("data")})
	preloader := &autoPreloader{}
	d := New(client, WithPreloader(preloader))
	rec := newRecorder()

	d.Start(context.Background(), "http://x/f.bin", target, rec.onSuccess(), rec.onFailure())

	// reported before Start returns
	select {
	case got := <-rec.results:
		require.False(t, got.success)
		assert.Equal(t, target, got.path)

		var dirErr *transfer.DirectoryError
		require.ErrorAs(t, got.err, &dirErr)
		assert.Equal(t, filepath.Join(blocker, "sub"), dirErr.DirectoryName)
	default:
		t.Fatal("failure was not reported synchronously")
	}

	assert.Equal(t, 0, client.fetchCount())
	assert.Empty(t, preloader.seen)
	assert.Equal(t, 0, d.InFlight())
}

func TestStart_FetchFailure(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "missing.bin")

	preloader := &autoPreloader{}
	d := New(newFakeClient(nil), WithPreloader(preloader))
	rec := newRecorder()

	d.Start(context.Background(), "http://x/missing.bin", target, rec.onSuccess(), rec.onFailure())

	got := rec.wait(t)
	require.False(t, got.success)
	assert.Equal(t, target, got.path)

	var netErr *transfer.NetworkError
	require.ErrorAs(t, got.err, &netErr)
	assert.Equal(t, 404, netErr.StatusCode)

	assert.NoFileExists(t, target)
	assert.Empty(t, preloader.seen)
	rec.assertNoMore(t)
}

func TestStart_WriteFailure(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "taken")
	require.NoError(t, os.Mkdir(target, 0o755))

	client := newFakeClient(map[string][]byte{"http://x/taken": []byte("data")})
	preloader := &autoPreloader{}
	d := New(client, WithPreloader(preloader))
	rec := newRecorder()

	d.Start(context.Background(), "http://x/taken", target, rec.onSuccess(), rec.onFailure())

	got := rec.wait(t)
	require.False(t, got.success)
	assert.Equal(t, fsutil.Canonicalize(target).String(), got.path)

	var writeErr *transfer.WriteError
	require.ErrorAs(t, got.err, &writeErr)
	assert.Equal(t, "open", writeErr.Op)
	assert.Empty(t, preloader.seen)
}

func TestStart_TruncatesExistingFile(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "f.bin")
	require.NoError(t, os.WriteFile(target, []byte("a much longer previous body"), 0o644))

	d := New(newFakeClient(map[string][]byte{"http://x/f.bin": []byte("new")}))
	rec := newRecorder()

	d.Start(context.Background(), "http://x/f.bin", target, rec.onSuccess(), rec.onFailure())

	got := rec.wait(t)
	require.True(t, got.success)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), data)
}

func TestStart_RejectsDuplicateInFlight(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "f.bin")

	client := newFakeClient(map[string][]byte{"http://x/f.bin": []byte("data")})
	client.gate = make(chan struct{})
	d := New(client)
	first, second := newRecorder(), newRecorder()

	d.Start(context.Background(), "http://x/f.bin", target, first.onSuccess(), first.onFailure())
	require.Equal(t, 1, d.InFlight())

	d.Start(context.Background(), "http://x/f.bin", target, second.onSuccess(), second.onFailure())

	got := second.wait(t)
	require.False(t, got.success)
	assert.ErrorIs(t, got.err, transfer.ErrInFlight)

	close(client.gate)

	got = first.wait(t)
	require.True(t, got.success)
	assert.Equal(t, target, got.path)
	assert.Equal(t, 0, d.InFlight())

	// the path is free again once the first download ended
	d.Start(context.Background(), "http://x/f.bin", target, second.onSuccess(), second.onFailure())
	got = second.wait(t)
	assert.True(t, got.success)
}

func TestStart_RejectsDuplicateOnceFileExists(t *testing.T) {
	t.Chdir(t.TempDir())

	client := newFakeClient(map[string][]byte{"http://x/f.bin": []byte("data")})
	preloader := newFakePreloader()
	d := New(client, WithPreloader(preloader))
	first, second := newRecorder(), newRecorder()

	started := d.Start(context.Background(), "http://x/f.bin", "dl/f.bin", first.onSuccess(), first.onFailure())

	var preloaded string
	select {
	case preloaded = <-preloader.called:
	case <-time.After(5 * time.Second):
		t.Fatal("preloader was not called")
	}

	// the file is on disk now, so the relative path resolves differently
	require.FileExists(t, "dl/f.bin")
	require.Equal(t, 1, d.InFlight())

	d.Start(context.Background(), "http://x/f.bin", "dl/f.bin", second.onSuccess(), second.onFailure())

	got := second.wait(t)
	require.False(t, got.success)
	assert.ErrorIs(t, got.err, transfer.ErrInFlight)
	assert.Equal(t, 1, d.InFlight())
	assert.Equal(t, 1, client.fetchCount())

	preloader.resolve(preloaded, true)

	got = first.wait(t)
	require.True(t, got.success)
	assert.Equal(t, started.String(), got.path)
	assert.Equal(t, 0, d.InFlight())
}

func TestWait(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "f.bin")

	client := newFakeClient(map[string][]byte{"http://x/f.bin": []byte("data")})
	client.gate = make(chan struct{})
	d := New(client)
	rec := newRecorder()

	require.NoError(t, d.Wait(context.Background()), "nothing in flight")

	d.Start(context.Background(), "http://x/f.bin", target, rec.onSuccess(), rec.onFailure())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Wait(ctx), context.DeadlineExceeded)

	close(client.gate)
	require.True(t, rec.wait(t).success)

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, d.Wait(ctx))
}

func TestStart_PlainFailureHandler(t *testing.T) {
	d := New(newFakeClient(nil))
	failed := make(chan string, 1)

	d.Start(context.Background(), "http://x/missing", filepath.Join(t.TempDir(), "m"),
		transfer.PathFunc(func(string) { t.Error("unexpected success") }),
		transfer.PathFunc(func(path string) { failed <- path }),
	)

	select {
	case path := <-failed:
		assert.NotEmpty(t, path)
	case <-time.After(5 * time.Second):
		t.Fatal("failure handler was not called")
	}
}

func TestStart_NilHandlerPanics(t *testing.T) {
	d := New(newFakeClient(nil))

	assert.Panics(t, func() {
		d.Start(context.Background(), "http://x", "f", nil, transfer.PathFunc(func(string) {}))
	})
}

func TestStart_Journal(t *testing.T) {
	root := t.TempDir()
	journal := newFakeJournal()
	client := newFakeClient(map[string][]byte{"http://x/ok": []byte("ok")})
	d := New(client, WithJournal(journal))
	rec := newRecorder()

	d.Start(context.Background(), "http://x/ok", filepath.Join(root, "ok"), rec.onSuccess(), rec.onFailure())
	require.True(t, rec.wait(t).success)

	d.Start(context.Background(), "http://x/gone", filepath.Join(root, "gone"), rec.onSuccess(), rec.onFailure())
	require.False(t, rec.wait(t).success)

	ok := journal.get(1)
	assert.Equal(t, storage.StatusDownloaded, ok.Status)
	assert.Equal(t, "http://x/ok", ok.URL)
	assert.Empty(t, ok.Error)

	gone := journal.get(2)
	assert.Equal(t, storage.StatusFailed, gone.Status)
	assert.Contains(t, gone.Error, "HTTP 404")
}

func TestDownload(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name        string
		url         string
		path        string
		prepare     func(t *testing.T)
		check       func(t *testing.T, err error)
		wantFetches int
	}{
		{
			name: "writes file and parents",
			url:  "http://x/ok",
			path: filepath.Join(root, "ok", "nested", "file.bin"),
			check: func(t *testing.T, err error) {
				require.NoError(t, err)

				data, readErr := os.ReadFile(filepath.Join(root, "ok", "nested", "file.bin"))
				require.NoError(t, readErr)
				assert.Equal(t, []byte("body"), data)
			},
			wantFetches: 1,
		},
		{
			name: "fetch error",
			url:  "http://x/missing",
			path: filepath.Join(root, "missing", "file.bin"),
			check: func(t *testing.T, err error) {
				var netErr *transfer.NetworkError
				require.ErrorAs(t, err, &netErr)
				assert.NoFileExists(t, filepath.Join(root, "missing", "file.bin"))
			},
			wantFetches: 1,
		},
		{
			name: "directory error",
			url:  "http://x/ok",
			path: filepath.Join(root, "blocker", "sub", "file.bin"),
			prepare: func(t *testing.T) {
				require.NoError(t, os.WriteFile(filepath.Join(root, "blocker"), nil, 0o644))
			},
			check: func(t *testing.T, err error) {
				var dirErr *transfer.DirectoryError
				require.ErrorAs(t, err, &dirErr)
			},
			wantFetches: 0,
		},
		{
			name: "write error",
			url:  "http://x/ok",
			path: root,
			check: func(t *testing.T, err error) {
				var writeErr *transfer.WriteError
				require.ErrorAs(t, err, &writeErr)
				assert.Equal(t, "open", writeErr.Op)
			},
			wantFetches: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.prepare != nil {
				tt.prepare(t)
			}

			preloader := &autoPreloader{}
			client := newFakeClient(map[string][]byte{"http://x/ok": []byte("body")})
			d := New(client, WithPreloader(preloader))

			tt.check(t, d.Download(context.Background(), tt.url, tt.path))
			assert.Equal(t, tt.wantFetches, client.fetchCount())
			assert.Empty(t, preloader.seen, "the blocking path never preloads")
		})
	}
}

func TestDownload_Journal(t *testing.T) {
	journal := newFakeJournal()
	d := New(newFakeClient(map[string][]byte{"http://x/ok": []byte("body")}), WithJournal(journal))
	root := t.TempDir()

	require.NoError(t, d.Download(context.Background(), "http://x/ok", filepath.Join(root, "ok")))
	require.Error(t, d.Download(context.Background(), "http://x/nope", filepath.Join(root, "nope")))

	assert.Equal(t, storage.StatusDownloaded, journal.get(1).Status)
	assert.Equal(t, storage.StatusFailed, journal.get(2).Status)
}

func TestDirectoryError_FallsBackToParent(t *testing.T) {
	err := directoryError("/data/a/b.bin", errors.New("boom"))

	assert.Equal(t, "/data/a", err.DirectoryName)
	assert.Equal(t, "boom", err.Reason)
}
