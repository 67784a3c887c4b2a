package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/codeindex/internal/cache"
	"github.com/phobologic/codeindex/internal/discover"
	"github.com/phobologic/codeindex/internal/metrics"
	"github.com/phobologic/codeindex/internal/model"
)

func memCache(t *testing.T) *cache.Badger {
	t.Helper()
	c, err := cache.Open(cache.Config{InMemory: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func fixture(t *testing.T) (string, []discover.Entry) {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "a.py", "def foo():\n    return 1\n")
	writeFile(t, dir, "b.py", "from a import foo\n\nfoo()\nfoo()\n")
	writeFile(t, dir, "run.sh", "echo hi\n")
	writeFile(t, dir, "pkg/c.go", "package pkg\n\nfunc C() {}\n")
	return dir, []discover.Entry{
		{Path: "a.py", Language: "python"},
		{Path: "b.py", Language: "python"},
		{Path: "pkg/c.go", Language: "go"},
		{Path: "run.sh", Language: "bash"},
	}
}

func TestRunParsesThenHitsCache(t *testing.T) {
	t.Parallel()
	dir, files := fixture(t)
	c := memCache(t)
	m := metrics.New(nil)

	opts := Options{Root: dir, Files: files, Cache: c, Workers: 2, Logger: zerolog.Nop(), Metrics: m}
	first, err := Run(context.Background(), opts)
	require.NoError(t, err)

	require.Len(t, first.Records, 4)
	assert.Equal(t, 3, first.Parsed)
	assert.Equal(t, 0, first.CacheHits)
	assert.False(t, first.Partial)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FilesParsed))

	paths := []string{}
	for _, r := range first.Records {
		paths = append(paths, r.Path)
	}
	assert.Equal(t, []string{"a.py", "b.py", "pkg/c.go", "run.sh"}, paths)
	assert.Empty(t, first.Records[3].Tags, "bash has no patterns")
	assert.NotEmpty(t, first.Records[0].Fingerprint)

	second, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Parsed)
	assert.Equal(t, 4, second.CacheHits)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FilesParsed))
	assert.Equal(t, first.Records, second.Records)
}

func TestRunReparsesChangedFile(t *testing.T) {
	t.Parallel()
	dir, files := fixture(t)
	c := memCache(t)
	opts := Options{Root: dir, Files: files, Cache: c, Logger: zerolog.Nop()}

	_, err := Run(context.Background(), opts)
	require.NoError(t, err)

	writeFile(t, dir, "a.py", "def foo():\n    return 2\n\ndef bar():\n    pass\n")
	res, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Parsed)
	assert.Equal(t, 3, res.CacheHits)
	assert.Len(t, res.Records[0].Definitions(), 2)
}

func TestRunPerFileFailuresDoNotAbort(t *testing.T) {
	t.Parallel()
	dir, files := fixture(t)
	writeFile(t, dir, "broken.py", "def ok():\n    pass\n\ndef broken(:\n")
	files = append(files,
		discover.Entry{Path: "broken.py", Language: "python"},
		discover.Entry{Path: "gone.py", Language: "python"},
	)

	res, err := Run(context.Background(), Options{Root: dir, Files: files, Cache: memCache(t), Logger: zerolog.Nop()})
	require.NoError(t, err)

	assert.Len(t, res.Records, 5)
	assert.Equal(t, 1, res.ParseErrors)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, "broken.py", res.Failures[0].Path)
	assert.ErrorIs(t, res.Failures[0], model.ErrParse)
	assert.Equal(t, "gone.py", res.Failures[1].Path)
	assert.ErrorIs(t, res.Failures[1], model.ErrIO)
}

func TestRunCachedPartialParseKeepsFailure(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "broken.py", "def ok():\n    pass\n\ndef broken(:\n")
	opts := Options{
		Root:   dir,
		Files:  []discover.Entry{{Path: "broken.py", Language: "python"}},
		Cache:  memCache(t),
		Logger: zerolog.Nop(),
	}

	first, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, 1, first.ParseErrors)

	second, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, second.CacheHits)
	assert.Equal(t, 1, second.ParseErrors)
	require.Len(t, second.Failures, 1)
	assert.ErrorIs(t, second.Failures[0], model.ErrParse)
	assert.Equal(t, first.Records, second.Records)
}

func TestRunCancelledIsPartial(t *testing.T) {
	t.Parallel()
	dir, files := fixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Run(ctx, Options{Root: dir, Files: files, Cache: memCache(t), Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.Equal(t, len(files)-len(res.Records), res.Pending)
}

type failingPut struct {
	cache.Store
}

func (failingPut) Put(string, string, cache.Entry) error {
	return errors.New("no space left on device")
}

func TestRunCachePutFailureIsFatal(t *testing.T) {
	t.Parallel()
	dir, files := fixture(t)

	_, err := Run(context.Background(), Options{
		Root:   dir,
		Files:  files,
		Cache:  failingPut{Store: memCache(t)},
		Logger: zerolog.Nop(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no space left")
}

func TestRunEmpty(t *testing.T) {
	t.Parallel()
	res, err := Run(context.Background(), Options{Root: t.TempDir(), Cache: memCache(t), Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.False(t, res.Partial)
}
