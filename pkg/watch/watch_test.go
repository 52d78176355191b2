package watch_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shashiranjanraj/appshell/pkg/event"
	"github.com/shashiranjanraj/appshell/pkg/watch"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) handle(p any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, p.(event.Change).Path)
}

func (r *recorder) seen(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.paths {
		if p == path {
			return true
		}
	}
	return false
}

func start(t *testing.T, dirs []string, opts watch.Options) *recorder {
	t.Helper()
	w, err := watch.New(dirs, opts)
	require.NoError(t, err)

	bus := event.New()
	rec := &recorder{}
	bus.Listen(event.SourceChanged, rec.handle)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, bus)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return rec
}

func TestWatcher_ReportsNestedWrites(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "less", "partials")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	rec := start(t, []string{root}, watch.Options{Debounce: 10 * time.Millisecond})

	file := filepath.Join(nested, "vars.less")
	require.NoError(t, os.WriteFile(file, []byte("@a: 1;"), 0o644))

	assert.Eventually(t, func() bool { return rec.seen(file) }, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_SkipsIgnoredDirectories(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "assets")
	require.NoError(t, os.MkdirAll(out, 0o755))

	rec := start(t, []string{root}, watch.Options{Ignore: []string{out}, Debounce: 10 * time.Millisecond})

	ignored := filepath.Join(out, "pub-123.js")
	watched := filepath.Join(root, "app.js")
	require.NoError(t, os.WriteFile(ignored, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(watched, []byte("x"), 0o644))

	require.Eventually(t, func() bool { return rec.seen(watched) }, 3*time.Second, 20*time.Millisecond)
	assert.False(t, rec.seen(ignored))
}

func TestNew_MissingDirIsSkipped(t *testing.T) {
	w, err := watch.New([]string{filepath.Join(t.TempDir(), "nope")}, watch.Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, w.Run(ctx, event.New()))
}
