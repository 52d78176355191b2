package sse_test

import (
	"bufio"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shashiranjanraj/appshell/pkg/sse"
)

func TestBroker_PublishReachesStream(t *testing.T) {
	b := sse.NewBroker()
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, b.Publish("reload", map[string]string{"path": "app.less"}))

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if line == "" && len(lines) > 0 {
			break
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	assert.Equal(t, []string{"event: reload", `data: {"path":"app.less"}`}, lines)
}

func TestBroker_DisconnectUnsubscribes(t *testing.T) {
	b := sse.NewBroker()
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	resp.Body.Close()
	assert.Eventually(t, func() bool { return b.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestBroker_CloseEndsStreams(t *testing.T) {
	b := sse.NewBroker()
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	b.Close()
	b.Close()

	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream still open after Close")
	}
	assert.Equal(t, 0, b.Subscribers())
}

// wrapped hides the recorder's Flush behind Unwrap, the way logging
// middleware does.
type wrapped struct {
	rw http.ResponseWriter
}

func (w *wrapped) Header() http.Header { return w.rw.Header() }

func (w *wrapped) Write(b []byte) (int, error) { return w.rw.Write(b) }

func (w *wrapped) WriteHeader(code int) { w.rw.WriteHeader(code) }

func (w *wrapped) Unwrap() http.ResponseWriter { return w.rw }

func TestNew_FlushesThroughUnwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	s := sse.New(&wrapped{rw: rec}, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotNil(t, s)

	require.NoError(t, s.Send("reload", []byte(`{}`)))
	assert.True(t, rec.Flushed)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event: reload\ndata: {}\n\n")
}

type plainWriter struct{ header http.Header }

func (p *plainWriter) Header() http.Header { return p.header }

func (p *plainWriter) Write(b []byte) (int, error) { return len(b), nil }

func (p *plainWriter) WriteHeader(int) {}

func TestNew_RequiresFlusher(t *testing.T) {
	w := &plainWriter{header: http.Header{}}
	s := sse.New(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Nil(t, s)
	assert.True(t, strings.HasPrefix(w.header.Get("Content-Type"), "text/plain"))
}

func TestPublish_UnencodableData(t *testing.T) {
	assert.Error(t, sse.NewBroker().Publish("reload", make(chan int)))
}
