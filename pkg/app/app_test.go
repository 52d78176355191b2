package app_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shashiranjanraj/appshell/config"
	"github.com/shashiranjanraj/appshell/pkg/app"
	"github.com/shashiranjanraj/appshell/pkg/testkit"
)

const appView = `<!doctype html>
<html>
<head>{{range .css}}<link rel="stylesheet" href="{{.}}">{{end}}</head>
<body data-ga="{{.ga_id}}">{{range .js}}<script src="{{.}}"></script>{{end}}</body>
</html>`

func site(t *testing.T) string {
	t.Helper()
	return testkit.WriteTree(t, map[string]string{
		"views/app.html":             appView,
		"public/less/app.less":       "@c: #ffffff;\n.a { color: @c; }",
		"public/js/app.js":           "function boot() { return 1 }\n",
		"public/css/site.css":        "body{margin:0}",
		"public/images/favicon.ico":  "ico",
		"public/assets/existing.txt": "bundle",
		"secret.txt":                 "do not serve",
	})
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestNew_DefaultAddress(t *testing.T) {
	srv, err := app.New(config.Config{Root: site(t)})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:3002", srv.Addr())
}

func TestNew_PortOnly(t *testing.T) {
	srv, err := app.New(config.Config{Root: site(t), Server: config.ServerConfig{Port: 8080}})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", srv.Addr())
}

func TestNew_DocrootRewritesManifest(t *testing.T) {
	srv, err := app.New(config.Config{Root: site(t), Docroot: "x", Env: config.EnvDevelopment})
	require.NoError(t, err)

	m := srv.Assets().Manifest()
	assert.Equal(t, "/x/assets", m["pub"].Opts.OutURL)
	assert.Equal(t, "/x", m["pub"].Opts.URL)

	body := get(t, srv.Handler(), "/").Body.String()
	assert.Contains(t, body, `<script src="/x/public/js/app.js">`)
	assert.Contains(t, body, `href="/x/public/css/app.css"`)
}

func TestRoutes_Order(t *testing.T) {
	srv, err := app.New(config.Config{Root: site(t)})
	require.NoError(t, err)

	var names []string
	for _, r := range srv.Routes() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{
		"app.index", "favicon", "assets", "public.js", "css",
		"less.css", "less.less", "metrics", "healthz", "app.catchall",
	}, names)
}

func TestCatchAllRendersAppView(t *testing.T) {
	srv, err := app.New(config.Config{Root: site(t), GAID: "UA-42"})
	require.NoError(t, err)
	h := srv.Handler()

	index := get(t, h, "/")
	require.Equal(t, http.StatusOK, index.Code)
	assert.Equal(t, "text/html; charset=utf-8", index.Header().Get("Content-Type"))
	assert.Contains(t, index.Body.String(), `data-ga="UA-42"`)

	for _, path := range []string{"/any/unmatched/path", "/settings", "/public/other/x"} {
		rec := get(t, h, path)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, index.Body.String(), rec.Body.String(), path)
	}
}

func TestAssetRoutes(t *testing.T) {
	srv, err := app.New(config.Config{Root: site(t)})
	require.NoError(t, err)
	h := srv.Handler()

	tests := []struct {
		path string
		code int
		body string
	}{
		{"/favicon.ico", http.StatusOK, "ico"},
		{"/assets/existing.txt", http.StatusOK, "bundle"},
		{"/public/js/app.js", http.StatusOK, "function boot() { return 1 }\n"},
		{"/css/site.css", http.StatusOK, "body{margin:0}"},
		{"/public/css/app.css", http.StatusOK, ".a{color:#fff}"},
		{"/public/less/app.less", http.StatusOK, ".a{color:#fff}"},
		{"/assets/missing.js", http.StatusNotFound, ""},
		{"/assets/", http.StatusNotFound, ""},
		{"/public/css/missing.css", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		rec := get(t, h, tt.path)
		assert.Equal(t, tt.code, rec.Code, tt.path)
		if tt.body != "" {
			assert.Equal(t, tt.body, rec.Body.String(), tt.path)
		}
	}
}

func TestAssetRoutes_RejectTraversal(t *testing.T) {
	srv, err := app.New(config.Config{Root: site(t)})
	require.NoError(t, err)
	h := srv.Handler()

	for _, path := range []string{
		"/assets/../secret.txt",
		"/assets/../../secret.txt",
		"/assets/%2e%2e/secret.txt",
		"/assets/..%2fsecret.txt",
		"/css/../../secret.txt",
	} {
		rec := get(t, h, path)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.NotContains(t, rec.Body.String(), "do not serve", path)
	}
}

func TestDegradedPluginAnswers503(t *testing.T) {
	root := site(t)
	require.NoError(t, os.RemoveAll(filepath.Join(root, "public", "less")))

	srv, err := app.New(config.Config{Root: root})
	require.NoError(t, err)
	assert.Contains(t, srv.Failed(), app.PluginLess)

	rec := get(t, srv.Handler(), "/public/css/app.css")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, http.StatusOK, get(t, srv.Handler(), "/").Code)

	var health struct {
		Data struct {
			Failed []string `json:"failed"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(get(t, srv.Handler(), "/healthz").Body.Bytes(), &health))
	assert.Equal(t, []string{app.PluginLess}, health.Data.Failed)
}

func TestFailFastPolicy(t *testing.T) {
	root := site(t)
	require.NoError(t, os.RemoveAll(filepath.Join(root, "views")))

	_, err := app.New(config.Config{
		Root:    root,
		Plugins: config.PluginsConfig{FailurePolicy: config.PolicyFailFast},
	})
	assert.Error(t, err)

	srv, err := app.New(config.Config{Root: root})
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, srv.Handler(), "/").Code)
}

func TestStart_ProductionRendersBeforeListening(t *testing.T) {
	root := site(t)
	srv, err := app.New(config.Config{
		Root:   root,
		Env:    config.EnvProduction,
		Server: config.ServerConfig{Port: freePort(t)},
	})
	require.NoError(t, err)

	require.NoError(t, srv.Start(context.Background()))
	defer srv.Stop(context.Background())

	_, err = os.Stat(filepath.Join(root, "public", "assets", "pub.json"))
	require.NoError(t, err)

	res, err := http.Get("http://" + srv.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Regexp(t, `<script src="/assets/pub-[0-9a-f]{8}\.js">`, string(body))
	assert.Regexp(t, `href="/assets/pub-[0-9a-f]{8}\.css"`, string(body))
}

func TestStart_ProductionRenderFailureAborts(t *testing.T) {
	root := site(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "public", "less", "app.less"), []byte(".a { color: @nope; }"), 0o644))

	port := freePort(t)
	srv, err := app.New(config.Config{Root: root, Env: config.EnvProduction, Server: config.ServerConfig{Port: port}})
	require.NoError(t, err)

	require.Error(t, srv.Start(context.Background()))
	_, err = net.DialTimeout("tcp", srv.Addr(), 200*time.Millisecond)
	assert.Error(t, err)
	assert.ErrorIs(t, srv.Stop(context.Background()), app.ErrNotStarted)
}

func TestStart_OtherEnvSkipsRender(t *testing.T) {
	root := site(t)
	srv, err := app.New(config.Config{Root: root, Server: config.ServerConfig{Port: freePort(t)}})
	require.NoError(t, err)

	require.NoError(t, srv.Start(context.Background()))
	defer srv.Stop(context.Background())

	_, err = os.Stat(filepath.Join(root, "public", "assets", "pub.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestStop(t *testing.T) {
	srv, err := app.New(config.Config{Root: site(t), Server: config.ServerConfig{Port: freePort(t)}})
	require.NoError(t, err)

	assert.ErrorIs(t, srv.Stop(context.Background()), app.ErrNotStarted)

	require.NoError(t, srv.Start(context.Background()))
	assert.ErrorIs(t, srv.Start(context.Background()), app.ErrAlreadyStarted)

	start := time.Now()
	require.NoError(t, srv.Stop(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second)

	_, err = net.DialTimeout("tcp", srv.Addr(), 200*time.Millisecond)
	assert.Error(t, err)

	select {
	case <-srv.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	assert.NoError(t, srv.Err())

	assert.NoError(t, srv.Stop(context.Background()))
}

func TestStop_WithOpenEventStream(t *testing.T) {
	srv, err := app.New(config.Config{
		Root:   site(t),
		Env:    config.EnvDevelopment,
		Server: config.ServerConfig{Port: freePort(t)},
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))

	res, err := http.Get("http://" + srv.Addr() + "/__livereload/events")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	start := time.Now()
	require.NoError(t, srv.Stop(context.Background()))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestStart_DevelopmentServesLiveReload(t *testing.T) {
	srv, err := app.New(config.Config{
		Root:   site(t),
		Env:    config.EnvDevelopment,
		Server: config.ServerConfig{Port: freePort(t)},
	})
	require.NoError(t, err)

	var found bool
	for _, r := range srv.Routes() {
		found = found || r.Name == "livereload"
	}
	assert.True(t, found)

	require.NoError(t, srv.Start(context.Background()))
	res, err := http.Get("http://" + srv.Addr() + "/__livereload")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	assert.NoError(t, srv.Stop(context.Background()))
}

func TestStart_DevelopmentStreamsReloadEvents(t *testing.T) {
	root := site(t)
	srv, err := app.New(config.Config{
		Root:   root,
		Env:    config.EnvDevelopment,
		Server: config.ServerConfig{Port: freePort(t)},
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Stop(context.Background()) //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+srv.Addr()+"/__livereload/events", nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	less := filepath.Join(root, "public", "less", "app.less")
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(res.Body)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		close(lines)
	}()

	// The subscription races the first write; keep touching the file until
	// an event arrives.
	tick := time.NewTicker(150 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed before a reload event")
			if line == "event: reload" {
				return
			}
		case <-tick.C:
			require.NoError(t, os.WriteFile(less, []byte(".b { color: red; }"), 0o644))
		case <-ctx.Done():
			t.Fatal("no reload event")
		}
	}
}

func TestRouteScenarios(t *testing.T) {
	srv, err := app.New(config.Config{Root: site(t), GAID: "UA-7"})
	require.NoError(t, err)

	testkit.RunDir(t, srv.Handler(), filepath.Join("testdata", "routes"))
}

func TestWriteRoutes(t *testing.T) {
	srv, err := app.New(config.Config{Root: site(t)})
	require.NoError(t, err)

	var sb strings.Builder
	require.NoError(t, app.WriteRoutes(&sb, srv.Routes()))
	assert.Contains(t, sb.String(), "/public/less/*")
	assert.Contains(t, sb.String(), "app.catchall")
}
