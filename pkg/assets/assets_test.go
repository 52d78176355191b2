package assets_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shashiranjanraj/appshell/config"
	"github.com/shashiranjanraj/appshell/pkg/assets"
	"github.com/shashiranjanraj/appshell/pkg/storage"
	"github.com/shashiranjanraj/appshell/pkg/workerpool"
)

func TestManifest_WithDocrootReturnsCopy(t *testing.T) {
	m := assets.DefaultManifest()
	d := m.WithDocroot("x")

	assert.Equal(t, "/x", d[assets.DefaultTarget].Opts.URL)
	assert.Equal(t, "/x/assets", d[assets.DefaultTarget].Opts.OutURL)
	assert.Equal(t, "public/assets", d[assets.DefaultTarget].Opts.OutPath)

	assert.Equal(t, "", m[assets.DefaultTarget].Opts.URL)
	assert.Equal(t, "/assets", m[assets.DefaultTarget].Opts.OutURL)

	d[assets.DefaultTarget].JS[0] = "changed.js"
	assert.Equal(t, "public/js/app.js", m[assets.DefaultTarget].JS[0])

	assert.Equal(t, m, m.WithDocroot(""))
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()

	m, err := assets.LoadManifest(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, assets.DefaultManifest(), m)

	file := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
pub:
  js: [public/js/a.js, public/js/b.js]
  css: [app.less]
  opts:
    url: /static
    outUrl: /static/assets
    outPath: public/assets
admin:
  css: [admin.less]
`), 0o644))
	m, err = assets.LoadManifest(file)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "pub"}, m.Targets())
	assert.Equal(t, "/static/assets", m["pub"].Opts.OutURL)
	assert.Len(t, m["pub"].JS, 2)

	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o644))
	_, err = assets.LoadManifest(file)
	assert.Error(t, err)
}

func fixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"public/js/app.js":        "// boot\nfunction hello(name) {\n  return 'hi ' + name\n}\n",
		"public/less/app.less":    "@import \"vars\";\n.a { color: @c; }",
		"public/less/vars.less":   "@c: #ffffff;",
		"public/less/broken.less": ".a { color: @nope; }",
	}
	for name, body := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	return root
}

func TestKeys_Development(t *testing.T) {
	mgr := assets.Load(assets.DefaultManifest().WithDocroot("x"), assets.Options{Root: fixture(t), Env: config.EnvDevelopment})

	k, err := mgr.Keys(assets.DefaultTarget)
	require.NoError(t, err)
	assert.Equal(t, []string{"/x/public/js/app.js"}, k.JS())
	assert.Equal(t, []string{"/x/public/css/app.css"}, k.CSS())

	_, err = mgr.Keys("nope")
	assert.ErrorIs(t, err, assets.ErrUnknownTarget)
}

var bundleRe = regexp.MustCompile(`^/assets/pub-[0-9a-f]{8}\.(js|css)$`)

func TestRender(t *testing.T) {
	root := fixture(t)
	mirror := storage.NewLocal(t.TempDir(), "https://cdn.test")
	pool := workerpool.New(2)
	defer pool.Shutdown()

	mgr := assets.Load(assets.DefaultManifest(), assets.Options{
		Root:  root,
		Env:   config.EnvProduction,
		Disks: []storage.Disk{mirror},
		Pool:  pool,
	})
	require.NoError(t, mgr.Render(context.Background()))

	k, err := mgr.Keys(assets.DefaultTarget)
	require.NoError(t, err)
	require.Len(t, k.JS(), 1)
	require.Len(t, k.CSS(), 1)
	assert.Regexp(t, bundleRe, k.JS()[0])
	assert.Regexp(t, bundleRe, k.CSS()[0])

	out := filepath.Join(root, "public", "assets")
	css, err := os.ReadFile(filepath.Join(out, strings.TrimPrefix(k.CSS()[0], "/assets/")))
	require.NoError(t, err)
	assert.Equal(t, ".a{color:#fff}", string(css))

	js, err := os.ReadFile(filepath.Join(out, strings.TrimPrefix(k.JS()[0], "/assets/")))
	require.NoError(t, err)
	assert.Contains(t, string(js), "hello")
	assert.NotContains(t, string(js), "boot")

	var rec struct {
		JS      []string `json:"js"`
		CSS     []string `json:"css"`
		Sources []string `json:"sources"`
	}
	raw, err := os.ReadFile(filepath.Join(out, "pub.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, []string{"app.less", "vars.less"}, rec.Sources)

	ctx := context.Background()
	assert.True(t, mirror.Exists(ctx, rec.JS[0]))
	assert.True(t, mirror.Exists(ctx, rec.CSS[0]))
	assert.True(t, mirror.Exists(ctx, "pub.json"))

	// A fresh manager picks up the rendered bundles.
	again := assets.Load(assets.DefaultManifest(), assets.Options{Root: root, Env: config.EnvProduction})
	k2, err := again.Keys(assets.DefaultTarget)
	require.NoError(t, err)
	assert.Equal(t, k.JS(), k2.JS())
	assert.Equal(t, k.CSS(), k2.CSS())

	// Development always links sources.
	dev := assets.Load(assets.DefaultManifest(), assets.Options{Root: root, Env: config.EnvDevelopment})
	k3, err := dev.Keys(assets.DefaultTarget)
	require.NoError(t, err)
	assert.Equal(t, []string{"/public/js/app.js"}, k3.JS())
}

func TestRender_PrunesStaleBundles(t *testing.T) {
	root := fixture(t)
	mgr := assets.Load(assets.DefaultManifest(), assets.Options{Root: root})
	require.NoError(t, mgr.Render(context.Background()))

	vars := filepath.Join(root, "public", "less", "vars.less")
	require.NoError(t, os.WriteFile(vars, []byte("@c: #000000;"), 0o644))
	require.NoError(t, mgr.Render(context.Background()))

	entries, err := os.ReadDir(filepath.Join(root, "public", "assets"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Len(t, names, 3, names)
}

func TestRender_FailureKeepsKeys(t *testing.T) {
	root := fixture(t)
	m := assets.DefaultManifest()
	pub := m[assets.DefaultTarget]
	pub.CSS = []string{"broken.less"}
	m[assets.DefaultTarget] = pub

	mgr := assets.Load(m, assets.Options{Root: root})
	before, err := mgr.Keys(assets.DefaultTarget)
	require.NoError(t, err)

	err = mgr.Render(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined variable")

	after, err := mgr.Keys(assets.DefaultTarget)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestWatched(t *testing.T) {
	root := fixture(t)
	mgr := assets.Load(assets.DefaultManifest(), assets.Options{Root: root})
	assert.Equal(t, []string{
		filepath.Join(root, "public", "less"),
		filepath.Join(root, "public", "js"),
	}, mgr.Watched())
}
