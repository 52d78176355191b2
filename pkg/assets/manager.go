package assets

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/js"

	"github.com/shashiranjanraj/appshell/config"
	"github.com/shashiranjanraj/appshell/pkg/less"
	"github.com/shashiranjanraj/appshell/pkg/logger"
	"github.com/shashiranjanraj/appshell/pkg/metrics"
	"github.com/shashiranjanraj/appshell/pkg/storage"
	"github.com/shashiranjanraj/appshell/pkg/workerpool"
)

// ErrUnknownTarget is returned for a target name not in the manifest.
var ErrUnknownTarget = errors.New("assets: unknown target")

// Options configures Load.
type Options struct {
	// Root is the directory manifest paths are relative to.
	Root string
	// Env selects development (per-source URLs) or not.
	Env string
	// LessHome is where the manifest's css entries live. Defaults to
	// <Root>/public/less.
	LessHome string
	// Disks receive rendered bundles in addition to each target's local
	// <Root>/<outPath> directory.
	Disks []storage.Disk
	// Pool builds bundles. A temporary pool is used when nil.
	Pool   *workerpool.Pool
	Logger *slog.Logger
}

// Keys are the URLs a target's view links to.
type Keys struct {
	js  []string
	css []string
}

// JS returns the script URLs in manifest order.
func (k Keys) JS() []string { return append([]string(nil), k.js...) }

// CSS returns the stylesheet URLs in manifest order.
func (k Keys) CSS() []string { return append([]string(nil), k.css...) }

// record is the <target>.json file written next to the bundles.
type record struct {
	JS      []string  `json:"js"`
	CSS     []string  `json:"css"`
	Built   time.Time `json:"built"`
	Sources []string  `json:"sources,omitempty"`
}

// Manager owns the manifest and the current keys of every target.
type Manager struct {
	manifest Manifest
	opts     Options
	log      *slog.Logger

	mu   sync.RWMutex
	keys map[string]Keys
}

// Load builds a Manager for m. Targets with a previously rendered
// <target>.json in their output directory serve those bundles unless env
// is development.
func Load(m Manifest, opts Options) *Manager {
	if opts.Root == "" {
		opts.Root = "."
	}
	if opts.LessHome == "" {
		opts.LessHome = filepath.Join(opts.Root, "public", "less")
	}
	log := opts.Logger
	if log == nil {
		log = logger.L
	}

	mgr := &Manager{manifest: m.Clone(), opts: opts, log: log, keys: map[string]Keys{}}
	for _, name := range mgr.manifest.Targets() {
		t := mgr.manifest[name]
		mgr.keys[name] = sourceKeys(t)
		if opts.Env == config.EnvDevelopment {
			continue
		}
		if k, ok := mgr.loadRecord(name, t); ok {
			mgr.keys[name] = k
		}
	}
	return mgr
}

// Manifest returns a copy of the manifest the manager was loaded with.
func (m *Manager) Manifest() Manifest { return m.manifest.Clone() }

// Keys returns the current URLs for target.
func (m *Manager) Keys(target string) (Keys, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keys[target]
	if !ok {
		return Keys{}, fmt.Errorf("%w %q", ErrUnknownTarget, target)
	}
	return k, nil
}

// Watched returns the source directories development reloads should
// observe.
func (m *Manager) Watched() []string {
	seen := map[string]bool{}
	var dirs []string
	add := func(d string) {
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	add(m.opts.LessHome)
	for _, name := range m.manifest.Targets() {
		for _, p := range m.manifest[name].JS {
			add(filepath.Dir(filepath.Join(m.opts.Root, filepath.FromSlash(p))))
		}
	}
	return dirs
}

func sourceKeys(t Target) Keys {
	var k Keys
	for _, p := range t.JS {
		k.js = append(k.js, t.Opts.URL+"/"+strings.TrimLeft(p, "/"))
	}
	for _, p := range t.CSS {
		name := strings.TrimSuffix(strings.TrimLeft(p, "/"), ".less")
		k.css = append(k.css, t.Opts.URL+"/public/css/"+name+".css")
	}
	return k
}

func (m *Manager) outDisk(t Target) *storage.Local {
	return storage.NewLocal(filepath.Join(m.opts.Root, filepath.FromSlash(t.Opts.OutPath)), strings.TrimSuffix(t.Opts.OutURL, "/"))
}

func (m *Manager) loadRecord(name string, t Target) (Keys, bool) {
	ctx := context.Background()
	disk := m.outDisk(t)
	raw, err := disk.Get(ctx, name+".json")
	if err != nil {
		return Keys{}, false
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		m.log.Warn("assets: ignoring unreadable bundle record", "target", name, "error", err)
		return Keys{}, false
	}
	var k Keys
	for _, f := range rec.JS {
		if !disk.Exists(ctx, f) {
			return Keys{}, false
		}
		k.js = append(k.js, disk.URL(f))
	}
	for _, f := range rec.CSS {
		if !disk.Exists(ctx, f) {
			return Keys{}, false
		}
		k.css = append(k.css, disk.URL(f))
	}
	return k, true
}

type bundle struct {
	target string
	kind   string
	name   string
	body   []byte
}

// Render builds every target's bundles, writes them to every disk and
// switches the keys to the bundle URLs. Keys are left unchanged when any
// target fails.
func (m *Manager) Render(ctx context.Context) (err error) {
	defer metrics.ObserveRender(time.Now(), &err)

	pool := m.opts.Pool
	if pool == nil {
		pool = workerpool.New(runtime.NumCPU())
		defer pool.Shutdown()
	}

	var (
		mu      sync.Mutex
		bundles []bundle
		sources = map[string][]string{}
		tasks   []func(context.Context) error
	)
	for _, name := range m.manifest.Targets() {
		name, t := name, m.manifest[name]
		if len(t.JS) > 0 {
			tasks = append(tasks, func(context.Context) error {
				body, err := m.buildJS(t)
				if err != nil {
					return fmt.Errorf("assets: %s js: %w", name, err)
				}
				mu.Lock()
				bundles = append(bundles, bundle{target: name, kind: "js", name: bundleName(name, "js", body), body: body})
				mu.Unlock()
				return nil
			})
		}
		if len(t.CSS) > 0 {
			tasks = append(tasks, func(context.Context) error {
				body, files, err := m.buildCSS(t)
				if err != nil {
					return fmt.Errorf("assets: %s css: %w", name, err)
				}
				mu.Lock()
				bundles = append(bundles, bundle{target: name, kind: "css", name: bundleName(name, "css", body), body: body})
				sources[name] = files
				mu.Unlock()
				return nil
			})
		}
	}
	if err := pool.Do(ctx, tasks...); err != nil {
		return err
	}

	keys := map[string]Keys{}
	for _, name := range m.manifest.Targets() {
		t := m.manifest[name]
		local := m.outDisk(t)
		disks := append([]storage.Disk{local}, m.opts.Disks...)

		rec := record{Built: time.Now().UTC(), Sources: sources[name]}
		var k Keys
		for _, b := range bundles {
			if b.target != name {
				continue
			}
			contentType := "application/javascript"
			if b.kind == "css" {
				contentType = "text/css; charset=utf-8"
				rec.CSS = append(rec.CSS, b.name)
				k.css = append(k.css, local.URL(b.name))
			} else {
				rec.JS = append(rec.JS, b.name)
				k.js = append(k.js, local.URL(b.name))
			}
			for _, d := range disks {
				if err := d.Put(ctx, b.name, b.body, contentType); err != nil {
					return fmt.Errorf("assets: publish %s to %s: %w", b.name, d.Name(), err)
				}
			}
		}

		raw, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return fmt.Errorf("assets: encode %s.json: %w", name, err)
		}
		for _, d := range disks {
			if err := d.Put(ctx, name+".json", raw, "application/json"); err != nil {
				return fmt.Errorf("assets: publish %s.json to %s: %w", name, d.Name(), err)
			}
		}
		m.prune(ctx, local, name, append(rec.JS, rec.CSS...))

		keys[name] = k
		m.log.Info("assets rendered", "target", name, "js", rec.JS, "css", rec.CSS)
	}

	m.mu.Lock()
	m.keys = keys
	m.mu.Unlock()
	return nil
}

func (m *Manager) buildJS(t Target) ([]byte, error) {
	var buf bytes.Buffer
	for i, p := range t.JS {
		src, err := os.ReadFile(filepath.Join(m.opts.Root, filepath.FromSlash(p)))
		if err != nil {
			return nil, err
		}
		if i > 0 {
			buf.WriteString(";\n")
		}
		buf.Write(src)
	}

	mini := minify.New()
	mini.AddFunc("application/javascript", js.Minify)
	out, err := mini.Bytes("application/javascript", buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("minify: %w", err)
	}
	return out, nil
}

func (m *Manager) buildCSS(t Target) ([]byte, []string, error) {
	var (
		buf   bytes.Buffer
		files []string
	)
	for _, p := range t.CSS {
		name := filepath.FromSlash(p)
		if filepath.Ext(name) == "" {
			name += ".less"
		}
		res, err := less.Compile(filepath.Join(m.opts.LessHome, name), less.Options{
			Compress: true,
			Paths:    []string{m.opts.LessHome},
		})
		if err != nil {
			return nil, nil, err
		}
		buf.Write(res.CSS)
		for _, f := range res.Files {
			if rel, err := filepath.Rel(m.opts.LessHome, f); err == nil {
				f = filepath.ToSlash(rel)
			}
			files = append(files, f)
		}
	}
	return buf.Bytes(), files, nil
}

func bundleName(target, ext string, body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("%s-%s.%s", target, hex.EncodeToString(sum[:])[:8], ext)
}

// prune removes bundles of target left behind by earlier renders.
func (m *Manager) prune(ctx context.Context, d storage.Disk, target string, keep []string) {
	stale := regexp.MustCompile(`^` + regexp.QuoteMeta(target) + `-[0-9a-f]{8}\.(js|css)$`)
	files, err := d.Files(ctx, "")
	if err != nil {
		m.log.Warn("assets: list bundles", "disk", d.Name(), "error", err)
		return
	}
	kept := map[string]bool{}
	for _, k := range keep {
		kept[k] = true
	}
	for _, f := range files {
		base := path.Base(f)
		if kept[base] || !stale.MatchString(base) {
			continue
		}
		if err := d.Delete(ctx, f); err != nil {
			m.log.Warn("assets: remove stale bundle", "file", f, "error", err)
		}
	}
}
