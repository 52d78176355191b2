// Package assets loads the asset manifest and turns it into the script and
// stylesheet URLs the application view links to.
//
// In development every source file is linked individually: JavaScript from
// its own path and stylesheets through the on-the-fly LESS route. Render
// builds one fingerprinted bundle per kind and target, publishes it to
// every disk and switches the keys over to the bundle URLs.
package assets

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// TargetOpts controls where a target is served from and published to.
type TargetOpts struct {
	// URL prefixes development source URLs.
	URL string `yaml:"url"`
	// OutURL is the public URL of rendered bundles.
	OutURL string `yaml:"outUrl"`
	// OutPath is where bundles are written, relative to the server root.
	OutPath string `yaml:"outPath"`
}

// Target is one named group of sources.
type Target struct {
	JS   []string   `yaml:"js"`
	CSS  []string   `yaml:"css"`
	Opts TargetOpts `yaml:"opts"`
}

// Manifest maps target names to their sources.
type Manifest map[string]Target

// DefaultTarget is the target the application view uses.
const DefaultTarget = "pub"

// DefaultManifest is used when no manifest file exists.
func DefaultManifest() Manifest {
	return Manifest{
		DefaultTarget: {
			JS:  []string{"public/js/app.js"},
			CSS: []string{"app.less"},
			Opts: TargetOpts{
				URL:     "",
				OutURL:  "/assets",
				OutPath: "public/assets",
			},
		},
	}
}

// LoadManifest reads a YAML manifest. A missing file yields
// DefaultManifest.
func LoadManifest(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultManifest(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("assets: read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("assets: parse manifest %s: %w", path, err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("assets: manifest %s defines no targets", path)
	}
	return m, nil
}

// WithDocroot returns a copy of m whose targets are served below
// /<docroot>. The receiver is left untouched. An empty docroot returns an
// unchanged copy.
func (m Manifest) WithDocroot(docroot string) Manifest {
	out := m.Clone()
	if docroot == "" {
		return out
	}
	for name, t := range out {
		t.Opts.URL = "/" + docroot
		t.Opts.OutURL = "/" + docroot + "/assets"
		out[name] = t
	}
	return out
}

// Clone returns a deep copy of m.
func (m Manifest) Clone() Manifest {
	out := make(Manifest, len(m))
	for name, t := range m {
		t.JS = append([]string(nil), t.JS...)
		t.CSS = append([]string(nil), t.CSS...)
		out[name] = t
	}
	return out
}

// Targets returns the target names in sorted order.
func (m Manifest) Targets() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
