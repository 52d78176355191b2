package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shashiranjanraj/appshell/config"
)

func TestMerge_EmptyConfigBindsDefaultAddress(t *testing.T) {
	cfg := config.Merge(config.Config{})

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 3002, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:3002", cfg.Addr())
	assert.Equal(t, time.Second, cfg.HTTP.DrainTimeout)
	assert.Equal(t, config.PolicyDegrade, cfg.Plugins.FailurePolicy)
	assert.Equal(t, config.CacheMemory, cfg.Cache.Driver)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestMerge_PortOnlyKeepsDefaultHost(t *testing.T) {
	cfg := config.Merge(config.Config{Server: config.ServerConfig{Port: 8080}})

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestMerge_DoesNotModifyInput(t *testing.T) {
	in := config.Config{CORS: config.CORSConfig{Origins: []string{"https://a.example"}}}
	out := config.Merge(in)
	out.CORS.Origins[0] = "changed"

	assert.Equal(t, "", in.Server.Host)
	assert.Equal(t, "https://a.example", in.CORS.Origins[0])
}

func TestMerge_NormalisesEnvAndDocroot(t *testing.T) {
	cfg := config.Merge(config.Config{Env: " Production ", Docroot: "/site/"})

	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, "site", cfg.Docroot)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*config.Config) {}},
		{name: "port too large", mutate: func(c *config.Config) { c.Server.Port = 70000 }, wantErr: true},
		{name: "unknown policy", mutate: func(c *config.Config) { c.Plugins.FailurePolicy = "panic" }, wantErr: true},
		{name: "failfast", mutate: func(c *config.Config) { c.Plugins.FailurePolicy = config.PolicyFailFast }},
		{name: "unknown cache driver", mutate: func(c *config.Config) { c.Cache.Driver = "memcached" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Merge(config.Config{})
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "appshell.yaml")
	yaml := `
server:
  port: 4000
env: development
docroot: docs
ga_id: UA-1
http:
  drain_timeout: 2s
cors:
  origins: ["https://cdn.example"]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("APPSHELL_GA_ID", "UA-ENV")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "docs", cfg.Docroot)
	assert.Equal(t, "UA-ENV", cfg.GAID)
	assert.Equal(t, 2*time.Second, cfg.HTTP.DrainTimeout)
	assert.Equal(t, []string{"https://cdn.example"}, cfg.CORS.Origins)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	t.Setenv("APPSHELL_SERVER_PORT", "9090")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.Addr())
}

func TestLoadWithFlags_ChangedFlagsWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appshell.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 4000\n  host: 0.0.0.0\n"), 0o644))
	t.Setenv("APPSHELL_ENV", "development")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("port", 0, "")
	fs.String("host", "", "")
	fs.String("env", "", "")
	require.NoError(t, fs.Parse([]string{"--port", "5000", "--env", "production"}))

	cfg, err := config.LoadWithFlags(path, fs, map[string]string{
		"port": "server.port",
		"host": "server.host",
		"env":  "env",
	})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:5000", cfg.Addr())
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadWithFlags_UnknownFlag(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	_, err := config.LoadWithFlags("", fs, map[string]string{"port": "server.port"})
	assert.Error(t, err)
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", config.LogConfig{Level: "debug"}.SlogLevel().String())
	assert.Equal(t, "WARN", config.LogConfig{Level: "warning"}.SlogLevel().String())
	assert.Equal(t, "INFO", config.LogConfig{Level: "bogus"}.SlogLevel().String())
}
