// Package config holds the appshell configuration schema.
//
// Every default lives in Defaults(). Callers build a partial Config (from a
// file, flags or a literal) and pass it through Merge, which returns a new,
// fully populated value:
//
//	cfg := config.Merge(config.Config{Server: config.ServerConfig{Port: 8080}})
//	cfg.Addr() // "127.0.0.1:8080"
package config

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"
)

// Environments understood by the server. Any other value behaves like a
// non-development, non-production environment.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Plugin failure policies.
const (
	PolicyDegrade  = "degrade"
	PolicyFailFast = "failfast"
)

// Cache drivers.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

const (
	defaultHost         = "127.0.0.1"
	defaultPort         = 3002
	defaultRoot         = "."
	defaultManifest     = "manifest.yaml"
	defaultDrainTimeout = time.Second
	defaultCacheTTL     = 10 * time.Minute
	defaultRedisAddr    = "localhost:6379"
	defaultS3Region     = "us-east-1"
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig `mapstructure:"server" yaml:"server"`
	Env      string       `mapstructure:"env" yaml:"env"`
	Docroot  string       `mapstructure:"docroot" yaml:"docroot"`
	GAID     string       `mapstructure:"ga_id" yaml:"ga_id"`
	Root     string       `mapstructure:"root" yaml:"root"`
	Manifest string       `mapstructure:"manifest" yaml:"manifest"`

	Plugins    PluginsConfig    `mapstructure:"plugins" yaml:"plugins"`
	HTTP       HTTPConfig       `mapstructure:"http" yaml:"http"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Cache      CacheConfig      `mapstructure:"cache" yaml:"cache"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	LiveReload LiveReloadConfig `mapstructure:"livereload" yaml:"livereload"`
	CORS       CORSConfig       `mapstructure:"cors" yaml:"cors"`
}

// ServerConfig is the listener address.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// PluginsConfig controls what happens when an optional capability (view
// engine, static files, LESS compiler) fails to register.
type PluginsConfig struct {
	FailurePolicy string `mapstructure:"failure_policy" yaml:"failure_policy"`
}

// HTTPConfig holds net/http server timeouts.
type HTTPConfig struct {
	DrainTimeout time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	// LessRateLimit caps LESS compile requests per client IP per minute.
	// Zero disables the limit.
	LessRateLimit int `mapstructure:"less_rate_limit" yaml:"less_rate_limit"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// CacheConfig selects the compiled-output cache driver.
type CacheConfig struct {
	Driver string        `mapstructure:"driver" yaml:"driver"`
	TTL    time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Redis  RedisConfig   `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig is used when Cache.Driver is "redis".
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

// StorageConfig configures extra publish targets for rendered bundles.
type StorageConfig struct {
	S3 S3Config `mapstructure:"s3" yaml:"s3"`
}

// S3Config enables mirroring rendered bundles to an S3-compatible bucket
// when Bucket is set.
type S3Config struct {
	Bucket   string `mapstructure:"bucket" yaml:"bucket"`
	Region   string `mapstructure:"region" yaml:"region"`
	Key      string `mapstructure:"key" yaml:"key"`
	Secret   string `mapstructure:"secret" yaml:"secret"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
	URL      string `mapstructure:"url" yaml:"url"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Disabled bool `mapstructure:"disabled" yaml:"disabled"`
}

// LiveReloadConfig toggles the development live-reload socket.
type LiveReloadConfig struct {
	Disabled bool `mapstructure:"disabled" yaml:"disabled"`
}

// CORSConfig enables CORS headers on asset routes when Origins is non-empty.
type CORSConfig struct {
	Origins []string `mapstructure:"origins" yaml:"origins"`
}

// Defaults returns the configuration used for every unset field.
func Defaults() Config {
	return Config{
		Server:   ServerConfig{Host: defaultHost, Port: defaultPort},
		Root:     defaultRoot,
		Manifest: defaultManifest,
		Plugins:  PluginsConfig{FailurePolicy: PolicyDegrade},
		HTTP: HTTPConfig{
			DrainTimeout: defaultDrainTimeout,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Log: LogConfig{Level: "info"},
		Cache: CacheConfig{
			Driver: CacheMemory,
			TTL:    defaultCacheTTL,
			Redis:  RedisConfig{Addr: defaultRedisAddr, Prefix: "appshell:"},
		},
		Storage: StorageConfig{S3: S3Config{Region: defaultS3Region}},
	}
}

// Merge returns a copy of c with every zero-valued field replaced by its
// default. c itself is not modified.
func Merge(c Config) Config {
	d := Defaults()
	out := c

	out.Server.Host = or(c.Server.Host, d.Server.Host)
	out.Server.Port = or(c.Server.Port, d.Server.Port)
	out.Env = strings.ToLower(strings.TrimSpace(c.Env))
	out.Docroot = strings.Trim(strings.TrimSpace(c.Docroot), "/")
	out.Root = or(c.Root, d.Root)
	out.Manifest = or(c.Manifest, d.Manifest)

	out.Plugins.FailurePolicy = or(strings.ToLower(c.Plugins.FailurePolicy), d.Plugins.FailurePolicy)

	out.HTTP.DrainTimeout = or(c.HTTP.DrainTimeout, d.HTTP.DrainTimeout)
	out.HTTP.ReadTimeout = or(c.HTTP.ReadTimeout, d.HTTP.ReadTimeout)
	out.HTTP.WriteTimeout = or(c.HTTP.WriteTimeout, d.HTTP.WriteTimeout)
	out.HTTP.IdleTimeout = or(c.HTTP.IdleTimeout, d.HTTP.IdleTimeout)

	out.Log.Level = or(strings.ToLower(c.Log.Level), d.Log.Level)
	if out.Log.Format == "" {
		out.Log.Format = "text"
		if out.IsProduction() {
			out.Log.Format = "json"
		}
	}

	out.Cache.Driver = or(strings.ToLower(c.Cache.Driver), d.Cache.Driver)
	out.Cache.TTL = or(c.Cache.TTL, d.Cache.TTL)
	out.Cache.Redis.Addr = or(c.Cache.Redis.Addr, d.Cache.Redis.Addr)
	out.Cache.Redis.Prefix = or(c.Cache.Redis.Prefix, d.Cache.Redis.Prefix)

	out.Storage.S3.Region = or(c.Storage.S3.Region, d.Storage.S3.Region)

	out.CORS.Origins = append([]string(nil), c.CORS.Origins...)
	return out
}

// Validate reports configuration values the server cannot run with.
func (c Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.HTTP.LessRateLimit < 0 {
		return fmt.Errorf("config: http.less_rate_limit must not be negative")
	}
	switch c.Plugins.FailurePolicy {
	case PolicyDegrade, PolicyFailFast:
	default:
		return fmt.Errorf("config: unknown plugins.failure_policy %q", c.Plugins.FailurePolicy)
	}
	switch c.Cache.Driver {
	case CacheMemory, CacheRedis, CacheNone:
	default:
		return fmt.Errorf("config: unknown cache.driver %q", c.Cache.Driver)
	}
	return nil
}

// Addr is the host:port the listener binds to.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// IsDevelopment reports whether views are re-parsed on every request.
func (c Config) IsDevelopment() bool { return c.Env == EnvDevelopment }

// IsProduction reports whether bundles are rendered before the listener starts.
func (c Config) IsProduction() bool { return c.Env == EnvProduction }

// FailFast reports whether plugin registration errors abort construction.
func (c Config) FailFast() bool { return c.Plugins.FailurePolicy == PolicyFailFast }

// SlogLevel maps Log.Level onto a slog.Level.
func (c LogConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func or[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
