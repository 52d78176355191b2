package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// APPSHELL_SERVER_PORT=8080 or APPSHELL_CACHE_REDIS_ADDR=redis:6379.
const EnvPrefix = "APPSHELL"

// Load reads configuration from an optional YAML file and APPSHELL_*
// environment variables, then fills the gaps with Merge.
//
// When path is empty, "appshell.yaml" is looked up in the working directory
// and /etc/appshell; a missing file is not an error. An explicit path that
// cannot be read is.
func Load(path string) (Config, error) {
	return LoadWithFlags(path, nil, nil)
}

// LoadWithFlags is Load with command-line overrides. flagKeys maps a flag
// name in fs to the configuration key it sets, e.g. "port" to
// "server.port". Only flags given on the command line take effect; they
// win over the file and the environment.
func LoadWithFlags(path string, fs *pflag.FlagSet, flagKeys map[string]string) (Config, error) {
	v := viper.New()
	bindKeys(v, Defaults())

	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			return Config{}, fmt.Errorf("config: unknown flag %q", name)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return Config{}, fmt.Errorf("config: bind flag %s: %w", name, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("appshell")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/appshell/")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return Merge(cfg), nil
}

// bindKeys registers every key with viper so that env-only overrides are
// picked up by Unmarshal. Values come from Defaults, keeping a single
// source of truth.
func bindKeys(v *viper.Viper, d Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("env", d.Env)
	v.SetDefault("docroot", d.Docroot)
	v.SetDefault("ga_id", d.GAID)
	v.SetDefault("root", d.Root)
	v.SetDefault("manifest", d.Manifest)

	v.SetDefault("plugins.failure_policy", d.Plugins.FailurePolicy)

	v.SetDefault("http.drain_timeout", d.HTTP.DrainTimeout)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)
	v.SetDefault("http.idle_timeout", d.HTTP.IdleTimeout)
	v.SetDefault("http.less_rate_limit", d.HTTP.LessRateLimit)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("cache.driver", d.Cache.Driver)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.redis.addr", d.Cache.Redis.Addr)
	v.SetDefault("cache.redis.password", d.Cache.Redis.Password)
	v.SetDefault("cache.redis.db", d.Cache.Redis.DB)
	v.SetDefault("cache.redis.prefix", d.Cache.Redis.Prefix)

	v.SetDefault("storage.s3.bucket", d.Storage.S3.Bucket)
	v.SetDefault("storage.s3.region", d.Storage.S3.Region)
	v.SetDefault("storage.s3.key", d.Storage.S3.Key)
	v.SetDefault("storage.s3.secret", d.Storage.S3.Secret)
	v.SetDefault("storage.s3.endpoint", d.Storage.S3.Endpoint)
	v.SetDefault("storage.s3.prefix", d.Storage.S3.Prefix)
	v.SetDefault("storage.s3.url", d.Storage.S3.URL)

	v.SetDefault("metrics.disabled", d.Metrics.Disabled)
	v.SetDefault("livereload.disabled", d.LiveReload.Disabled)
	v.SetDefault("cors.origins", d.CORS.Origins)
}
