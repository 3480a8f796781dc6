package config

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ssl-hep/ServiceX-DID/errors"
	"github.com/ssl-hep/ServiceX-DID/replica"
)

// EnvPrefix is prepended to every environment variable, e.g.
// DID_FINDER_QUEUE_RABBIT_URI for queue.rabbit_uri.
const EnvPrefix = "DID_FINDER"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("finder.name", "local")
	v.SetDefault("finder.args", map[string]string{})

	// Reconnect policy: 12 tries 10 seconds apart
	v.SetDefault("queue.backend", BackendAMQP)
	v.SetDefault("queue.name", "")
	v.SetDefault("queue.rabbit_uri", "")
	v.SetDefault("queue.retries", 12)
	v.SetDefault("queue.retry_interval", 10*time.Second)
	v.SetDefault("queue.prefetch", 1)
	v.SetDefault("queue.redis.addr", "localhost:6379")
	v.SetDefault("queue.redis.password", "")
	v.SetDefault("queue.redis.db", 0)
	v.SetDefault("queue.redis.block_timeout", 5*time.Second)

	v.SetDefault("servicex.prefix", "")
	v.SetDefault("servicex.bulk_chunk_size", 300)
	v.SetDefault("servicex.retry_max", 2)
	v.SetDefault("servicex.retry_wait", time.Second)
	v.SetDefault("servicex.timeout", 30*time.Second)
	v.SetDefault("servicex.rate_limit", 0.0)
	v.SetDefault("servicex.rate_burst", 1)

	v.SetDefault("geoip.db_path", "")
	v.SetDefault("geoip.db_url", "")
	v.SetDefault("geoip.license_key", "")
	v.SetDefault("geoip.edition", "")
	v.SetDefault("geoip.location.latitude", 0.0)
	v.SetDefault("geoip.location.longitude", 0.0)

	v.SetDefault("metrics.address", "")

	v.SetDefault("log.format", LogConsole)
	v.SetDefault("log.level", "info")
}

// BindSensitiveEnvVars lets deployments keep the variable names the finders
// have always used.
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("queue.rabbit_uri", EnvPrefix+"_QUEUE_RABBIT_URI", "RABBIT_URI")
	_ = v.BindEnv("queue.redis.password", EnvPrefix+"_QUEUE_REDIS_PASSWORD", "REDIS_PASSWORD")
	_ = v.BindEnv("geoip.db_url", EnvPrefix+"_GEOIP_DB_URL", replica.EnvDBURL)
	_ = v.BindEnv("geoip.license_key", EnvPrefix+"_GEOIP_LICENSE_KEY", replica.EnvLicenseKey)
	_ = v.BindEnv("geoip.edition", EnvPrefix+"_GEOIP_EDITION", replica.EnvEdition)
}

// flagKeys maps each command-line flag to its configuration key.
var flagKeys = map[string]string{
	"rabbit-uri":      "queue.rabbit_uri",
	"queue-backend":   "queue.backend",
	"queue-name":      "queue.name",
	"redis-addr":      "queue.redis.addr",
	"retries":         "queue.retries",
	"retry-interval":  "queue.retry_interval",
	"prefix":          "servicex.prefix",
	"bulk-chunk-size": "servicex.bulk_chunk_size",
	"metrics-address": "metrics.address",
	"geoip-db":        "geoip.db_path",
	"latitude":        "geoip.location.latitude",
	"longitude":       "geoip.location.longitude",
	"finder-arg":      "finder.args",
	"log-format":      "log.format",
	"log-level":       "log.level",
}

// RegisterFlags adds the DID finder flags to fs. Flag defaults are left empty
// so that unset flags do not shadow file or environment values.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("rabbit-uri", "", "RabbitMQ URI to consume DID requests from")
	fs.String("queue-backend", "", "request queue backend: amqp or redis")
	fs.String("queue-name", "", "queue name (default <finder>_did_requests)")
	fs.String("redis-addr", "", "Redis address when the backend is redis")
	fs.Int("retries", 0, "broker connection retries")
	fs.Duration("retry-interval", 0, "pause between broker connection retries")
	fs.String("prefix", "", "prefix added to every file path, for a cache proxy")
	fs.Int("bulk-chunk-size", 0, "maximum files per bulk report")
	fs.String("metrics-address", "", "serve Prometheus metrics on this address")
	fs.String("geoip-db", "", "path to a MaxMind City database for replica ordering")
	fs.Float64("latitude", 0, "latitude replicas are measured from")
	fs.Float64("longitude", 0, "longitude replicas are measured from")
	fs.StringToString("finder-arg", nil, "argument passed to the finder, key=value")
	fs.String("log-format", "", "log output: console or json")
	fs.String("log-level", "", "minimum log level")
}

// BindFlags binds every flag registered by RegisterFlags to v.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return errors.Wrapf(err, "failed to bind flag --%s", name)
		}
	}
	return nil
}
