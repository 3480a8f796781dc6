// Package config loads DID finder settings from defaults, an optional TOML
// file, DID_FINDER_* environment variables and command-line flags.
package config

import (
	"time"

	"github.com/ssl-hep/ServiceX-DID/replica"
)

// Config is the complete DID finder configuration.
type Config struct {
	Finder   FinderConfig   `mapstructure:"finder"`
	Queue    QueueConfig    `mapstructure:"queue"`
	ServiceX ServiceXConfig `mapstructure:"servicex"`
	GeoIP    GeoIPConfig    `mapstructure:"geoip"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

// FinderConfig names the finder and carries its own arguments.
type FinderConfig struct {
	Name string `mapstructure:"name"`

	// Args are handed unchanged to the resolver as RequestInfo.Args.
	Args map[string]string `mapstructure:"args"`
}

// Queue backends.
const (
	BackendAMQP  = "amqp"
	BackendRedis = "redis"
)

// QueueConfig selects and tunes the request queue.
type QueueConfig struct {
	Backend string `mapstructure:"backend"`

	// Name overrides the "<finder>_did_requests" convention.
	Name string `mapstructure:"name"`

	RabbitURI     string        `mapstructure:"rabbit_uri"`
	Retries       int           `mapstructure:"retries"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	Prefetch      int           `mapstructure:"prefetch"`

	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig is used when Backend is "redis".
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	BlockTimeout time.Duration `mapstructure:"block_timeout"`
}

// ServiceXConfig controls reporting to the ServiceX app.
type ServiceXConfig struct {
	Prefix        string        `mapstructure:"prefix"` // cache proxy prefix for file paths
	BulkChunkSize int           `mapstructure:"bulk_chunk_size"`
	RetryMax      int           `mapstructure:"retry_max"`
	RetryWait     time.Duration `mapstructure:"retry_wait"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RateLimit     float64       `mapstructure:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst     int           `mapstructure:"rate_burst"`
}

// GeoIPConfig locates the database used to order replicas.
type GeoIPConfig struct {
	DBPath     string `mapstructure:"db_path"`
	DBURL      string `mapstructure:"db_url"`
	LicenseKey string `mapstructure:"license_key"`
	Edition    string `mapstructure:"edition"`

	// Location is where replicas are measured from.
	Location replica.Location `mapstructure:"location"`
}

// Source reports where to download the database from. A local DBPath takes
// precedence and is not a download source.
func (g GeoIPConfig) Source() (replica.DBSource, bool) {
	switch {
	case g.DBURL != "":
		return replica.DBSource{URL: g.DBURL, Unpacked: true}, true
	case g.LicenseKey != "" && g.Edition != "":
		return replica.MaxMindSource(g.LicenseKey, g.Edition), true
	}
	return replica.DBSource{}, false
}

// MetricsConfig enables the Prometheus endpoint when Address is set.
type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

// Log formats.
const (
	LogConsole = "console"
	LogJSON    = "json"
)

// LogConfig selects the log encoder and level.
type LogConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}
