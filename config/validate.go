package config

import (
	"slices"

	"go.uber.org/zap/zapcore"

	"github.com/ssl-hep/ServiceX-DID/errors"
)

func invalid(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), errors.ErrInvalidConfig)
}

// Validate checks that the configuration is usable by the run command.
func (c *Config) Validate() error {
	if c.Finder.Name == "" {
		return invalid("finder.name cannot be empty")
	}

	switch c.Queue.Backend {
	case BackendAMQP:
		if c.Queue.RabbitURI == "" {
			return errors.WithHint(invalid("queue.rabbit_uri is required for the amqp backend"),
				"pass --rabbit-uri or set DID_FINDER_QUEUE_RABBIT_URI")
		}
	case BackendRedis:
		if c.Queue.Redis.Addr == "" {
			return invalid("queue.redis.addr is required for the redis backend")
		}
		if c.Queue.Redis.BlockTimeout <= 0 {
			return invalid("queue.redis.block_timeout must be > 0, got %s", c.Queue.Redis.BlockTimeout)
		}
	default:
		return invalid("queue.backend must be %q or %q, got %q", BackendAMQP, BackendRedis, c.Queue.Backend)
	}

	// Zero retries means one connection attempt
	if c.Queue.Retries < 0 {
		return invalid("queue.retries must be >= 0, got %d", c.Queue.Retries)
	}
	if c.Queue.RetryInterval < 0 {
		return invalid("queue.retry_interval must be >= 0, got %s", c.Queue.RetryInterval)
	}
	if c.Queue.Prefetch < 1 {
		return invalid("queue.prefetch must be >= 1, got %d", c.Queue.Prefetch)
	}

	return c.ValidateLookup()
}

// ValidateLookup checks the settings a single lookup needs. It does not
// require a broker.
func (c *Config) ValidateLookup() error {
	sx := c.ServiceX
	if sx.BulkChunkSize < 1 {
		return invalid("servicex.bulk_chunk_size must be >= 1, got %d", sx.BulkChunkSize)
	}
	// -1 disables retries
	if sx.RetryMax < -1 {
		return invalid("servicex.retry_max must be >= -1, got %d", sx.RetryMax)
	}
	if sx.RetryWait < 0 {
		return invalid("servicex.retry_wait must be >= 0, got %s", sx.RetryWait)
	}
	if sx.Timeout <= 0 {
		return invalid("servicex.timeout must be > 0, got %s", sx.Timeout)
	}
	if sx.RateLimit < 0 {
		return invalid("servicex.rate_limit must be >= 0, got %f", sx.RateLimit)
	}
	if sx.RateLimit > 0 && sx.RateBurst < 1 {
		return invalid("servicex.rate_burst must be >= 1 when rate_limit is set, got %d", sx.RateBurst)
	}

	g := c.GeoIP
	if (g.LicenseKey == "") != (g.Edition == "") {
		return invalid("geoip.license_key and geoip.edition must be set together")
	}
	if lat := g.Location.Latitude; lat < -90 || lat > 90 {
		return invalid("geoip.location.latitude must be within [-90, 90], got %f", lat)
	}
	if lon := g.Location.Longitude; lon < -180 || lon > 180 {
		return invalid("geoip.location.longitude must be within [-180, 180], got %f", lon)
	}

	if !slices.Contains([]string{LogConsole, LogJSON}, c.Log.Format) {
		return invalid("log.format must be %q or %q, got %q", LogConsole, LogJSON, c.Log.Format)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Mark(errors.Wrap(err, "log.level"), errors.ErrInvalidConfig)
	}
	return nil
}
