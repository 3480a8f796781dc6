package config

import (
	"encoding/json"
	"net/url"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/ssl-hep/ServiceX-DID/errors"
)

// Output formats for Marshal.
const (
	FormatTOML = "toml"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

const redacted = "REDACTED"

// Settings returns the configuration as nested maps keyed like the TOML file,
// with durations rendered as strings and secrets redacted.
func (c *Config) Settings() (map[string]any, error) {
	out := map[string]any{}
	if err := mapstructure.Decode(c, &out); err != nil {
		return nil, errors.Wrap(err, "failed to flatten config")
	}
	normalize(out)

	queue := out["queue"].(map[string]any)
	queue["rabbit_uri"] = redactURI(c.Queue.RabbitURI)
	if c.Queue.Redis.Password != "" {
		queue["redis"].(map[string]any)["password"] = redacted
	}
	if c.GeoIP.LicenseKey != "" {
		out["geoip"].(map[string]any)["license_key"] = redacted
	}
	return out, nil
}

// normalize converts nested structs to maps and durations to strings.
func normalize(m map[string]any) {
	for k, v := range m {
		switch val := v.(type) {
		case time.Duration:
			m[k] = val.String()
		case map[string]any:
			normalize(val)
		case map[string]string:
			nested := make(map[string]any, len(val))
			for nk, nv := range val {
				nested[nk] = nv
			}
			m[k] = nested
		default:
			var nested map[string]any
			if err := mapstructure.Decode(v, &nested); err == nil && nested != nil {
				normalize(nested)
				m[k] = nested
			}
		}
	}
}

func redactURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	return u.String()
}

// Marshal renders the configuration in the given format.
func (c *Config) Marshal(format string) ([]byte, error) {
	settings, err := c.Settings()
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatTOML, "":
		return toml.Marshal(settings)
	case FormatJSON:
		return json.MarshalIndent(settings, "", "  ")
	case FormatYAML:
		return yaml.Marshal(settings)
	}
	return nil, errors.Mark(errors.Newf("unknown format %q", format), errors.ErrInvalidConfig)
}
