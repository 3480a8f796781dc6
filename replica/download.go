package replica

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	getter "github.com/hashicorp/go-getter"
	"go.uber.org/zap"

	"github.com/ssl-hep/ServiceX-DID/errors"
	"github.com/ssl-hep/ServiceX-DID/logger"
)

// Environment variables naming the GeoIP database.
const (
	EnvDBURL      = "GEOIP_DB_URL"
	EnvLicenseKey = "GEOIP_DB_LICENSE_KEY"
	EnvEdition    = "GEOIP_DB_EDITION"
)

const maxMindDownload = "https://download.maxmind.com/app/geoip_download"

// DBSource is where to fetch a GeoIP database from.
type DBSource struct {
	URL string

	// Unpacked is true when URL serves a ready .mmdb file, false when it
	// serves a tarball containing one.
	Unpacked bool
}

// MaxMindSource builds the download URL for a licensed MaxMind edition.
func MaxMindSource(licenseKey, edition string) DBSource {
	q := url.Values{}
	q.Set("edition_id", edition)
	q.Set("license_key", licenseKey)
	q.Set("suffix", "tar.gz")
	return DBSource{URL: maxMindDownload + "?" + q.Encode(), Unpacked: false}
}

// SourceFromEnv reads GEOIP_DB_URL, or GEOIP_DB_LICENSE_KEY together with
// GEOIP_DB_EDITION. It reports false when neither is configured.
func SourceFromEnv() (DBSource, bool) {
	if u := os.Getenv(EnvDBURL); u != "" {
		return DBSource{URL: u, Unpacked: true}, true
	}
	key, edition := os.Getenv(EnvLicenseKey), os.Getenv(EnvEdition)
	if key != "" && edition != "" {
		return MaxMindSource(key, edition), true
	}
	return DBSource{}, false
}

// Open downloads the database described by src and returns a sorter using
// it. Download or open failures are logged and yield a sorter that keeps
// replica order unchanged.
func Open(ctx context.Context, src DBSource, hc *http.Client, log *zap.SugaredLogger) *Sorter {
	log = logger.ComponentLogger(log, "replica")

	dir, err := os.MkdirTemp("", "geoip-")
	if err != nil {
		log.Errorw("Cannot create GeoIP download directory", logger.FieldError, err)
		return NewSorter()
	}

	path, err := fetchDB(ctx, src, dir, hc)
	if err != nil {
		log.Errorw("Failed to download GeoIP database, replicas will not be sorted", logger.FieldError, err)
		_ = removeAll(dir)
		return NewSorter()
	}

	s, err := OpenFile(path, log)
	if err != nil {
		log.Errorw("Failed to load GeoIP database, replicas will not be sorted", logger.FieldError, err)
		_ = removeAll(dir)
		return NewSorter()
	}
	s.dir = dir
	log.Infow("Loaded GeoIP database", "path", path)
	return s
}

// fetchDB retrieves src into dir and returns the path of the .mmdb file.
func fetchDB(ctx context.Context, src DBSource, dir string, hc *http.Client) (string, error) {
	if hc == nil {
		hc = http.DefaultClient
	}
	httpGetter := &getter.HttpGetter{Client: hc}

	client := &getter.Client{
		Ctx: ctx,
		Getters: map[string]getter.Getter{
			"http":  httpGetter,
			"https": httpGetter,
			"file":  new(getter.FileGetter),
		},
		Decompressors: map[string]getter.Decompressor{
			"tar.gz": new(getter.TarGzipDecompressor),
		},
	}

	if src.Unpacked {
		dst := filepath.Join(dir, "GeoIP.mmdb")
		client.Src = src.URL
		client.Dst = dst
		client.Mode = getter.ClientModeFile
		if err := client.Get(); err != nil {
			return "", errors.Wrap(err, "download GeoIP database")
		}
		return dst, nil
	}

	dst := filepath.Join(dir, "unpacked")
	client.Src = withArchive(src.URL, "tar.gz")
	client.Dst = dst
	client.Mode = getter.ClientModeDir
	if err := client.Get(); err != nil {
		return "", errors.Wrap(err, "download GeoIP tarball")
	}

	matches, err := filepath.Glob(filepath.Join(dst, "*", "*.mmdb"))
	if err != nil {
		return "", errors.Wrap(err, "search unpacked tarball")
	}
	if len(matches) == 0 {
		return "", errors.Newf("no */*.mmdb file in tarball from %s", redact(src.URL))
	}
	return matches[0], nil
}

// withArchive tells go-getter how to unpack a URL whose path has no archive
// extension.
func withArchive(raw, format string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("archive", format)
	u.RawQuery = q.Encode()
	return u.String()
}

// redact hides a license key in log output.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("license_key") {
		q.Set("license_key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func removeAll(dir string) error {
	return os.RemoveAll(dir)
}
