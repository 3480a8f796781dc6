// Package replica orders file replicas by their great-circle distance from a
// reference location, using a MaxMind GeoIP City database to place replica
// hosts.
package replica

import (
	"cmp"
	"context"
	"math"
	"net"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/oschwald/maxminddb-golang"
	"go.uber.org/zap"

	"github.com/ssl-hep/ServiceX-DID/errors"
	"github.com/ssl-hep/ServiceX-DID/logger"
)

// Unknown is the angular distance given to hosts that cannot be placed. It is
// the largest possible separation, so such replicas sort last.
const Unknown = math.Pi

// Location is a point in signed decimal degrees.
type Location struct {
	Latitude  float64 `mapstructure:"latitude" json:"latitude"`
	Longitude float64 `mapstructure:"longitude" json:"longitude"`
}

// Haversine returns the angular distance between two points, in radians.
func Haversine(a, b Location) float64 {
	dLat := radians(b.Latitude - a.Latitude)
	dLon := radians(b.Longitude - a.Longitude)
	h := (1-math.Cos(dLat))/2 +
		math.Cos(radians(a.Latitude))*math.Cos(radians(b.Latitude))*(1-math.Cos(dLon))/2
	return 2 * math.Asin(math.Sqrt(h))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// cityRecord is the part of a GeoIP2/GeoLite2 City record we read.
type cityRecord struct {
	Location struct {
		Latitude  *float64 `maxminddb:"latitude"`
		Longitude *float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
}

// locator places a host, reporting false when it cannot.
type locator func(ctx context.Context, host string) (Location, bool)

type cacheKey struct {
	host string
	loc  Location
}

// Sorter orders replica URLs. A Sorter without a database leaves every list
// in its original order. Safe for concurrent use.
type Sorter struct {
	locate locator
	reader *maxminddb.Reader
	log    *zap.SugaredLogger
	dir    string

	mu    sync.Mutex
	cache map[cacheKey]float64
}

// NewSorter returns a sorter that never reorders.
func NewSorter() *Sorter {
	return &Sorter{log: logger.NewNop(), cache: make(map[cacheKey]float64)}
}

// OpenFile loads a MaxMind database from path.
func OpenFile(path string, log *zap.SugaredLogger) (*Sorter, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open GeoIP database %s", path)
	}
	s := NewSorter()
	s.log = logger.ComponentLogger(log, "replica")
	s.reader = reader
	s.locate = readerLocator(reader, net.DefaultResolver)
	return s, nil
}

func readerLocator(reader *maxminddb.Reader, resolver *net.Resolver) locator {
	return func(ctx context.Context, host string) (Location, bool) {
		ip := net.ParseIP(host)
		if ip == nil {
			ips, err := resolver.LookupIP(ctx, "ip4", host)
			if err != nil || len(ips) == 0 {
				return Location{}, false
			}
			ip = ips[0]
		}
		var rec cityRecord
		if err := reader.Lookup(ip, &rec); err != nil {
			return Location{}, false
		}
		if rec.Location.Latitude == nil || rec.Location.Longitude == nil {
			return Location{}, false
		}
		return Location{Latitude: *rec.Location.Latitude, Longitude: *rec.Location.Longitude}, true
	}
}

// Enabled reports whether a database is loaded.
func (s *Sorter) Enabled() bool {
	return s != nil && s.locate != nil
}

// Sort returns replicas ordered nearest first relative to loc. Ties keep
// lexical order. The input slice is not modified.
func (s *Sorter) Sort(ctx context.Context, replicas []string, loc Location) []string {
	out := slices.Clone(replicas)
	if !s.Enabled() || len(replicas) < 2 {
		return out
	}

	dist := make(map[string]float64, len(out))
	for _, r := range out {
		dist[r] = s.distance(ctx, hostOf(r), loc)
	}
	slices.SortStableFunc(out, func(a, b string) int {
		if c := cmp.Compare(dist[a], dist[b]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	return out
}

func (s *Sorter) distance(ctx context.Context, host string, loc Location) float64 {
	key := cacheKey{host: host, loc: loc}

	s.mu.Lock()
	d, ok := s.cache[key]
	s.mu.Unlock()
	if ok {
		return d
	}

	d = Unknown
	if host != "" {
		if site, found := s.locate(ctx, host); found {
			d = Haversine(site, loc)
		} else {
			s.log.Debugw("Could not place replica host", "host", host)
		}
	}

	s.mu.Lock()
	s.cache[key] = d
	s.mu.Unlock()
	return d
}

func hostOf(replica string) string {
	u, err := url.Parse(replica)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Close releases the database and any downloaded files.
func (s *Sorter) Close() error {
	if s == nil {
		return nil
	}
	var err error
	if s.reader != nil {
		err = s.reader.Close()
	}
	if s.dir != "" {
		err = errors.CombineErrors(err, removeAll(s.dir))
	}
	return err
}
