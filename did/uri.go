// Package did holds the dataset identifier (DID) model: parsing the query
// parameters ServiceX embeds in a DID, the normalized file record produced by
// resolvers, and the running summary reported when a lookup completes.
package did

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/ssl-hep/ServiceX-DID/errors"
)

// GetMode controls how resolver failures are treated.
type GetMode string

const (
	// ModeAll requires the full dataset; a resolver failure fails the request.
	ModeAll GetMode = "all"
	// ModeAvailable accepts whatever files were found before a failure.
	ModeAvailable GetMode = "available"
)

// Unbounded is the FileCount of a request that asked for every file.
const Unbounded = -1

// Query keys consumed by the library and stripped from the DID handed to
// resolvers.
const (
	queryGet   = "get"
	queryFiles = "files"
)

// ParsedDID is a DID with the library's query parameters pulled out.
type ParsedDID struct {
	// DID is the identifier to pass to the resolver, with "get" and "files"
	// removed and any other parameters preserved.
	DID string

	// Mode is how to treat resolver failures (default ModeAll).
	Mode GetMode

	// FileCount is the number of files requested, or Unbounded.
	FileCount int
}

// Bounded reports whether a specific number of files was requested.
func (p ParsedDID) Bounded() bool {
	return p.FileCount != Unbounded
}

// ParseURI splits the query string off a DID and interprets the "get" and
// "files" parameters.
//
// "get" defaults to "all" and the last occurrence wins. "files" defaults to
// Unbounded and the first occurrence wins. Remaining parameters are kept in
// first-seen key order, values grouped under their key, and re-joined as
// the key=value text they arrived as, escapes included.
func ParseURI(uri string) (ParsedDID, error) {
	if i := strings.IndexByte(uri, '#'); i >= 0 {
		uri = uri[:i]
	}

	path, rawQuery, _ := strings.Cut(uri, "?")
	params := parseQuery(rawQuery)

	mode := ModeAll
	if values := params.get(queryGet); len(values) > 0 {
		mode = GetMode(values[len(values)-1])
	}
	if mode != ModeAll && mode != ModeAvailable {
		return ParsedDID{}, errors.NewInvalidDIDError(
			`bad value for "get" string in DID - must be "all" or "available", not "%s"`, string(mode))
	}

	count := Unbounded
	if values := params.get(queryFiles); len(values) > 0 {
		n, err := strconv.Atoi(strings.TrimSpace(values[0]))
		if err != nil {
			return ParsedDID{}, errors.NewInvalidDIDError(
				`bad value for "files" in DID - must be an integer, not "%s"`, values[0])
		}
		count = n
	}

	params.del(queryGet)
	params.del(queryFiles)

	canonical := path
	if q := params.encode(); q != "" {
		canonical += "?" + q
	}

	return ParsedDID{DID: canonical, Mode: mode, FileCount: count}, nil
}

// orderedQuery is a multi-valued query that remembers key insertion order.
// Keys are matched decoded; pairs are re-emitted in their raw, still-escaped
// form.
type orderedQuery struct {
	keys   []string
	values map[string][]queryValue
}

type queryValue struct {
	decoded string
	raw     string
}

func parseQuery(raw string) *orderedQuery {
	q := &orderedQuery{values: make(map[string][]queryValue)}
	for _, part := range strings.Split(raw, "&") {
		key, value, ok := strings.Cut(part, "=")
		if !ok || value == "" {
			// blank values are dropped
			continue
		}
		key = unescape(key)
		if _, seen := q.values[key]; !seen {
			q.keys = append(q.keys, key)
		}
		q.values[key] = append(q.values[key], queryValue{decoded: unescape(value), raw: part})
	}
	return q
}

func (q *orderedQuery) get(key string) []string {
	values := q.values[key]
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.decoded
	}
	return out
}

func (q *orderedQuery) del(key string) {
	if _, ok := q.values[key]; !ok {
		return
	}
	delete(q.values, key)
	for i, k := range q.keys {
		if k == key {
			q.keys = append(q.keys[:i], q.keys[i+1:]...)
			break
		}
	}
}

func (q *orderedQuery) encode() string {
	var b strings.Builder
	for _, k := range q.keys {
		for _, v := range q.values[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(v.raw)
		}
	}
	return b.String()
}

// unescape decodes a query component, leaving it untouched when it holds an
// invalid escape sequence.
func unescape(s string) string {
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}
