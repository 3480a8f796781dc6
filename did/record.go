package did

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/ssl-hep/ServiceX-DID/errors"
)

// FileRecord describes one file of a dataset as reported to ServiceX.
type FileRecord struct {
	// Paths lists replica locations for the file, best first.
	Paths      []string `json:"paths"`
	Adler32    string   `json:"adler32"`
	FileSize   int64    `json:"file_size"`
	FileEvents int64    `json:"file_events"`
}

// PrimaryPath returns the first replica path, or "" when there is none.
func (r FileRecord) PrimaryPath() string {
	if len(r.Paths) == 0 {
		return ""
	}
	return r.Paths[0]
}

// HasPath reports whether the record carries at least one non-empty path.
func (r FileRecord) HasPath() bool {
	for _, p := range r.Paths {
		if p != "" {
			return true
		}
	}
	return false
}

// Alternate key names accepted by RecordFromMap, in lookup order.
var (
	sizeKeys   = []string{"file_size", "bytes"}
	eventsKeys = []string{"file_events", "events"}
)

// RecordFromMap normalizes a loosely shaped record, as produced by resolvers
// written against a dictionary interface, into a FileRecord.
//
// Size is read from "file_size" or "bytes", events from "file_events" or
// "events"; the first key present wins and null counts as zero. Paths come
// from "paths" (a list) or the legacy single "file_path".
func RecordFromMap(m map[string]any) (FileRecord, error) {
	var rec FileRecord

	switch paths := m["paths"].(type) {
	case nil:
		if fp, ok := m["file_path"].(string); ok && fp != "" {
			rec.Paths = []string{fp}
		}
	case []string:
		rec.Paths = append([]string(nil), paths...)
	case []any:
		for i, p := range paths {
			s, ok := p.(string)
			if !ok {
				return FileRecord{}, errors.NewInvalidInputError("paths[%d] is %T, not a string", i, p)
			}
			rec.Paths = append(rec.Paths, s)
		}
	case string:
		rec.Paths = []string{paths}
	default:
		return FileRecord{}, errors.NewInvalidInputError("paths is %T, not a list of strings", paths)
	}

	switch sum := m["adler32"].(type) {
	case nil:
	case string:
		rec.Adler32 = sum
	default:
		rec.Adler32 = fmt.Sprint(sum)
	}

	var err error
	if rec.FileSize, err = firstInt(m, sizeKeys); err != nil {
		return FileRecord{}, err
	}
	if rec.FileEvents, err = firstInt(m, eventsKeys); err != nil {
		return FileRecord{}, err
	}
	return rec, nil
}

func firstInt(m map[string]any, keys []string) (int64, error) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		n, err := toInt64(v)
		if err != nil {
			return 0, errors.Wrapf(err, "field %q", k)
		}
		return n, nil
	}
	return 0, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, errors.NewInvalidInputError("value %d overflows int64", n)
		}
		return int64(n), nil
	case float64:
		return int64(n), nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, errors.NewInvalidInputError("not a number: %q", n.String())
		}
		return int64(f), nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, errors.NewInvalidInputError("not an integer: %q", n)
		}
		return i, nil
	default:
		return 0, errors.NewInvalidInputError("unsupported numeric type %T", v)
	}
}
