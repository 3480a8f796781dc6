package did

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssl-hep/ServiceX-DID/errors"
)

func TestRecordFromMap(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
		want FileRecord
	}{
		{
			name: "canonical keys",
			in: map[string]any{
				"paths":       []any{"root://a/f1", "root://b/f1"},
				"adler32":     "62c90a64",
				"file_size":   float64(22323),
				"file_events": float64(100),
			},
			want: FileRecord{Paths: []string{"root://a/f1", "root://b/f1"}, Adler32: "62c90a64", FileSize: 22323, FileEvents: 100},
		},
		{
			name: "alternate keys",
			in:   map[string]any{"paths": []string{"/tmp/foo"}, "bytes": 100, "events": int64(300)},
			want: FileRecord{Paths: []string{"/tmp/foo"}, FileSize: 100, FileEvents: 300},
		},
		{
			name: "null values count as zero",
			in:   map[string]any{"paths": []string{"/tmp/foo"}, "file_size": nil, "file_events": nil},
			want: FileRecord{Paths: []string{"/tmp/foo"}},
		},
		{
			name: "legacy file_path",
			in:   map[string]any{"file_path": "/tmp/bar", "adler32": 1234},
			want: FileRecord{Paths: []string{"/tmp/bar"}, Adler32: "1234"},
		},
		{
			name: "primary key wins over alternate",
			in:   map[string]any{"paths": []string{"/x"}, "file_size": 5, "bytes": 9},
			want: FileRecord{Paths: []string{"/x"}, FileSize: 5},
		},
		{
			name: "no paths",
			in:   map[string]any{"file_size": 5},
			want: FileRecord{FileSize: 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RecordFromMap(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecordFromMapDecodedJSON(t *testing.T) {
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"paths":["/a"],"bytes":10,"file_events":null}`), &m))

	rec, err := RecordFromMap(m)
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.FileSize)
	assert.Equal(t, int64(0), rec.FileEvents)
}

func TestRecordFromMapErrors(t *testing.T) {
	t.Run("non-string path", func(t *testing.T) {
		_, err := RecordFromMap(map[string]any{"paths": []any{"/a", 3}})
		require.Error(t, err)
		assert.True(t, errors.IsInvalidInputError(err))
	})

	t.Run("bad size", func(t *testing.T) {
		_, err := RecordFromMap(map[string]any{"paths": []string{"/a"}, "file_size": "big"})
		require.Error(t, err)
		assert.True(t, errors.IsInvalidInputError(err))
		assert.Contains(t, err.Error(), "file_size")
	})
}

func TestFileRecordPaths(t *testing.T) {
	assert.Equal(t, "", FileRecord{}.PrimaryPath())
	assert.False(t, FileRecord{}.HasPath())
	assert.False(t, FileRecord{Paths: []string{""}}.HasPath())

	rec := FileRecord{Paths: []string{"/a", "/b"}}
	assert.Equal(t, "/a", rec.PrimaryPath())
	assert.True(t, rec.HasPath())
}

func TestSummary(t *testing.T) {
	s := NewSummary("did")
	s.Add(FileRecord{FileSize: 22323, FileEvents: 100})
	assert.Equal(t, 1, s.Files)
	assert.Equal(t, int64(22323), s.TotalBytes)
	assert.Equal(t, int64(100), s.TotalEvents)

	s.Add(FileRecord{FileSize: 100, FileEvents: 300})
	s.Skip()
	assert.Equal(t, 2, s.Files)
	assert.Equal(t, 1, s.FilesSkipped)
	assert.Equal(t, int64(22423), s.TotalBytes)
	assert.Equal(t, int64(400), s.TotalEvents)

	assert.Equal(t, "DID did - 0 Mb 400 Events in 2 files (1 skipped)", s.String())
}

func TestSummaryReport(t *testing.T) {
	s := &Summary{DID: "d", Files: 3, FilesSkipped: 1, TotalBytes: 3_000_000, TotalEvents: 42}

	report := s.Report(2*time.Second + 900*time.Millisecond)
	assert.Equal(t, CompletionReport{Files: 3, FilesSkipped: 1, TotalEvents: 42, TotalBytes: 3_000_000, ElapsedTime: 2}, report)

	body, err := json.Marshal(report)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"files":3,"files-skipped":1,"total-events":42,"total-bytes":3000000,"elapsed-time":2}`,
		string(body))

	assert.Equal(t, "DID d - 3 Mb 42 Events in 3 files (1 skipped)", s.String())
}
