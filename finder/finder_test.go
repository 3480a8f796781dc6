package finder

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssl-hep/ServiceX-DID/did"
	"github.com/ssl-hep/ServiceX-DID/errors"
)

type statusCall struct {
	Info     string
	Severity Severity
}

// recordingReporter captures every report in call order.
type recordingReporter struct {
	calls      []string
	statuses   []statusCall
	preflights []did.FileRecord
	files      []did.FileRecord
	bulks      [][]did.FileRecord
	complete   []did.CompletionReport
}

func (r *recordingReporter) PostStatus(_ context.Context, info string, severity Severity) {
	r.calls = append(r.calls, "status")
	r.statuses = append(r.statuses, statusCall{Info: info, Severity: severity})
}

func (r *recordingReporter) Preflight(_ context.Context, first did.FileRecord) {
	r.calls = append(r.calls, "preflight")
	r.preflights = append(r.preflights, first)
}

func (r *recordingReporter) PutFile(_ context.Context, rec did.FileRecord) {
	r.calls = append(r.calls, "file")
	r.files = append(r.files, rec)
}

func (r *recordingReporter) PutFiles(_ context.Context, recs []did.FileRecord) {
	r.calls = append(r.calls, "bulk")
	r.bulks = append(r.bulks, append([]did.FileRecord(nil), recs...))
}

func (r *recordingReporter) PutComplete(_ context.Context, report did.CompletionReport) {
	r.calls = append(r.calls, "complete")
	r.complete = append(r.complete, report)
}

func (r *recordingReporter) allPaths() []string {
	var out []string
	for _, f := range r.files {
		out = append(out, f.PrimaryPath())
	}
	for _, b := range r.bulks {
		for _, f := range b {
			out = append(out, f.PrimaryPath())
		}
	}
	return out
}

func rec(path string, size, events int64) did.FileRecord {
	return did.FileRecord{Paths: []string{path}, Adler32: "0", FileSize: size, FileEvents: events}
}

// sequence yields entries then, if failWith is set, an error.
func sequence(failWith error, entries ...Entry) Resolver {
	return ResolverFunc(func(context.Context, string, RequestInfo) iter.Seq2[Entry, error] {
		return func(yield func(Entry, error) bool) {
			for _, e := range entries {
				if !yield(e, nil) {
					return
				}
			}
			if failWith != nil {
				yield(Entry{}, failWith)
			}
		}
	})
}

func fixedClock(step time.Duration) func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		now := t
		t = t.Add(step)
		return now
	}
}

func TestAccumulator(t *testing.T) {
	ctx := context.Background()

	t.Run("immediate mode forwards each file", func(t *testing.T) {
		rep := &recordingReporter{}
		s := did.NewSummary("d")
		acc := NewAccumulator(rep, s, false, nil)

		require.NoError(t, acc.Add(ctx, Single(rec("/tmp/foo", 10, 1))))
		require.NoError(t, acc.Add(ctx, Single(rec("/tmp/bar", 20, 2))))

		assert.Equal(t, []string{"preflight", "file", "file"}, rep.calls)
		assert.Equal(t, "/tmp/foo", rep.preflights[0].PrimaryPath())
		assert.Equal(t, 2, s.Files)
		assert.Equal(t, int64(30), s.TotalBytes)
		assert.Equal(t, int64(3), s.TotalEvents)
	})

	t.Run("immediate mode bulk", func(t *testing.T) {
		rep := &recordingReporter{}
		s := did.NewSummary("d")
		acc := NewAccumulator(rep, s, false, nil)

		require.NoError(t, acc.Add(ctx, Bulk([]did.FileRecord{rec("/a", 1, 1), rec("/b", 1, 1)})))
		require.NoError(t, acc.Add(ctx, Bulk([]did.FileRecord{rec("/c", 1, 1)})))

		assert.Equal(t, []string{"preflight", "bulk", "bulk"}, rep.calls)
		assert.Equal(t, 3, s.Files)
	})

	t.Run("hold mode buffers until flush", func(t *testing.T) {
		rep := &recordingReporter{}
		s := did.NewSummary("d")
		acc := NewAccumulator(rep, s, true, nil)

		require.NoError(t, acc.Add(ctx, Single(rec("/tmp/foo", 1, 1))))
		require.NoError(t, acc.Add(ctx, Single(rec("/tmp/bar", 1, 1))))
		assert.Empty(t, rep.calls)
		assert.Equal(t, 0, s.Files)
		assert.Equal(t, 2, acc.Buffered())

		acc.Flush(ctx, 1)
		assert.Equal(t, []string{"preflight", "bulk"}, rep.calls)
		assert.Equal(t, []string{"/tmp/bar"}, rep.allPaths())
		assert.Equal(t, 1, s.Files)
		assert.False(t, acc.Holding())
		assert.Equal(t, 0, acc.Buffered())
	})

	t.Run("flush sorts and keeps all with negative limit", func(t *testing.T) {
		rep := &recordingReporter{}
		acc := NewAccumulator(rep, did.NewSummary("d"), true, nil)

		require.NoError(t, acc.Add(ctx, Bulk([]did.FileRecord{rec("/c", 1, 1), rec("/a", 1, 1)})))
		require.NoError(t, acc.Add(ctx, Single(rec("/b", 1, 1))))
		acc.Flush(ctx, -1)

		assert.Equal(t, []string{"/a", "/b", "/c"}, rep.allPaths())
	})

	t.Run("flush is a no-op in immediate mode", func(t *testing.T) {
		rep := &recordingReporter{}
		acc := NewAccumulator(rep, did.NewSummary("d"), false, nil)
		acc.Flush(ctx, 3)
		assert.Empty(t, rep.calls)
	})

	t.Run("flush with nothing buffered sends nothing", func(t *testing.T) {
		rep := &recordingReporter{}
		acc := NewAccumulator(rep, did.NewSummary("d"), true, nil)
		acc.Flush(ctx, 3)
		assert.Empty(t, rep.calls)
	})

	t.Run("files without paths are skipped", func(t *testing.T) {
		rep := &recordingReporter{}
		s := did.NewSummary("d")
		acc := NewAccumulator(rep, s, false, nil)

		require.NoError(t, acc.Add(ctx, Single(did.FileRecord{FileSize: 5})))
		require.NoError(t, acc.Add(ctx, Bulk([]did.FileRecord{{}, rec("/a", 1, 1)})))

		assert.Equal(t, 2, s.FilesSkipped)
		assert.Equal(t, 1, s.Files)
		assert.Equal(t, []string{"preflight", "bulk"}, rep.calls)
	})

	t.Run("hold mode counts skipped files at flush", func(t *testing.T) {
		rep := &recordingReporter{}
		s := did.NewSummary("d")
		acc := NewAccumulator(rep, s, true, nil)

		require.NoError(t, acc.Add(ctx, Bulk([]did.FileRecord{{}, rec("/a", 1, 1)})))
		assert.Equal(t, 0, s.FilesSkipped)
		assert.Equal(t, 1, acc.Buffered())

		acc.Flush(ctx, -1)
		assert.Equal(t, 1, s.FilesSkipped)
		assert.Equal(t, 1, s.Files)
	})

	t.Run("invalid entry", func(t *testing.T) {
		acc := NewAccumulator(&recordingReporter{}, did.NewSummary("d"), false, nil)

		r := rec("/a", 1, 1)
		err := acc.Add(ctx, Entry{File: &r, Batch: []did.FileRecord{r}})
		assert.True(t, errors.IsInvalidInputError(err))

		err = acc.Add(ctx, Entry{})
		assert.True(t, errors.IsInvalidInputError(err))
	})
}

func TestFlushOrderIndependent(t *testing.T) {
	ctx := context.Background()
	orders := [][]string{
		{"/d", "/a", "/c", "/b"},
		{"/b", "/c", "/a", "/d"},
		{"/a", "/b", "/c", "/d"},
	}

	var selections [][]string
	for _, order := range orders {
		rep := &recordingReporter{}
		acc := NewAccumulator(rep, did.NewSummary("d"), true, nil)
		for _, p := range order {
			require.NoError(t, acc.Add(ctx, Single(rec(p, 1, 1))))
		}
		acc.Flush(ctx, 2)
		selections = append(selections, rep.allPaths())
	}

	for _, sel := range selections {
		assert.Equal(t, []string{"/a", "/b"}, sel)
	}
}

func TestLookup(t *testing.T) {
	ctx := context.Background()

	t.Run("streams files and completes", func(t *testing.T) {
		rep := &recordingReporter{}
		d := NewDriver(sequence(nil, Single(rec("/tmp/foo", 100, 10)), Single(rec("/tmp/bar", 200, 20))),
			WithClock(fixedClock(3*time.Second)))

		res, err := d.Lookup(ctx, "forkit", RequestInfo{RequestID: "r1"}, rep)
		require.NoError(t, err)

		assert.Equal(t, StateCompleted, res.State)
		assert.Equal(t, []string{"preflight", "file", "file", "complete", "status"}, rep.calls)
		assert.Equal(t, did.CompletionReport{
			Files: 2, TotalEvents: 30, TotalBytes: 300, ElapsedTime: 3,
		}, rep.complete[0])
		assert.Equal(t, statusCall{Info: "Completed load of files in 3 seconds", Severity: SeverityInfo}, rep.statuses[0])
	})

	t.Run("bounded request keeps sorted subset", func(t *testing.T) {
		rep := &recordingReporter{}
		d := NewDriver(sequence(nil, Single(rec("/tmp/foo", 1, 1)), Single(rec("/tmp/bar", 1, 1))))

		res, err := d.Lookup(ctx, "forkit?files=1", RequestInfo{}, rep)
		require.NoError(t, err)

		assert.Equal(t, []string{"/tmp/bar"}, rep.allPaths())
		assert.Equal(t, 1, res.Summary.Files)
		assert.Equal(t, 1, rep.complete[0].Files)
	})

	t.Run("resolver sees stripped DID", func(t *testing.T) {
		var seen string
		var seenInfo RequestInfo
		res := ResolverFunc(func(_ context.Context, d string, info RequestInfo) iter.Seq2[Entry, error] {
			seen, seenInfo = d, info
			return Records(rec("/a", 1, 1))
		})

		_, err := NewDriver(res).Lookup(ctx, "scope:ds?get=available&files=3&x=1",
			RequestInfo{RequestID: "r", Args: map[string]string{"k": "v"}}, &recordingReporter{})
		require.NoError(t, err)
		assert.Equal(t, "scope:ds?x=1", seen)
		assert.Equal(t, "v", seenInfo.Args["k"])
	})

	t.Run("parse error never invokes resolver", func(t *testing.T) {
		called := false
		res := ResolverFunc(func(context.Context, string, RequestInfo) iter.Seq2[Entry, error] {
			called = true
			return Records()
		})
		rep := &recordingReporter{}

		result, err := NewDriver(res).Lookup(ctx, "forkit?get=bogus", RequestInfo{}, rep)
		require.Error(t, err)
		assert.True(t, errors.IsInvalidDIDError(err))
		assert.False(t, called)
		assert.Equal(t, StateStarted, result.State)
		assert.Empty(t, rep.calls)
	})

	t.Run("zero files", func(t *testing.T) {
		rep := &recordingReporter{}
		res, err := NewDriver(sequence(nil)).Lookup(ctx, "empty-ds", RequestInfo{}, rep)
		require.NoError(t, err)

		assert.Equal(t, StateFailedEmpty, res.State)
		assert.Equal(t, 0, res.Summary.Files)
		assert.Equal(t, []string{"status", "complete", "status"}, rep.calls)
		assert.Equal(t, statusCall{Info: "DID Finder found zero files for dataset empty-ds", Severity: SeverityFatal}, rep.statuses[0])
		assert.Equal(t, 0, rep.complete[0].Files)
	})

	// Product decision: in all mode a resolver failure flushes what was found,
	// skips /complete and returns the error.
	t.Run("failure in all mode reports found files without summary", func(t *testing.T) {
		rep := &recordingReporter{}
		boom := errors.New("rucio went away")
		d := NewDriver(sequence(boom, Single(rec("/a", 1, 1))))

		res, err := d.Lookup(ctx, "forkit", RequestInfo{}, rep)
		require.Error(t, err)
		assert.True(t, errors.IsResolverError(err))
		assert.True(t, errors.Is(err, boom))
		assert.Equal(t, StateFailedPartial, res.State)
		assert.Equal(t, []string{"/a"}, rep.allPaths())
		assert.Empty(t, rep.complete)
	})

	t.Run("failure in all mode flushes held files", func(t *testing.T) {
		rep := &recordingReporter{}
		d := NewDriver(sequence(errors.New("boom"), Single(rec("/b", 1, 1)), Single(rec("/a", 1, 1))))

		res, err := d.Lookup(ctx, "forkit?files=5", RequestInfo{}, rep)
		require.Error(t, err)
		assert.Equal(t, []string{"/a", "/b"}, rep.allPaths())
		assert.Equal(t, 2, res.Summary.Files)
		assert.Empty(t, rep.complete)
	})

	t.Run("failure in available mode completes", func(t *testing.T) {
		rep := &recordingReporter{}
		d := NewDriver(sequence(errors.New("boom"), Single(rec("/a", 7, 3))))

		res, err := d.Lookup(ctx, "forkit?get=available", RequestInfo{}, rep)
		require.NoError(t, err)
		assert.Equal(t, StateCompleted, res.State)
		assert.Equal(t, []string{"/a"}, rep.allPaths())
		require.Len(t, rep.complete, 1)
		assert.Equal(t, 1, rep.complete[0].Files)
	})

	t.Run("invalid entry is returned", func(t *testing.T) {
		rep := &recordingReporter{}
		d := NewDriver(sequence(nil, Entry{}))

		res, err := d.Lookup(ctx, "forkit", RequestInfo{}, rep)
		require.Error(t, err)
		assert.True(t, errors.IsInvalidInputError(err))
		assert.Equal(t, StateFailedPartial, res.State)
		assert.Empty(t, rep.complete)
	})

	t.Run("cancelled context stops streaming", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := NewDriver(sequence(nil, Single(rec("/a", 1, 1)))).Lookup(cctx, "forkit", RequestInfo{}, &recordingReporter{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
	})
}
