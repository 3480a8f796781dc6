package finder

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/ssl-hep/ServiceX-DID/did"
	"github.com/ssl-hep/ServiceX-DID/logger"
)

// Accumulator decides when resolved files reach the Reporter.
//
// In immediate mode every file is forwarded as it arrives. In hold mode files
// are buffered until Flush, which orders them by path and keeps only the
// requested count. An Accumulator serves a single request.
type Accumulator struct {
	reporter Reporter
	summary  *did.Summary
	log      *zap.SugaredLogger

	hold      bool
	buffer    []did.FileRecord
	skipped   int
	preflight bool
}

// NewAccumulator returns an accumulator that updates summary and reports to
// r. hold selects buffering.
func NewAccumulator(r Reporter, summary *did.Summary, hold bool, log *zap.SugaredLogger) *Accumulator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Accumulator{reporter: r, summary: summary, hold: hold, log: log}
}

// Holding reports whether files are being buffered.
func (a *Accumulator) Holding() bool {
	return a.hold
}

// Buffered returns the number of files waiting for Flush.
func (a *Accumulator) Buffered() int {
	return len(a.buffer)
}

// Add accepts one resolver entry. Files without any path are dropped and
// counted as skipped, in hold mode only once Flush runs. A malformed entry is returned as an invalid-input error.
func (a *Accumulator) Add(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	var recs []did.FileRecord
	if e.File != nil {
		recs = a.keep([]did.FileRecord{*e.File})
	} else {
		recs = a.keep(e.Batch)
	}
	if len(recs) == 0 {
		return nil
	}

	if a.hold {
		a.buffer = append(a.buffer, recs...)
		return nil
	}

	if e.File != nil {
		a.send(ctx, recs[0])
	} else {
		a.sendBulk(ctx, recs)
	}
	return nil
}

// Flush releases buffered files. Buffered records are stably sorted by their
// path list; when limit >= 0 only the first limit are sent and the rest are
// discarded. Afterwards the accumulator forwards immediately. Flush does
// nothing outside hold mode.
func (a *Accumulator) Flush(ctx context.Context, limit int) {
	if !a.hold {
		return
	}
	a.hold = false

	for ; a.skipped > 0; a.skipped-- {
		a.summary.Skip()
	}
	buf := a.buffer
	a.buffer = nil

	slices.SortStableFunc(buf, func(x, y did.FileRecord) int {
		return slices.Compare(x.Paths, y.Paths)
	})
	if limit >= 0 && limit < len(buf) {
		a.log.Debugw("Truncating held files", logger.FieldCount, len(buf), logger.FieldFileCount, limit)
		buf = buf[:limit]
	}
	if len(buf) == 0 {
		return
	}
	a.sendBulk(ctx, buf)
}

func (a *Accumulator) keep(recs []did.FileRecord) []did.FileRecord {
	kept := recs[:0:0]
	for _, rec := range recs {
		if !rec.HasPath() {
			if a.hold {
				a.skipped++
			} else {
				a.summary.Skip()
			}
			a.log.Warnw("Skipping file with no path", logger.FieldDID, a.summary.DID)
			continue
		}
		kept = append(kept, rec)
	}
	return kept
}

func (a *Accumulator) send(ctx context.Context, rec did.FileRecord) {
	a.signalFirst(ctx, rec)
	a.summary.Add(rec)
	a.reporter.PutFile(ctx, rec)
}

func (a *Accumulator) sendBulk(ctx context.Context, recs []did.FileRecord) {
	a.signalFirst(ctx, recs[0])
	for _, rec := range recs {
		a.summary.Add(rec)
	}
	a.reporter.PutFiles(ctx, recs)
}

func (a *Accumulator) signalFirst(ctx context.Context, rec did.FileRecord) {
	if a.preflight {
		return
	}
	a.preflight = true
	a.reporter.Preflight(ctx, rec)
}
