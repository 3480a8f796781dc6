package finder

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ssl-hep/ServiceX-DID/did"
	"github.com/ssl-hep/ServiceX-DID/errors"
	"github.com/ssl-hep/ServiceX-DID/logger"
)

// State is where a lookup ended up.
type State string

const (
	StateStarted       State = "started"
	StateStreaming     State = "streaming"
	StateCompleted     State = "completed"
	StateFailedEmpty   State = "failed_empty"
	StateFailedPartial State = "failed_partial"
)

// Result describes a finished lookup.
type Result struct {
	State   State
	Summary *did.Summary
	Elapsed time.Duration
}

// Driver runs lookups against a resolver.
type Driver struct {
	resolver Resolver
	log      *zap.SugaredLogger
	now      func() time.Time
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithLogger sets the driver's logger.
func WithLogger(log *zap.SugaredLogger) DriverOption {
	return func(d *Driver) {
		if log != nil {
			d.log = log
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) DriverOption {
	return func(d *Driver) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDriver creates a driver for resolver.
func NewDriver(resolver Resolver, opts ...DriverOption) *Driver {
	d := &Driver{
		resolver: resolver,
		log:      logger.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = logger.ComponentLogger(d.log, "driver")
	return d
}

// Lookup resolves rawDID and reports every file through rep.
//
// A DID that fails to parse is returned before the resolver runs. When the
// resolver fails, "get=available" requests keep what was found and complete
// normally; "get=all" requests report the files already found and return the
// failure without sending a completion summary. A lookup that finds no files
// posts a fatal status and still completes.
func (d *Driver) Lookup(ctx context.Context, rawDID string, info RequestInfo, rep Reporter) (Result, error) {
	start := d.now()
	res := Result{State: StateStarted}

	parsed, err := did.ParseURI(rawDID)
	if err != nil {
		return res, err
	}

	log := logger.FromContext(ctx, d.log).With(
		logger.FieldDID, parsed.DID,
		logger.FieldMode, string(parsed.Mode),
		logger.FieldFileCount, parsed.FileCount,
	)

	res.Summary = did.NewSummary(rawDID)
	res.State = StateStreaming
	acc := NewAccumulator(rep, res.Summary, parsed.Bounded(), log)

	for entry, rerr := range d.resolver.Resolve(ctx, parsed.DID, info) {
		if err := ctx.Err(); err != nil {
			res.State = StateFailedPartial
			res.Elapsed = d.now().Sub(start)
			return res, errors.Wrap(err, "lookup cancelled")
		}

		if rerr != nil {
			if parsed.Mode == did.ModeAvailable {
				log.Warnw("Resolver failed, keeping available files", logger.FieldError, rerr)
				break
			}
			acc.Flush(ctx, parsed.FileCount)
			res.State = StateFailedPartial
			res.Elapsed = d.now().Sub(start)
			log.Errorw("Resolver failed", logger.FieldError, rerr, logger.FieldFiles, res.Summary.Files)
			return res, errors.WrapResolver(rerr, parsed.DID)
		}

		if err := acc.Add(ctx, entry); err != nil {
			res.State = StateFailedPartial
			res.Elapsed = d.now().Sub(start)
			return res, err
		}
	}

	acc.Flush(ctx, parsed.FileCount)

	res.Elapsed = d.now().Sub(start)
	res.State = StateCompleted
	if res.Summary.Files == 0 {
		res.State = StateFailedEmpty
		rep.PostStatus(ctx, fmt.Sprintf("DID Finder found zero files for dataset %s", rawDID), SeverityFatal)
	}

	report := res.Summary.Report(res.Elapsed)
	rep.PutComplete(ctx, report)
	rep.PostStatus(ctx, fmt.Sprintf("Completed load of files in %d seconds", report.ElapsedTime), SeverityInfo)

	log.Infow(res.Summary.String(),
		logger.FieldState, string(res.State),
		logger.FieldElapsed, report.ElapsedTime,
	)
	return res, nil
}
