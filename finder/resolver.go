// Package finder drives one DID lookup: it pulls file records from a
// Resolver, applies the hold/immediate accumulation policy, and reports the
// results through a Reporter.
package finder

import (
	"context"
	"iter"

	"github.com/ssl-hep/ServiceX-DID/did"
	"github.com/ssl-hep/ServiceX-DID/errors"
)

// RequestInfo carries per-request context handed to the resolver.
type RequestInfo struct {
	RequestID string
	DatasetID string

	// Args are finder-specific arguments supplied at startup.
	Args map[string]string
}

// Entry is one item produced by a resolver: either a single file or a batch
// of files. Build entries with Single or Bulk.
type Entry struct {
	File  *did.FileRecord
	Batch []did.FileRecord
}

// Single wraps one record.
func Single(rec did.FileRecord) Entry {
	return Entry{File: &rec}
}

// Bulk wraps a batch of records. An empty batch is valid.
func Bulk(recs []did.FileRecord) Entry {
	if recs == nil {
		recs = []did.FileRecord{}
	}
	return Entry{Batch: recs}
}

// Validate checks that exactly one of File or Batch is set.
func (e Entry) Validate() error {
	switch {
	case e.File != nil && e.Batch != nil:
		return errors.NewInvalidInputError("entry holds both a file and a batch")
	case e.File == nil && e.Batch == nil:
		return errors.NewInvalidInputError("entry holds neither a file nor a batch")
	}
	return nil
}

// Resolver turns a DID into a lazy sequence of entries.
//
// The sequence is finite and consumed once. A resolver reports failure by
// yielding a non-nil error, after which it must stop. The driver may stop
// ranging early; resolvers must honor a false return from yield.
type Resolver interface {
	Resolve(ctx context.Context, did string, info RequestInfo) iter.Seq2[Entry, error]
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, did string, info RequestInfo) iter.Seq2[Entry, error]

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, did string, info RequestInfo) iter.Seq2[Entry, error] {
	return f(ctx, did, info)
}

// Records adapts a plain slice to a sequence of single entries.
func Records(recs ...did.FileRecord) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for _, rec := range recs {
			if !yield(Single(rec), nil) {
				return
			}
		}
	}
}
