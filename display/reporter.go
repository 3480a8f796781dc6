// Package display renders lookup reports on a terminal, either pretty-printed
// with pterm or as a stream of JSON events. Used by dry runs that have no
// ServiceX instance to talk to.
package display

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/ssl-hep/ServiceX-DID/did"
	"github.com/ssl-hep/ServiceX-DID/finder"
)

// Reporter is a finder.Reporter that prints instead of posting. Totals are
// tallied so callers can render them after the lookup.
type Reporter interface {
	finder.Reporter
	Totals() Totals
}

// Totals counts what a Reporter has printed.
type Totals struct {
	Files    int  `json:"files"`
	Batches  int  `json:"batches"`
	Statuses int  `json:"statuses"`
	Complete bool `json:"complete"`
}

type tally struct {
	mu sync.Mutex
	t  Totals
}

func (t *tally) update(f func(*Totals)) {
	t.mu.Lock()
	f(&t.t)
	t.mu.Unlock()
}

func (t *tally) Totals() Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.t
}

// TerminalReporter prints reports to a terminal using pterm.
type TerminalReporter struct {
	tally
	w         io.Writer
	verbosity int
}

// NewTerminalReporter writes to w, or stdout when w is nil. At verbosity 0
// individual file paths are omitted and debug statuses are hidden.
func NewTerminalReporter(w io.Writer, verbosity int) *TerminalReporter {
	if w == nil {
		w = os.Stdout
	}
	return &TerminalReporter{w: w, verbosity: verbosity}
}

func (r *TerminalReporter) PostStatus(_ context.Context, info string, severity finder.Severity) {
	r.update(func(t *Totals) { t.Statuses++ })
	switch severity {
	case finder.SeverityFatal:
		pterm.Error.WithWriter(r.w).Println(info)
	case finder.SeverityDebug:
		if r.verbosity > 0 {
			pterm.Fprintln(r.w, pterm.Gray(info))
		}
	default:
		pterm.Info.WithWriter(r.w).Println(info)
	}
}

func (r *TerminalReporter) Preflight(_ context.Context, first did.FileRecord) {
	pterm.Fprintln(r.w, pterm.LightCyan("preflight:")+" "+first.PrimaryPath())
}

func (r *TerminalReporter) PutFile(_ context.Context, rec did.FileRecord) {
	r.update(func(t *Totals) { t.Files++ })
	r.printFile(rec)
}

func (r *TerminalReporter) PutFiles(_ context.Context, recs []did.FileRecord) {
	r.update(func(t *Totals) {
		t.Files += len(recs)
		t.Batches++
	})
	pterm.Fprintln(r.w, fmt.Sprintf("%s %s files", pterm.LightCyan("batch:"), pterm.Green(len(recs))))
	for _, rec := range recs {
		r.printFile(rec)
	}
}

func (r *TerminalReporter) printFile(rec did.FileRecord) {
	if r.verbosity <= 0 {
		return
	}
	pterm.Fprintln(r.w, fmt.Sprintf("  %s %s", rec.PrimaryPath(),
		pterm.Gray(fmt.Sprintf("%d bytes %d events", rec.FileSize, rec.FileEvents))))
	for _, replica := range rec.Paths[min(1, len(rec.Paths)):] {
		pterm.Fprintln(r.w, "    "+pterm.Gray("replica "+replica))
	}
}

func (r *TerminalReporter) PutComplete(_ context.Context, report did.CompletionReport) {
	r.update(func(t *Totals) { t.Complete = true })
	pterm.Success.WithWriter(r.w).Printfln("%d files, %d skipped, %d events, %d bytes in %d seconds",
		report.Files, report.FilesSkipped, report.TotalEvents, report.TotalBytes, report.ElapsedTime)
}

// Event is one line of JSONReporter output.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// JSONReporter writes one Event per call as a JSON line.
type JSONReporter struct {
	tally
	mu  sync.Mutex
	enc *json.Encoder
	now func() time.Time
}

// NewJSONReporter writes to w, or stdout when w is nil.
func NewJSONReporter(w io.Writer) *JSONReporter {
	if w == nil {
		w = os.Stdout
	}
	return &JSONReporter{enc: json.NewEncoder(w), now: time.Now}
}

func (r *JSONReporter) emit(kind string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.enc.Encode(Event{Type: kind, Timestamp: r.now(), Data: data})
}

func (r *JSONReporter) PostStatus(_ context.Context, info string, severity finder.Severity) {
	r.update(func(t *Totals) { t.Statuses++ })
	r.emit("status", map[string]any{"info": info, "severity": string(severity)})
}

func (r *JSONReporter) Preflight(_ context.Context, first did.FileRecord) {
	r.emit("preflight", map[string]any{"file_path": first.PrimaryPath()})
}

func (r *JSONReporter) PutFile(_ context.Context, rec did.FileRecord) {
	r.update(func(t *Totals) { t.Files++ })
	r.emit("file", map[string]any{"file": rec})
}

func (r *JSONReporter) PutFiles(_ context.Context, recs []did.FileRecord) {
	r.update(func(t *Totals) {
		t.Files += len(recs)
		t.Batches++
	})
	r.emit("files", map[string]any{"count": len(recs), "files": recs})
}

func (r *JSONReporter) PutComplete(_ context.Context, report did.CompletionReport) {
	r.update(func(t *Totals) { t.Complete = true })
	r.emit("complete", map[string]any{"report": report})
}

var (
	_ Reporter = (*TerminalReporter)(nil)
	_ Reporter = (*JSONReporter)(nil)
)
