package finder

import (
	"context"

	"github.com/ssl-hep/ServiceX-DID/did"
)

// Severity of a status message.
type Severity string

const (
	SeverityDebug Severity = "debug"
	SeverityInfo  Severity = "info"
	SeverityFatal Severity = "fatal"
)

// Reporter receives the outcome of a lookup. Implementations handle their own
// delivery failures; nothing is returned to the caller.
type Reporter interface {
	// PostStatus sends a human-readable status line.
	PostStatus(ctx context.Context, info string, severity Severity)

	// Preflight signals that the first file of the dataset is available.
	Preflight(ctx context.Context, first did.FileRecord)

	// PutFile reports a single file.
	PutFile(ctx context.Context, rec did.FileRecord)

	// PutFiles reports a batch of files.
	PutFiles(ctx context.Context, recs []did.FileRecord)

	// PutComplete reports the final summary.
	PutComplete(ctx context.Context, report did.CompletionReport)
}
