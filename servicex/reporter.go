package servicex

import (
	"context"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/ssl-hep/ServiceX-DID/did"
	"github.com/ssl-hep/ServiceX-DID/finder"
	"github.com/ssl-hep/ServiceX-DID/logger"
)

// Operation names, used as URL path elements and metric labels.
const (
	OpStatus    = "status"
	OpFiles     = "files"
	OpPreflight = "preflight"
	OpStart     = "start"
	OpComplete  = "complete"
)

// Reporter sends the results of one request to ServiceX.
type Reporter struct {
	client        *Client
	base          string
	datasetScoped bool
	log           *zap.SugaredLogger
}

var _ finder.Reporter = (*Reporter)(nil)

type fileMessage struct {
	Timestamp  string   `json:"timestamp"`
	Paths      []string `json:"paths"`
	Adler32    string   `json:"adler32"`
	FileSize   int64    `json:"file_size"`
	FileEvents int64    `json:"file_events"`
}

type preflightMessage struct {
	FilePath string `json:"file_path"`
}

func (r *Reporter) url(op string) string {
	return r.base + "/" + op
}

func (r *Reporter) fileMessage(rec did.FileRecord) fileMessage {
	return fileMessage{
		Timestamp:  r.client.timestamp(),
		Paths:      r.client.prefixed(rec.Paths),
		Adler32:    rec.Adler32,
		FileSize:   rec.FileSize,
		FileEvents: rec.FileEvents,
	}
}

// PostStatus sends a form-encoded status update.
func (r *Reporter) PostStatus(ctx context.Context, info string, severity finder.Severity) {
	form := url.Values{
		"timestamp": {r.client.timestamp()},
		"source":    {StatusSource},
		"severity":  {string(severity)},
		"info":      {info},
	}
	r.client.send(ctx, r.log, OpStatus, http.MethodPost, r.url(OpStatus),
		"application/x-www-form-urlencoded", []byte(form.Encode()))
}

// Preflight tells ServiceX the first file is known. Dataset-scoped targets
// receive POST /start; older targets receive POST /preflight with the path.
func (r *Reporter) Preflight(ctx context.Context, first did.FileRecord) {
	if r.datasetScoped {
		r.client.send(ctx, r.log, OpStart, http.MethodPost, r.url(OpStart), "application/json", nil)
		return
	}
	path := ""
	if paths := r.client.prefixed(first.Paths); len(paths) > 0 {
		path = paths[0]
	}
	r.client.sendJSON(ctx, r.log, OpPreflight, http.MethodPost, r.url(OpPreflight), preflightMessage{FilePath: path})
}

// PutFile reports one file.
func (r *Reporter) PutFile(ctx context.Context, rec did.FileRecord) {
	r.client.sendJSON(ctx, r.log, OpFiles, http.MethodPut, r.url(OpFiles), r.fileMessage(rec))
}

// PutFiles reports files in chunks of Config.BulkChunkSize. Each chunk is
// delivered independently.
func (r *Reporter) PutFiles(ctx context.Context, recs []did.FileRecord) {
	size := r.client.cfg.BulkChunkSize
	for start := 0; start < len(recs); start += size {
		end := min(start+size, len(recs))
		chunk := make([]fileMessage, 0, end-start)
		for _, rec := range recs[start:end] {
			chunk = append(chunk, r.fileMessage(rec))
		}
		if !r.client.sendJSON(ctx, r.log, OpFiles, http.MethodPut, r.url(OpFiles), chunk) {
			r.log.Warnw("Dropped bulk file chunk", logger.FieldBatchSize, len(chunk))
		}
	}
}

// PutComplete reports the final summary.
func (r *Reporter) PutComplete(ctx context.Context, report did.CompletionReport) {
	r.client.sendJSON(ctx, r.log, OpComplete, http.MethodPut, r.url(OpComplete), report)
}
