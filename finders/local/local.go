// Package local is a DID finder over a directory tree. A DID names a
// directory below the root; every regular file under it is reported, with
// its size and adler32 checksum, as a local path plus one replica per
// configured mirror.
package local

import (
	"context"
	"fmt"
	"hash/adler32"
	"io"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ssl-hep/ServiceX-DID/did"
	"github.com/ssl-hep/ServiceX-DID/errors"
	"github.com/ssl-hep/ServiceX-DID/finder"
	"github.com/ssl-hep/ServiceX-DID/logger"
	"github.com/ssl-hep/ServiceX-DID/replica"
)

// Name is the finder name, giving the queue "local_did_requests".
const Name = "local"

// Resolver arguments, read from RequestInfo.Args.
const (
	// ArgRoot overrides the root directory.
	ArgRoot = "root"

	// ArgMirrors is a comma separated list of URL prefixes the tree is also
	// served from, e.g. "root://xrootd.example.org:1094//data".
	ArgMirrors = "mirrors"

	// ArgPattern filters file names with a shell pattern.
	ArgPattern = "pattern"

	// ArgBatch reports files in batches of this size instead of one by one.
	ArgBatch = "batch"
)

// Resolver lists files under Root.
type Resolver struct {
	Root     string
	Mirrors  []string
	Sorter   *replica.Sorter
	Location replica.Location

	log *zap.SugaredLogger
}

// New creates a resolver for root. The sorter may be nil.
func New(root string, sorter *replica.Sorter, loc replica.Location, log *zap.SugaredLogger) *Resolver {
	return &Resolver{
		Root:     root,
		Sorter:   sorter,
		Location: loc,
		log:      logger.ComponentLogger(log, "local"),
	}
}

type options struct {
	root    string
	mirrors []string
	pattern string
	batch   int
}

func (r *Resolver) options(info finder.RequestInfo) (options, error) {
	opts := options{root: r.Root, mirrors: r.Mirrors}
	if v := info.Args[ArgRoot]; v != "" {
		opts.root = v
	}
	if v := info.Args[ArgMirrors]; v != "" {
		opts.mirrors = splitList(v)
	}
	if v := info.Args[ArgPattern]; v != "" {
		if _, err := path.Match(v, ""); err != nil {
			return opts, errors.Wrapf(err, "bad %s argument %q", ArgPattern, v)
		}
		opts.pattern = v
	}
	if v := info.Args[ArgBatch]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return opts, errors.Newf("bad %s argument %q", ArgBatch, v)
		}
		opts.batch = n
	}
	if opts.root == "" {
		return opts, errors.New("no root directory configured")
	}
	abs, err := filepath.Abs(opts.root)
	if err != nil {
		return opts, errors.Wrapf(err, "resolve root %s", opts.root)
	}
	opts.root = abs
	return opts, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Resolve walks the directory named by name in lexical order.
func (r *Resolver) Resolve(ctx context.Context, name string, info finder.RequestInfo) iter.Seq2[finder.Entry, error] {
	return func(yield func(finder.Entry, error) bool) {
		opts, err := r.options(info)
		if err != nil {
			yield(finder.Entry{}, err)
			return
		}

		// Clean against "/" so the DID cannot escape the root.
		rel := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(name)), "/")
		dir := filepath.Join(opts.root, filepath.FromSlash(rel))
		log := logger.FromContext(ctx, r.log).With(logger.FieldDID, name)
		log.Debugw("Walking dataset directory", "dir", dir)

		var batch []did.FileRecord
		stopped := false
		emit := func(rec did.FileRecord) bool {
			if opts.batch == 0 {
				return yield(finder.Single(rec), nil)
			}
			batch = append(batch, rec)
			if len(batch) < opts.batch {
				return true
			}
			out := batch
			batch = nil
			return yield(finder.Bulk(out), nil)
		}

		walkErr := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if opts.pattern != "" {
				if ok, _ := path.Match(opts.pattern, d.Name()); !ok {
					return nil
				}
			}
			rec, err := r.record(ctx, opts, p)
			if err != nil {
				return err
			}
			if !emit(rec) {
				stopped = true
				return fs.SkipAll
			}
			return nil
		})
		if stopped {
			return
		}
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				walkErr = errors.WithHint(errors.Wrapf(walkErr, "dataset %s not found", name),
					"DIDs name a directory below "+opts.root)
			}
			// Files already found are still reported for get=available.
			if len(batch) > 0 && !yield(finder.Bulk(batch), nil) {
				return
			}
			yield(finder.Entry{}, walkErr)
			return
		}
		if len(batch) > 0 {
			yield(finder.Bulk(batch), nil)
		}
	}
}

// record describes the file at p, which lies below opts.root.
func (r *Resolver) record(ctx context.Context, opts options, p string) (did.FileRecord, error) {
	size, sum, err := checksum(p)
	if err != nil {
		return did.FileRecord{}, err
	}

	rel, err := filepath.Rel(opts.root, p)
	if err != nil {
		return did.FileRecord{}, errors.Wrapf(err, "locate %s", p)
	}
	rel = filepath.ToSlash(rel)

	replicas := make([]string, 0, len(opts.mirrors))
	for _, m := range opts.mirrors {
		replicas = append(replicas, strings.TrimRight(m, "/")+"/"+rel)
	}
	paths := append([]string{"file://" + filepath.ToSlash(p)}, r.Sorter.Sort(ctx, replicas, r.Location)...)

	return did.FileRecord{
		Paths:    paths,
		Adler32:  sum,
		FileSize: size,
	}, nil
}

// checksum returns the size and zero-padded hex adler32 of the file at p.
func checksum(p string) (int64, string, error) {
	f, err := os.Open(p)
	if err != nil {
		return 0, "", errors.Wrapf(err, "open %s", p)
	}
	defer f.Close()

	h := adler32.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", errors.Wrapf(err, "read %s", p)
	}
	return n, fmt.Sprintf("%08x", h.Sum32()), nil
}

var _ finder.Resolver = (*Resolver)(nil)
