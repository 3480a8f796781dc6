// Package app assembles a DID finder process: it consumes lookup requests
// from the broker, runs them through a resolver and reports the results to
// ServiceX.
package app

import (
	"context"
	"maps"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ssl-hep/ServiceX-DID/config"
	"github.com/ssl-hep/ServiceX-DID/errors"
	"github.com/ssl-hep/ServiceX-DID/finder"
	"github.com/ssl-hep/ServiceX-DID/logger"
	"github.com/ssl-hep/ServiceX-DID/metrics"
	"github.com/ssl-hep/ServiceX-DID/queue"
	"github.com/ssl-hep/ServiceX-DID/replica"
	"github.com/ssl-hep/ServiceX-DID/servicex"
	"github.com/ssl-hep/ServiceX-DID/version"
)

// ReceivedStatus is posted to ServiceX as soon as a request is picked up.
const ReceivedStatus = "DID Request received"

// App is one finder process.
type App struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	metrics  *metrics.Metrics
	client   *servicex.Client
	driver   *finder.Driver
	registry *queue.Registry
	sorter   *replica.Sorter

	openSource func(ctx context.Context) (queue.Source, error)
	httpClient *http.Client
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the process logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(a *App) { a.log = log }
}

// WithMetrics replaces the metrics registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithSorter hands the app a replica sorter to close on shutdown.
func WithSorter(s *replica.Sorter) Option {
	return func(a *App) { a.sorter = s }
}

// WithHTTPClient replaces the client used to reach ServiceX.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *App) { a.httpClient = hc }
}

// WithSource replaces the broker connection, for tests and embedders.
func WithSource(open func(ctx context.Context) (queue.Source, error)) Option {
	return func(a *App) { a.openSource = open }
}

// New wires resolver into a finder process configured by cfg. The default
// task "<finder>.lookup_dataset" is registered.
func New(cfg *config.Config, resolver finder.Resolver, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if resolver == nil {
		return nil, errors.New("app: nil resolver")
	}

	a := &App{cfg: cfg, log: logger.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = metrics.New(cfg.Finder.Name)
	}
	a.log = logger.ChildLogger(a.log, "finder", cfg.Finder.Name)

	clientOpts := []servicex.Option{
		servicex.WithLogger(a.log),
		servicex.WithMetrics(a.metrics),
		servicex.WithUserAgent(version.Get().UserAgent(cfg.Finder.Name)),
	}
	if a.httpClient != nil {
		clientOpts = append(clientOpts, servicex.WithHTTPClient(a.httpClient))
	}
	a.client = servicex.NewClient(servicex.Config{
		BulkChunkSize: cfg.ServiceX.BulkChunkSize,
		RetryMax:      cfg.ServiceX.RetryMax,
		RetryWait:     cfg.ServiceX.RetryWait,
		Timeout:       cfg.ServiceX.Timeout,
		RateLimit:     cfg.ServiceX.RateLimit,
		RateBurst:     cfg.ServiceX.RateBurst,
		PathPrefix:    cfg.ServiceX.Prefix,
	}, clientOpts...)

	a.driver = finder.NewDriver(resolver, finder.WithLogger(a.log))

	a.registry = queue.NewRegistry(queue.DefaultTaskName(cfg.Finder.Name))
	a.registry.Register(a.registry.DefaultTask(), queue.TaskHandlerFunc(a.Lookup))

	if a.openSource == nil {
		a.openSource = a.brokerSource
	}
	return a, nil
}

// Register adds an extra task handler.
func (a *App) Register(name string, handler queue.TaskHandler) {
	a.registry.Register(name, handler)
}

// Registry exposes the task table.
func (a *App) Registry() *queue.Registry { return a.registry }

// Metrics exposes the process metrics.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// QueueName is the queue this finder consumes.
func (a *App) QueueName() string {
	if a.cfg.Queue.Name != "" {
		return a.cfg.Queue.Name
	}
	return queue.QueueName(a.cfg.Finder.Name)
}

// Lookup handles one request: it acknowledges receipt to ServiceX, resolves
// the DID and reports the files.
func (a *App) Lookup(ctx context.Context, req queue.Request) error {
	rep, err := a.client.For(servicex.Target{Endpoint: req.Endpoint, DatasetID: req.DatasetID})
	if err != nil {
		return err
	}
	rep.PostStatus(ctx, ReceivedStatus, finder.SeverityInfo)

	_, err = a.Resolve(ctx, req, rep)
	return err
}

// Resolve runs the driver for req against any reporter.
func (a *App) Resolve(ctx context.Context, req queue.Request, rep finder.Reporter) (finder.Result, error) {
	info := finder.RequestInfo{
		RequestID: req.RequestID,
		DatasetID: req.DatasetID,
		Args:      maps.Clone(a.cfg.Finder.Args),
	}
	res, err := a.driver.Lookup(ctx, req.DID, info, rep)
	if res.Summary != nil {
		a.metrics.LookupObserved(string(res.State), res.Elapsed, res.Summary.Files, res.Summary.FilesSkipped)
	}
	return res, err
}

// DryRun resolves rawDID outside of any queue, under a generated request id.
func (a *App) DryRun(ctx context.Context, rawDID string, rep finder.Reporter) (finder.Result, error) {
	return a.Resolve(ctx, queue.Request{DID: rawDID, RequestID: uuid.NewString()}, rep)
}

// NotifyFailure posts a fatal status for a request that failed.
func (a *App) NotifyFailure(ctx context.Context, req queue.Request, message string) {
	rep, err := a.client.For(servicex.Target{Endpoint: req.Endpoint, DatasetID: req.DatasetID})
	if err != nil {
		a.log.Errorw("Cannot report DID request failure",
			logger.FieldRequestID, req.ID(),
			logger.FieldError, err)
		return
	}
	rep.PostStatus(ctx, message, finder.SeverityFatal)
}

// brokerSource connects to the configured queue backend.
func (a *App) brokerSource(ctx context.Context) (queue.Source, error) {
	q := a.cfg.Queue
	switch q.Backend {
	case config.BackendRedis:
		src, err := queue.NewRedisSource(ctx, queue.RedisConfig{
			Addr:         q.Redis.Addr,
			Password:     q.Redis.Password,
			DB:           q.Redis.DB,
			Queue:        a.QueueName(),
			BlockTimeout: q.Redis.BlockTimeout,
		}, a.log)
		if err != nil {
			return nil, err
		}
		if n, err := src.Recover(ctx); err != nil {
			a.log.Warnw("Failed to requeue unacknowledged requests", logger.FieldError, err)
		} else if n > 0 {
			a.log.Infow("Requeued unacknowledged requests", logger.FieldCount, n)
		}
		return src, nil
	case config.BackendAMQP, "":
		return queue.NewAMQPSource(queue.AMQPConfig{
			URL:           q.RabbitURI,
			Queue:         a.QueueName(),
			Retries:       q.Retries,
			RetryInterval: q.RetryInterval,
			Prefetch:      q.Prefetch,
		}, a.log), nil
	}
	return nil, errors.Mark(errors.Newf("unknown queue backend %q", q.Backend), errors.ErrInvalidConfig)
}

// Run consumes requests until ctx is cancelled or the broker gives up. The
// metrics endpoint, when configured, runs alongside and stops with it.
func (a *App) Run(ctx context.Context) error {
	src, err := a.openSource(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to open request queue")
	}
	defer func() {
		if err := src.Close(); err != nil {
			a.log.Warnw("Failed to close request queue", logger.FieldError, err)
		}
	}()

	consumer := queue.NewConsumer(src, a.registry,
		queue.WithConsumerLogger(a.log),
		queue.WithNotifier(a),
		queue.WithConsumerMetrics(a.metrics))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if addr := a.cfg.Metrics.Address; addr != "" {
		g.Go(func() error { return a.metrics.Serve(gctx, addr, a.log) })
	}
	g.Go(func() error {
		defer cancel()
		a.log.Infow("Starting DID finder",
			logger.FieldQueue, a.QueueName(),
			"backend", a.cfg.Queue.Backend,
			"version", version.Get().Short())
		return consumer.Run(gctx)
	})
	return g.Wait()
}

// Close releases the replica database.
func (a *App) Close() error {
	return a.sorter.Close()
}

// OpenSorter builds the replica sorter described by g. A local database file
// is preferred over a download. Failures leave replicas unsorted.
func OpenSorter(ctx context.Context, g config.GeoIPConfig, hc *http.Client, log *zap.SugaredLogger) *replica.Sorter {
	if log == nil {
		log = logger.NewNop()
	}
	if g.DBPath != "" {
		s, err := replica.OpenFile(g.DBPath, log)
		if err != nil {
			log.Errorw("Failed to load GeoIP database, replicas will not be sorted", logger.FieldError, err)
			return replica.NewSorter()
		}
		return s
	}
	if src, ok := g.Source(); ok {
		return replica.Open(ctx, src, hc, log)
	}
	return replica.NewSorter()
}

var _ queue.FailureNotifier = (*App)(nil)
