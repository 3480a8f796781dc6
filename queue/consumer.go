package queue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ssl-hep/ServiceX-DID/errors"
	"github.com/ssl-hep/ServiceX-DID/logger"
	"github.com/ssl-hep/ServiceX-DID/metrics"
)

// ErrSourceClosed is returned by Source.Next after Close.
var ErrSourceClosed = errors.New("queue source closed")

// Delivery is one message taken from a Source.
type Delivery interface {
	Body() []byte
	Ack() error
}

// Source yields deliveries one at a time. Next blocks until a message is
// available or ctx is cancelled.
type Source interface {
	Next(ctx context.Context) (Delivery, error)
	Close() error
}

// FailureNotifier tells ServiceX that a request could not be served.
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, req Request, message string)
}

// Consumer pulls requests from a Source and runs them through a Registry,
// strictly one at a time. Every delivery is acknowledged, whatever happens
// while handling it.
type Consumer struct {
	source   Source
	registry *Registry
	notifier FailureNotifier
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerLogger sets the consumer's logger.
func WithConsumerLogger(log *zap.SugaredLogger) ConsumerOption {
	return func(c *Consumer) { c.log = log }
}

// WithNotifier sets where handler failures are reported.
func WithNotifier(n FailureNotifier) ConsumerOption {
	return func(c *Consumer) { c.notifier = n }
}

// WithConsumerMetrics records request outcomes.
func WithConsumerMetrics(m *metrics.Metrics) ConsumerOption {
	return func(c *Consumer) { c.metrics = m }
}

// NewConsumer creates a consumer reading src.
func NewConsumer(src Source, registry *Registry, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		source:   src,
		registry: registry,
		log:      logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logger.ComponentLogger(c.log, "consumer")
	return c
}

// Run processes deliveries until ctx is cancelled or the source fails.
// Cancellation is a clean stop and returns nil.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Infow("Waiting for DID requests", "tasks", c.registry.Names())
	for {
		d, err := c.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrSourceClosed) {
				c.log.Infow("Consumer stopped")
				return nil
			}
			return errors.Wrap(err, "failed to receive DID request")
		}
		c.Process(ctx, d)
	}
}

// Process handles one delivery and acknowledges it.
func (c *Consumer) Process(ctx context.Context, d Delivery) {
	defer func() {
		if err := d.Ack(); err != nil {
			c.log.Errorw("Failed to acknowledge DID request", logger.FieldError, err)
		}
	}()

	req, err := DecodeRequest(d.Body())
	if err != nil {
		c.log.Errorw("Dropping malformed DID request",
			logger.FieldError, err,
			"body", truncate(d.Body(), 512))
		c.metrics.RequestFinished("", "malformed")
		return
	}

	handler, task, err := c.registry.Lookup(req.Task)
	req.Task = task

	reqCtx := logger.WithRequestID(ctx, req.RequestID)
	reqCtx = logger.WithDatasetID(reqCtx, req.DatasetID)
	log := logger.FromContext(reqCtx, c.log).With(logger.FieldTask, task)

	if err == nil {
		log.Infow("Received DID request", logger.FieldDID, req.DID)
		start := time.Now()
		err = c.invoke(reqCtx, handler, req)
		log = log.With(logger.FieldElapsed, time.Since(start).Seconds())
	}

	if err != nil {
		if ctx.Err() != nil {
			log.Warnw("DID request interrupted by shutdown", logger.FieldError, err)
			c.metrics.RequestFinished(task, "cancelled")
			return
		}
		log.Errorw("DID request failed", logger.FieldError, err)
		c.metrics.RequestFinished(task, "failed")
		if c.notifier != nil {
			c.notifier.NotifyFailure(reqCtx, req, fmt.Sprintf("DID Request Failed for id %s: %s", req.ID(), err))
		}
		return
	}

	log.Infow("DID request done")
	c.metrics.RequestFinished(task, "ok")
}

// invoke runs the handler, converting a panic into an error.
func (c *Consumer) invoke(ctx context.Context, h TaskHandler, req Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("task %s panicked: %v", req.Task, r)
		}
	}()
	return h.Handle(ctx, req)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
