package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/ssl-hep/ServiceX-DID/errors"
	"github.com/ssl-hep/ServiceX-DID/logger"
)

// QueueName returns the request queue for a finder.
func QueueName(finder string) string {
	return finder + "_did_requests"
}

// AMQPConfig describes the RabbitMQ connection.
type AMQPConfig struct {
	URL   string
	Queue string

	// Retries is the number of reconnection attempts after a failure;
	// RetryInterval is the pause between them.
	Retries       int
	RetryInterval time.Duration

	// Prefetch limits unacknowledged deliveries held by this consumer.
	Prefetch int
}

// Subset of *amqp.Connection and *amqp.Channel used here.
type amqpConnection interface {
	Channel() (amqpChannel, error)
	Close() error
}

type amqpChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

type amqpDialer func(url string) (amqpConnection, error)

type connAdapter struct{ *amqp.Connection }

func (c connAdapter) Channel() (amqpChannel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func dialAMQP(url string) (amqpConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return connAdapter{conn}, nil
}

// AMQPSource consumes requests from a RabbitMQ queue with manual
// acknowledgement. A lost connection is re-established on the next call to
// Next, within the configured retry budget.
type AMQPSource struct {
	cfg   AMQPConfig
	dial  amqpDialer
	sleep func(ctx context.Context, d time.Duration) error
	log   *zap.SugaredLogger
	tag   string

	mu         sync.Mutex
	conn       amqpConnection
	ch         amqpChannel
	deliveries <-chan amqp.Delivery
	closed     bool
}

// NewAMQPSource creates a source. No connection is made until Next.
func NewAMQPSource(cfg AMQPConfig, log *zap.SugaredLogger) *AMQPSource {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	return &AMQPSource{
		cfg:   cfg,
		dial:  dialAMQP,
		sleep: sleepContext,
		log:   logger.ComponentLogger(log, "amqp").With(logger.FieldQueue, cfg.Queue),
		tag:   "did-finder-" + uuid.NewString(),
	}
}

// Next returns the next delivery, reconnecting if needed.
func (s *AMQPSource) Next(ctx context.Context) (Delivery, error) {
	for {
		deliveries, err := s.ensureConnected(ctx)
		if err != nil {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case d, ok := <-deliveries:
			if ok {
				return amqpDelivery{d}, nil
			}
			s.mu.Lock()
			closed := s.closed
			s.resetLocked()
			s.mu.Unlock()
			if closed {
				return nil, ErrSourceClosed
			}
			s.log.Warnw("Lost connection to RabbitMQ, reconnecting")
		}
	}
}

func (s *AMQPSource) ensureConnected(ctx context.Context) (<-chan amqp.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSourceClosed
	}
	if s.deliveries != nil {
		return s.deliveries, nil
	}

	for attempt := 1; ; attempt++ {
		err := s.connectLocked()
		if err == nil {
			s.log.Infow("Connected to RabbitMQ, ready to consume requests")
			return s.deliveries, nil
		}
		if attempt > s.cfg.Retries {
			s.log.Errorw("Giving up connecting to RabbitMQ",
				logger.FieldAttempt, attempt, logger.FieldError, err)
			return nil, errors.Wrapf(err, "failed to connect to RabbitMQ after %d tries", attempt)
		}
		s.log.Warnw("Failed to connect to RabbitMQ, waiting before trying again",
			logger.FieldAttempt, attempt,
			"retry_in", s.cfg.RetryInterval.String(),
			logger.FieldError, err)
		if err := s.sleep(ctx, s.cfg.RetryInterval); err != nil {
			return nil, err
		}
	}
}

func (s *AMQPSource) connectLocked() error {
	conn, err := s.dial(s.cfg.URL)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "open channel")
	}
	if err := ch.Qos(s.cfg.Prefetch, 0, false); err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "set prefetch")
	}
	if _, err := ch.QueueDeclare(s.cfg.Queue, false, false, false, false, nil); err != nil {
		_ = conn.Close()
		return errors.Wrapf(err, "declare queue %s", s.cfg.Queue)
	}
	deliveries, err := ch.Consume(s.cfg.Queue, s.tag, false, false, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return errors.Wrapf(err, "consume from %s", s.cfg.Queue)
	}
	s.conn, s.ch, s.deliveries = conn, ch, deliveries
	return nil
}

func (s *AMQPSource) resetLocked() {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn, s.ch, s.deliveries = nil, nil, nil
}

// Close shuts the connection. Pending Next calls return ErrSourceClosed.
func (s *AMQPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	var err error
	if s.conn != nil {
		err = s.conn.Close()
	}
	s.conn, s.ch, s.deliveries = nil, nil, nil
	return err
}

type amqpDelivery struct{ d amqp.Delivery }

func (a amqpDelivery) Body() []byte { return a.d.Body }

func (a amqpDelivery) Ack() error { return a.d.Ack(false) }

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
