package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ssl-hep/ServiceX-DID/errors"
	"github.com/ssl-hep/ServiceX-DID/logger"
)

// redisClient is the subset of Redis list commands used by RedisSource.
type redisClient interface {
	BLMove(ctx context.Context, source, destination, srcpos, destpos string, timeout time.Duration) (string, error)
	LMove(ctx context.Context, source, destination, srcpos, destpos string) (string, error)
	LRem(ctx context.Context, key string, count int64, value string) (int64, error)
	Close() error
}

type goRedisClient struct {
	client *redis.Client
}

var _ redisClient = (*goRedisClient)(nil)

func (c *goRedisClient) BLMove(ctx context.Context, source, destination, srcpos, destpos string, timeout time.Duration) (string, error) {
	return c.client.BLMove(ctx, source, destination, srcpos, destpos, timeout).Result()
}

func (c *goRedisClient) LMove(ctx context.Context, source, destination, srcpos, destpos string) (string, error) {
	return c.client.LMove(ctx, source, destination, srcpos, destpos).Result()
}

func (c *goRedisClient) LRem(ctx context.Context, key string, count int64, value string) (int64, error) {
	return c.client.LRem(ctx, key, count, value).Result()
}

func (c *goRedisClient) Close() error {
	return c.client.Close()
}

// RedisConfig describes a Redis list used as a request queue.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Queue is the list producers LPUSH onto.
	Queue string

	// BlockTimeout bounds each blocking pop so cancellation is noticed.
	BlockTimeout time.Duration
}

// ProcessingList is where in-flight messages wait for acknowledgement.
func (c RedisConfig) ProcessingList() string {
	return c.Queue + ":processing"
}

// RedisSource implements the reliable-queue pattern on a Redis list:
// messages are atomically moved to a processing list when taken and removed
// from it on Ack.
type RedisSource struct {
	cfg    RedisConfig
	client redisClient
	log    *zap.SugaredLogger
}

// NewRedisSource connects to Redis.
func NewRedisSource(ctx context.Context, cfg RedisConfig, log *zap.SugaredLogger) (*RedisSource, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		_ = rc.Close()
		return nil, errors.Wrapf(err, "failed to connect to Redis at %s", cfg.Addr)
	}
	return newRedisSource(cfg, &goRedisClient{client: rc}, log), nil
}

func newRedisSource(cfg RedisConfig, client redisClient, log *zap.SugaredLogger) *RedisSource {
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	return &RedisSource{
		cfg:    cfg,
		client: client,
		log:    logger.ComponentLogger(log, "redis").With(logger.FieldQueue, cfg.Queue),
	}
}

// Recover returns messages left in the processing list by a previous run to
// the head of the queue, so they are served next. It returns how many were
// moved.
func (s *RedisSource) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := s.client.LMove(ctx, s.cfg.ProcessingList(), s.cfg.Queue, "LEFT", "RIGHT")
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, errors.Wrap(err, "failed to recover in-flight requests")
		}
		moved++
	}
	if moved > 0 {
		s.log.Infow("Recovered in-flight DID requests", logger.FieldCount, moved)
	}
	return moved, nil
}

// Next blocks until a message arrives or ctx is cancelled.
func (s *RedisSource) Next(ctx context.Context) (Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		body, err := s.client.BLMove(ctx, s.cfg.Queue, s.cfg.ProcessingList(), "RIGHT", "LEFT", s.cfg.BlockTimeout)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if errors.Is(err, redis.ErrClosed) {
			return nil, ErrSourceClosed
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.Wrap(err, "failed to pop DID request")
		}
		return &redisDelivery{source: s, body: body}, nil
	}
}

// Close releases the connection pool.
func (s *RedisSource) Close() error {
	return s.client.Close()
}

type redisDelivery struct {
	source *RedisSource
	body   string
}

func (d *redisDelivery) Body() []byte { return []byte(d.body) }

func (d *redisDelivery) Ack() error {
	_, err := d.source.client.LRem(context.Background(), d.source.cfg.ProcessingList(), 1, d.body)
	if err != nil {
		return errors.Wrap(err, "failed to remove acknowledged request")
	}
	return nil
}
