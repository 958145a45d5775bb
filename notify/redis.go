/*
redis.go - Redis Pub/Sub notifier

PURPOSE:
  Publishes committed planilla mutations as JSON envelopes on one Redis
  channel. The service calls Notify after commit; a failed publish is
  returned to the service, which logs it and moves on.

MESSAGE FORMAT:
  {"event":"planilla.updated","at":"2025-03-04T10:00:00Z","payload":{...}}

SEE ALSO:
  - recargo/notify.go: Notifier interface and event names
  - config/config.go: RedisConfig
*/
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultChannel = "recargo.planillas"
	defaultTimeout = 2 * time.Second
)

// Envelope is the published message.
type Envelope struct {
	Event   string    `json:"event"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// RedisNotifier implements recargo.Notifier over PUBLISH.
type RedisNotifier struct {
	client     *redis.Client
	ownsClient bool
	channel    string
	timeout    time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// Option configures a RedisNotifier.
type Option func(*RedisNotifier)

// WithChannel sets the Pub/Sub channel.
func WithChannel(channel string) Option {
	return func(n *RedisNotifier) { n.channel = channel }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(n *RedisNotifier) { n.logger = l }
}

// WithTimeout bounds each publish.
func WithTimeout(d time.Duration) Option {
	return func(n *RedisNotifier) { n.timeout = d }
}

// Config is the connection part of the notifier setup.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Dial connects to Redis and checks the connection with PING. The
// returned notifier owns the client and closes it on Close.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	n := NewRedisNotifier(client, opts...)
	n.ownsClient = true
	return n, nil
}

// NewRedisNotifier wraps an existing client. The caller keeps ownership
// of it.
func NewRedisNotifier(client *redis.Client, opts ...Option) *RedisNotifier {
	n := &RedisNotifier{
		client:  client,
		channel: DefaultChannel,
		timeout: defaultTimeout,
		logger:  zap.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify publishes event with payload.
func (n *RedisNotifier) Notify(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(Envelope{Event: event, At: n.now(), Payload: payload})
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	receivers, err := n.client.Publish(ctx, n.channel, data).Result()
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", event, n.channel, err)
	}

	n.logger.Debug("event published",
		zap.String("event", event),
		zap.String("channel", n.channel),
		zap.Int64("receivers", receivers),
	)
	return nil
}

// Close releases the client when the notifier created it.
func (n *RedisNotifier) Close() error {
	if !n.ownsClient {
		return nil
	}
	return n.client.Close()
}
