// Package redissub feeds table invalidation events from a Redis pub/sub
// channel into an invalidation.Applier.
package redissub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/postgis-tile-cache/internal/invalidation"
)

type Option func(*redis.Options)

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

type Subscriber struct {
	rdb     *redis.Client
	channel string
	logger  *slog.Logger
	apply   *invalidation.Applier
}

// New connects to addr and checks it answers PING.
func New(ctx context.Context, addr, channel string, logger *slog.Logger, apply *invalidation.Applier, opts ...Option) (*Subscriber, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	if channel == "" {
		return nil, errors.New("redis channel is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	ro := &redis.Options{
		Addr:        addr,
		PoolSize:    4,
		DialTimeout: 2 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Subscriber{rdb: rdb, channel: channel, logger: logger, apply: apply}, nil
}

// Run subscribes and applies events until ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	if s.apply == nil {
		return errors.New("redissub: missing applier")
	}
	ps := s.rdb.Subscribe(ctx, s.channel)
	defer func() { _ = ps.Close() }()

	// wait for the subscription confirmation so no event published after Run
	// returns from here is missed
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	s.logger.Info("redis invalidation subscriber started", "channel", s.channel)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("redis invalidation subscriber shutting down")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redissub: subscription closed")
			}
			if err := s.apply.Handle(ctx, []byte(msg.Payload)); err != nil {
				s.logger.WarnContext(ctx, "skipping invalid event", "channel", msg.Channel, "err", err)
			}
		}
	}
}

// Publish sends ev on the subscriber's channel and returns the receiver count.
func (s *Subscriber) Publish(ctx context.Context, ev invalidation.Event) (int64, error) {
	return Publish(ctx, s.rdb, s.channel, ev)
}

func Publish(ctx context.Context, rdb redis.UniversalClient, channel string, ev invalidation.Event) (int64, error) {
	if err := ev.Validate(); err != nil {
		return 0, fmt.Errorf("publish: %w", err)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("publish: %w", err)
	}
	n, err := rdb.Publish(ctx, channel, b).Result()
	if err != nil {
		return 0, fmt.Errorf("redis publish: %w", err)
	}
	return n, nil
}

func (s *Subscriber) Close() error { return s.rdb.Close() }
