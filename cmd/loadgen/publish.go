package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"

	"github.com/mohammed-shakir/postgis-tile-cache/internal/invalidation"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/invalidation/redissub"
)

type publisher interface {
	Publish(ctx context.Context, table string) error
	Close() error
}

func newPublisher(ctx context.Context, cfg Config) (publisher, error) {
	switch cfg.Driver {
	case "kafka":
		return newKafkaPublisher(strings.Split(cfg.Brokers, ","), cfg.Topic)
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DialTimeout: 2 * time.Second})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return &redisPublisher{rdb: rdb, channel: cfg.Channel}, nil
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}

func newEvent(table string) invalidation.Event {
	return invalidation.Event{
		Version: 1,
		Op:      "update",
		Table:   table,
		TS:      time.Now().UTC(),
		Source:  "loadgen",
	}
}

type kafkaPublisher struct {
	prod  sarama.SyncProducer
	topic string
}

func newKafkaPublisher(brokers []string, topic string) (*kafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Version = sarama.V3_6_0_0
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("producer create: %w", err)
	}
	return &kafkaPublisher{prod: prod, topic: topic}, nil
}

func (k *kafkaPublisher) Publish(_ context.Context, table string) error {
	b, err := json.Marshal(newEvent(table))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	// keyed by table so one table's events stay ordered on one partition
	_, _, err = k.prod.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(table),
		Value: sarama.ByteEncoder(b),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (k *kafkaPublisher) Close() error { return k.prod.Close() }

type redisPublisher struct {
	rdb     *redis.Client
	channel string
}

func (r *redisPublisher) Publish(ctx context.Context, table string) error {
	_, err := redissub.Publish(ctx, r.rdb, r.channel, newEvent(table))
	return err
}

func (r *redisPublisher) Close() error { return r.rdb.Close() }
