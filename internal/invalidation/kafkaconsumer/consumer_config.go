package kafkaconsumer

import (
	"time"

	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/config"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
	RetryBackoff        time.Duration
}

func FromConfig(c config.InvalidationCfg) Config {
	return Config{
		Brokers:          c.BrokerList(),
		Topic:            c.Topic,
		GroupID:          c.GroupID,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
		// only changes after startup matter; the cache starts empty
		InitialOffsetOldest: false,
		RetryBackoff:        2 * time.Second,
	}
}
