package realtime

import (
	"context"
	"fmt"
	"io"

	"github.com/zfogg/sidechain/clientsync/pkg/config"
)

// Transport names accepted in realtime.transport
const (
	TransportWebSocket = "websocket"
	TransportRedis     = "redis"
	TransportPostgres  = "postgres"
	TransportMemory    = "memory"
)

// ChannelCloser is a Channel that owns a connection
type ChannelCloser interface {
	Channel
	io.Closer
}

// Open connects the push channel selected by cfg.Transport
func Open(ctx context.Context, cfg config.Realtime, token string) (ChannelCloser, error) {
	switch cfg.Transport {
	case TransportWebSocket, "":
		wsCfg := DefaultWebSocketConfig()
		if cfg.URL != "" {
			wsCfg.URL = cfg.URL
		}
		wsCfg.Token = token
		ch := NewWebSocketChannel(wsCfg)
		if err := ch.Connect(ctx); err != nil {
			return nil, err
		}
		return ch, nil
	case TransportRedis:
		client, err := NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, err
		}
		return NewRedisChannel(client, ""), nil
	case TransportPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres transport requires postgres.dsn")
		}
		return NewPostgresChannel(cfg.PostgresDSN), nil
	case TransportMemory:
		return NewBroker(), nil
	default:
		return nil, fmt.Errorf("unknown realtime transport %q", cfg.Transport)
	}
}

// ConfigFrom converts realtime settings into invalidator limits
func ConfigFrom(cfg config.Realtime) Config {
	return Config{
		Debounce:     cfg.Debounce,
		Window:       cfg.Window,
		MaxPerWindow: cfg.MaxInvalidations,
	}
}
