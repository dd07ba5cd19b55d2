package feed

import (
	"fmt"

	"bookpoly/internal/config"

	"go.uber.org/zap"
)

func NewSource(cfg config.FeedConfig, log *zap.Logger) (Source, error) {
	switch cfg.Kind {
	case "", config.FeedFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("feed path is required for %q", config.FeedFile)
		}
		return NewFileSource(cfg.Path, log), nil
	case config.FeedWebsocket:
		if cfg.URL == "" {
			return nil, fmt.Errorf("feed url is required for %q", config.FeedWebsocket)
		}
		return NewWSSource(cfg.URL, cfg.Subscribe, cfg.ReconnectDelay, cfg.PingInterval, log), nil
	default:
		return nil, fmt.Errorf("unknown feed kind %q", cfg.Kind)
	}
}
