package bridgehost

import (
	"context"
	"time"

	"github.com/chemonoworld/focusbridge/internal/client"
	"github.com/chemonoworld/focusbridge/internal/config"
)

// OptionsFromConfig builds host options that dial the configured socket
func OptionsFromConfig(cfg *config.Config) Options {
	socket := cfg.SocketName
	return Options{
		Dial: func(ctx context.Context) (*client.Conn, error) {
			return client.Dial(ctx, socket)
		},
		RequestTimeout: time.Duration(cfg.Host.RequestTimeoutMs) * time.Millisecond,
		PushRetry:      time.Duration(cfg.Host.PushRetryMs) * time.Millisecond,
	}
}
