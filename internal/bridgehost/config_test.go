package bridgehost

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/chemonoworld/focusbridge/internal/config"
)

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.SocketName = filepath.Join(t.TempDir(), "missing.sock")
	cfg.Host.RequestTimeoutMs = 250

	opts := OptionsFromConfig(cfg)
	if opts.RequestTimeout != 250*time.Millisecond {
		t.Errorf("RequestTimeout = %v", opts.RequestTimeout)
	}
	if opts.PushRetry != 2*time.Second {
		t.Errorf("PushRetry = %v", opts.PushRetry)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if conn, err := opts.Dial(ctx); err == nil {
		conn.Close()
		t.Error("dialing a missing socket succeeded")
	}
}
