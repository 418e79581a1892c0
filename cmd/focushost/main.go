// Command focushost is the native messaging host browsers spawn. It speaks
// length-prefixed JSON on stdin/stdout and relays to the state server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/chemonoworld/focusbridge/internal/bridgehost"
	"github.com/chemonoworld/focusbridge/internal/config"
	"github.com/chemonoworld/focusbridge/internal/logger"
)

func main() {
	if err := run(); err != nil {
		// stdout belongs to the browser
		fmt.Fprintf(os.Stderr, "focushost: %v\n", err)
		os.Exit(1)
	}
}

// run ignores os.Args: browsers pass the caller's origin and, on Windows,
// a parent window handle.
func run() error {
	configMgr, err := config.NewManager(os.Getenv("FOCUSBRIDGE_CONFIG"))
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	closer, err := logger.InitFile(cfg.Host.LogFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer closer.Close()

	log := logger.WithComponent("host")
	log.Info().Int("pid", os.Getpid()).Str("socket", cfg.SocketName).Msg("Bridge host started")

	// The browser ends the session by closing stdin; signals keep their
	// default behavior.
	ctx := context.Background()
	if err := bridgehost.New(os.Stdin, os.Stdout, bridgehost.OptionsFromConfig(cfg)).Run(ctx); err != nil {
		log.Error().Err(err).Msg("Bridge host failed")
		return err
	}
	log.Info().Msg("Bridge host exiting")
	return nil
}
