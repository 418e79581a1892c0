package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chemonoworld/focusbridge/internal/api"
	"github.com/chemonoworld/focusbridge/internal/desktop"
	"github.com/chemonoworld/focusbridge/internal/focus"
	"github.com/chemonoworld/focusbridge/internal/localsock"
	"github.com/chemonoworld/focusbridge/internal/logger"
	"github.com/chemonoworld/focusbridge/internal/stateserver"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var serveHeadless bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Focus state server",
	Long: `Start the state server on the local socket, plus the desktop API when it
is enabled in the config.

Browsers reach the server through the bridge host. With --headless the
server also consumes extension commands and runs the session timer itself,
standing in for the desktop UI.`,
	Example: `  # Start on the default socket (/tmp/schedule-ai.sock)
  focusbridge serve

  # Run without a desktop UI attached
  focusbridge serve --headless

  # Start with debug logging on a custom socket
  focusbridge serve --socket /tmp/focus-dev.sock --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveHeadless, "headless", false, "consume extension commands and tick the timer without a desktop UI")
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	logger.Init(cfg.LogLevel, true)
	if cfg.LogFile != "" {
		closer, err := logger.InitFile(cfg.LogFile, cfg.LogLevel)
		if err != nil {
			return err
		}
		defer closer.Close()
	}
	log := logger.WithComponent("serve")
	log.Info().Str("config", configMgr.GetConfigPath()).Str("log_level", cfg.LogLevel).Msg("Configuration loaded")

	hub := stateserver.NewHub(stateserver.HubOptions{
		BroadcastBuffer: cfg.Server.BroadcastBuffer,
		PendingLimit:    cfg.Server.PendingLimit,
	})

	server := stateserver.NewServer(hub, cfg.SocketName)
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start state server: %w", err)
	}
	defer server.Stop()

	if cfg.Server.DesktopAPIEnabled {
		apiServer := api.NewServer(hub, server, configMgr)
		if err := apiServer.Start(cfg.Server.DesktopAPISocket); err != nil {
			return fmt.Errorf("failed to start desktop API: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := apiServer.Stop(ctx); err != nil {
				log.Warn().Err(err).Msg("Desktop API shutdown")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agentDone := make(chan struct{})
	if serveHeadless {
		out := cmd.OutOrStdout()
		agent := desktop.NewAgent(hub, desktop.Options{
			OnCommand: func(c focus.ExtensionCommand) { printCommand(out, c) },
		})
		go func() {
			defer close(agentDone)
			if err := agent.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Desktop agent stopped")
			}
		}()
	} else {
		close(agentDone)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, color.GreenString("✅ Focus Bridge is running"))
	fmt.Fprintf(out, "   - State server: %s\n", localsock.Address(cfg.SocketName))
	if cfg.Server.DesktopAPIEnabled {
		fmt.Fprintf(out, "   - Desktop API: %s\n", localsock.Address(cfg.Server.DesktopAPISocket))
	}
	fmt.Fprintln(out, "   - Press Ctrl+C to stop")

	<-ctx.Done()
	<-agentDone

	fmt.Fprintln(out)
	log.Info().Msg("Shutting down gracefully")
	return nil
}

func printCommand(w io.Writer, c focus.ExtensionCommand) {
	fmt.Fprintf(w, "%s %s blocked=%v timer=%s/%dm\n",
		color.CyanString("command"), c.Command, c.BlockedURLs, c.TimerType, c.TimerDuration)
}
