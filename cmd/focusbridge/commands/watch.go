package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chemonoworld/focusbridge/internal/client"
	"github.com/chemonoworld/focusbridge/internal/focus"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print every Focus state change",
	Long:  `Connect to the state server and print the current state followed by every broadcast state change, until interrupted.`,
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Host.RequestTimeoutMs)*time.Millisecond)
	conn, err := dialServer(dialCtx, cfg)
	if err != nil {
		cancel()
		return err
	}
	defer conn.Close()

	resp, err := conn.RoundTrip(dialCtx, focus.GetStateRequest())
	cancel()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for {
		if resp.Type == focus.ResponseState {
			if !jsonOutput {
				fmt.Fprintln(out, color.HiBlackString(time.Now().Format(time.TimeOnly)))
			}
			if err := printState(out, resp.State); err != nil {
				return err
			}
		}

		resp, err = conn.Receive(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case client.IsDisconnect(err):
			return fmt.Errorf("state server went away: %w", err)
		case err != nil:
			return err
		}
	}
}
