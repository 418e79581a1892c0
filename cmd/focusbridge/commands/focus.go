package commands

import (
	"github.com/chemonoworld/focusbridge/internal/focus"
	"github.com/spf13/cobra"
)

var (
	startTimerType string
	startMinutes   uint32
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the current Focus state",
	Example: `  focusbridge state
  focusbridge state --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRequest(cmd, focus.GetStateRequest())
	},
}

var startCmd = &cobra.Command{
	Use:   "start [URL...]",
	Short: "Start a Focus session",
	Long:  `Start a Focus session blocking the given URLs. The browser extension is told to start blocking.`,
	Example: `  # Open-ended session
  focusbridge start youtube.com reddit.com

  # 25 minute pomodoro
  focusbridge start youtube.com --timer-type pomodoro --minutes 25`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRequest(cmd, focus.StartFocusRequest(args, startTimerType, startMinutes))
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the Focus session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRequest(cmd, focus.StopFocusRequest())
	},
}

var blockCmd = &cobra.Command{
	Use:   "block [URL...]",
	Short: "Replace the blocked URL list",
	Long:  `Replace the blocked URL list without changing whether a session is active. With no URLs the list is cleared.`,
	Example: `  focusbridge block youtube.com twitter.com
  focusbridge block`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRequest(cmd, focus.UpdateBlockedURLsRequest(args))
	},
}

func init() {
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(blockCmd)

	startCmd.Flags().StringVar(&startTimerType, "timer-type", focus.TimerTypeNone, "timer type reported to the extension (none, timer, pomodoro)")
	startCmd.Flags().Uint32Var(&startMinutes, "minutes", 0, "timer duration in minutes")
}

func runRequest(cmd *cobra.Command, req focus.Request) error {
	state, err := request(req)
	if err != nil {
		return err
	}
	return printState(cmd.OutOrStdout(), state)
}
