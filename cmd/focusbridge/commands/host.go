package commands

import (
	"context"

	"github.com/chemonoworld/focusbridge/internal/bridgehost"
	"github.com/chemonoworld/focusbridge/internal/logger"
	"github.com/spf13/cobra"
)

var hostCmd = &cobra.Command{
	Use:   "host [ORIGIN]",
	Short: "Run the native messaging bridge host on stdin/stdout",
	Long: `Run the bridge host the way a browser spawns it: length-prefixed JSON
frames on stdin and stdout. Logs go to host.log_file because stdout belongs
to the browser.

Browsers pass the calling extension's origin (and on Windows a
--parent-window flag) as arguments; they are ignored.`,
	Args:               cobra.ArbitraryArgs,
	FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
	RunE:               runHost,
}

func init() {
	rootCmd.AddCommand(hostCmd)
}

func runHost(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	closer, err := logger.InitFile(cfg.Host.LogFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer closer.Close()

	// The browser ends the session by closing stdin; signals keep their
	// default behavior.
	ctx := context.Background()
	logger.WithComponent("host").Info().Strs("args", args).Msg("Bridge host started")
	return bridgehost.New(cmd.InOrStdin(), cmd.OutOrStdout(), bridgehost.OptionsFromConfig(cfg)).Run(ctx)
}
