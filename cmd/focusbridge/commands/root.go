package commands

import (
	"fmt"
	"os"

	"github.com/chemonoworld/focusbridge/internal/config"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	jsonOutput bool
	rootCmd    = &cobra.Command{
		Use:   "focusbridge",
		Short: "Focus Bridge - share Focus mode between the desktop app and the browser",
		Long: `Focus Bridge keeps the desktop app's Focus session and the browser
extension's site blocking in sync.

Components:
  • State server: owns the Focus state and broadcasts every change
  • Bridge host: native messaging host spawned by the browser
  • Desktop API: HTTP and WebSocket access for the desktop UI
  • CLI clients to inspect and drive the session`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/focusbridge/config.yaml)")
	rootCmd.PersistentFlags().String("socket", "", "state server socket name or absolute path")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	// Bind flags to viper
	viper.BindPFlag("socket_name", rootCmd.PersistentFlags().Lookup("socket"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("no_color", rootCmd.PersistentFlags().Lookup("no-color"))
}

func initConfig() {
	viper.SetEnvPrefix("FOCUSBRIDGE")
	viper.AutomaticEnv()
	viper.BindEnv("config")

	if cfgFile == "" {
		cfgFile = viper.GetString("config")
	}
	if viper.GetBool("no_color") {
		color.NoColor = true
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig loads the config file and applies flag and environment
// overrides in memory. The overrides are never written back.
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}

	err = configMgr.Override(func(cfg *config.Config) {
		if socket := viper.GetString("socket_name"); socket != "" {
			cfg.SocketName = socket
		}
		if level := viper.GetString("log_level"); level != "" {
			cfg.LogLevel = level
		}
	})
	if err != nil {
		return nil, err
	}
	return configMgr, nil
}
