package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/chemonoworld/focusbridge/internal/config"
	"github.com/chemonoworld/focusbridge/internal/manifest"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	manifestHostPath string
	manifestOrigins  []string
	manifestBrowsers []string
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Register the bridge host with browsers",
	Long: `Build and install the native messaging host manifest that lets the
browser extension spawn focushost.`,
}

var manifestShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the manifest JSON",
	Args:  cobra.NoArgs,
	RunE:  runManifestShow,
}

var manifestInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the manifest for one or more browsers",
	Example: `  # Install for every supported browser
  focusbridge manifest install --origin chrome-extension://abcdefghijklmnopabcdefghijklmnop/

  # Chrome only, with an explicit host binary
  focusbridge manifest install --browser chrome --path /usr/local/bin/focushost`,
	Args: cobra.NoArgs,
	RunE: runManifestInstall,
}

func init() {
	rootCmd.AddCommand(manifestCmd)
	manifestCmd.AddCommand(manifestShowCmd)
	manifestCmd.AddCommand(manifestInstallCmd)

	manifestCmd.PersistentFlags().StringVar(&manifestHostPath, "path", "", "absolute path of the host binary (default: manifest.host_path, then focushost next to this binary)")
	manifestCmd.PersistentFlags().StringSliceVar(&manifestOrigins, "origin", nil, "allowed extension origin (default: manifest.allowed_origins)")
	manifestInstallCmd.Flags().StringSliceVar(&manifestBrowsers, "browser", nil, fmt.Sprintf("browsers to install for (default: all of %v)", manifest.Browsers(runtime.GOOS)))
}

func buildManifest(cfg *config.Config) (manifest.Manifest, error) {
	hostPath := manifestHostPath
	if hostPath == "" {
		hostPath = cfg.Manifest.HostPath
	}
	if hostPath == "" {
		exe, err := os.Executable()
		if err != nil {
			return manifest.Manifest{}, fmt.Errorf("failed to locate executable: %w", err)
		}
		hostPath = filepath.Join(filepath.Dir(exe), "focushost")
	}
	hostPath, err := filepath.Abs(hostPath)
	if err != nil {
		return manifest.Manifest{}, err
	}

	origins := manifestOrigins
	if len(origins) == 0 {
		origins = cfg.Manifest.AllowedOrigins
	}
	return manifest.New(cfg.Manifest.Name, cfg.Manifest.Description, hostPath, origins)
}

func runManifestShow(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := buildManifest(configMgr.Get())
	if err != nil {
		return err
	}
	data, err := m.Render()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runManifestInstall(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := buildManifest(configMgr.Get())
	if err != nil {
		return err
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	browsers := manifestBrowsers
	if len(browsers) == 0 {
		browsers = manifest.Browsers(runtime.GOOS)
		if len(browsers) == 0 {
			return fmt.Errorf("%w: %s", manifest.ErrUnsupported, runtime.GOOS)
		}
	}

	out := cmd.OutOrStdout()
	for _, browser := range browsers {
		dir, err := manifest.Dir(runtime.GOOS, home, browser)
		if err != nil {
			return err
		}
		path, err := manifest.Install(m, dir)
		if err != nil {
			return fmt.Errorf("%s: %w", browser, err)
		}
		fmt.Fprintf(out, "%s %-8s %s\n", color.GreenString("✅"), browser, path)
	}
	if _, err := os.Stat(m.Path); err != nil {
		fmt.Fprintf(out, "%s host binary not found at %s\n", color.YellowString("⚠"), m.Path)
	}
	return nil
}
