package config

import (
	"fmt"
	"strings"

	"github.com/chemonoworld/focusbridge/internal/localsock"
)

// Config is the persisted focusbridge configuration
type Config struct {
	SocketName string `json:"socket_name" yaml:"socket_name"`
	LogLevel   string `json:"log_level" yaml:"log_level"`
	LogFile    string `json:"log_file" yaml:"log_file"`

	Host     HostConfig     `json:"host" yaml:"host"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Manifest ManifestConfig `json:"manifest" yaml:"manifest"`
}

// HostConfig configures the native messaging bridge host
type HostConfig struct {
	// LogFile receives host logs; stdout is reserved for the browser.
	LogFile          string `json:"log_file" yaml:"log_file"`
	RequestTimeoutMs int    `json:"request_timeout_ms" yaml:"request_timeout_ms"`
	PushRetryMs      int    `json:"push_retry_ms" yaml:"push_retry_ms"`
}

// ServerConfig configures the state server
type ServerConfig struct {
	BroadcastBuffer   int    `json:"broadcast_buffer" yaml:"broadcast_buffer"`
	PendingLimit      int    `json:"pending_limit" yaml:"pending_limit"`
	DesktopAPIEnabled bool   `json:"desktop_api_enabled" yaml:"desktop_api_enabled"`
	DesktopAPISocket  string `json:"desktop_api_socket" yaml:"desktop_api_socket"`
}

// ManifestConfig describes the browser native messaging registration
type ManifestConfig struct {
	Name           string   `json:"name" yaml:"name"`
	Description    string   `json:"description" yaml:"description"`
	HostPath       string   `json:"host_path" yaml:"host_path"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		SocketName: localsock.DefaultName,
		LogLevel:   "info",
		Host: HostConfig{
			LogFile:          "~/.schedule-ai-host.log",
			RequestTimeoutMs: 5000,
			PushRetryMs:      2000,
		},
		Server: ServerConfig{
			BroadcastBuffer:   16,
			PendingLimit:      64,
			DesktopAPIEnabled: true,
			DesktopAPISocket:  "schedule-ai-desktop",
		},
		Manifest: ManifestConfig{
			Name:           "com.scheduleai.host",
			Description:    "Schedule AI Native Messaging Host",
			AllowedOrigins: []string{},
		},
	}
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks the configuration for values the components cannot run with
func (c *Config) Validate() error {
	var problems []string
	if c.SocketName == "" {
		problems = append(problems, "socket_name must not be empty")
	}
	if !validLevels[c.LogLevel] {
		problems = append(problems, fmt.Sprintf("invalid log_level %q (use: debug, info, warn, error)", c.LogLevel))
	}
	if c.Host.RequestTimeoutMs <= 0 {
		problems = append(problems, "host.request_timeout_ms must be positive")
	}
	if c.Host.PushRetryMs <= 0 {
		problems = append(problems, "host.push_retry_ms must be positive")
	}
	if c.Server.BroadcastBuffer <= 0 {
		problems = append(problems, "server.broadcast_buffer must be positive")
	}
	if c.Server.PendingLimit <= 0 {
		problems = append(problems, "server.pending_limit must be positive")
	}
	if c.Server.DesktopAPIEnabled && c.Server.DesktopAPISocket == "" {
		problems = append(problems, "server.desktop_api_socket must be set when the desktop API is enabled")
	}
	if c.Manifest.Name == "" {
		problems = append(problems, "manifest.name must not be empty")
	}
	for _, origin := range c.Manifest.AllowedOrigins {
		if !strings.HasSuffix(origin, "/") || !strings.Contains(origin, "://") {
			problems = append(problems, fmt.Sprintf("invalid allowed origin %q (want scheme://id/)", origin))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) clone() *Config {
	cp := *c
	cp.Manifest.AllowedOrigins = append([]string{}, c.Manifest.AllowedOrigins...)
	return &cp
}
