// Package manifest builds and installs the native messaging host manifest
// that lets a Chromium-based browser spawn the bridge host.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ErrUnsupported is returned for platforms where registration is not a
// plain file, such as Windows, which uses the registry.
var ErrUnsupported = errors.New("manifest installation is not supported on this platform")

var namePattern = regexp.MustCompile(`^[a-z0-9_]+(\.[a-z0-9_]+)*$`)

// Manifest is the JSON document the browser reads
type Manifest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Path           string   `json:"path"`
	Type           string   `json:"type"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// New validates its arguments and returns a stdio manifest
func New(name, description, hostPath string, origins []string) (Manifest, error) {
	if !namePattern.MatchString(name) {
		return Manifest{}, fmt.Errorf("invalid host name %q: use lowercase letters, digits, _ and dots", name)
	}
	if !filepath.IsAbs(hostPath) {
		return Manifest{}, fmt.Errorf("host path must be absolute: %s", hostPath)
	}
	if len(origins) == 0 {
		return Manifest{}, errors.New("at least one allowed origin is required (chrome-extension://<id>/)")
	}
	for _, o := range origins {
		if !strings.HasPrefix(o, "chrome-extension://") || !strings.HasSuffix(o, "/") {
			return Manifest{}, fmt.Errorf("invalid origin %q: want chrome-extension://<id>/", o)
		}
	}

	return Manifest{
		Name:           name,
		Description:    description,
		Path:           hostPath,
		Type:           "stdio",
		AllowedOrigins: append([]string{}, origins...),
	}, nil
}

// Render returns the indented manifest JSON
func (m Manifest) Render() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// FileName is the manifest file name the browser looks for
func (m Manifest) FileName() string {
	return m.Name + ".json"
}

var browserDirs = map[string]map[string]string{
	"linux": {
		"chrome":   ".config/google-chrome/NativeMessagingHosts",
		"chromium": ".config/chromium/NativeMessagingHosts",
		"brave":    ".config/BraveSoftware/Brave-Browser/NativeMessagingHosts",
		"edge":     ".config/microsoft-edge/NativeMessagingHosts",
	},
	"darwin": {
		"chrome":   "Library/Application Support/Google/Chrome/NativeMessagingHosts",
		"chromium": "Library/Application Support/Chromium/NativeMessagingHosts",
		"brave":    "Library/Application Support/BraveSoftware/Brave-Browser/NativeMessagingHosts",
		"edge":     "Library/Application Support/Microsoft Edge/NativeMessagingHosts",
	},
}

// Browsers lists the browsers known for goos
func Browsers(goos string) []string {
	var names []string
	for name := range browserDirs[goos] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dir returns the per-user manifest directory of browser on goos
func Dir(goos, home, browser string) (string, error) {
	dirs, ok := browserDirs[goos]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, goos)
	}
	rel, ok := dirs[browser]
	if !ok {
		return "", fmt.Errorf("unknown browser %q (known: %s)", browser, strings.Join(Browsers(goos), ", "))
	}
	return filepath.Join(home, rel), nil
}

// Install writes m into dir and returns the file path
func Install(m Manifest, dir string) (string, error) {
	data, err := m.Render()
	if err != nil {
		return "", fmt.Errorf("failed to render manifest: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create manifest directory: %w", err)
	}
	path := filepath.Join(dir, m.FileName())
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	return path, nil
}
