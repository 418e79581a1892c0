package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/chemonoworld/focusbridge/internal/logger"
	"gopkg.in/yaml.v3"
)

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns ~/.config/focusbridge/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "focusbridge", "config.yaml"), nil
}

// NewManager loads configFile (or the default path), creating it with
// defaults when it does not exist yet
func NewManager(configFile string) (*Manager, error) {
	path := configFile
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	m := &Manager{configPath: path}

	if err := m.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Str("socket", m.config.SocketName).
		Msg("Config loaded")

	return m, nil
}

// NewMemoryManager returns a manager over cfg that never touches disk
func NewMemoryManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = Defaults()
	}
	return &Manager{config: cfg.clone()}
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	// Keys missing from the file keep their defaults.
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Manifest.AllowedOrigins == nil {
		cfg.Manifest.AllowedOrigins = []string{}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	return m.config.clone()
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	if m.configPath == "" {
		return nil
	}

	cfg := m.Get()

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Update validates and persists cfg
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg.clone()
	m.mu.Unlock()
	return m.Save()
}

// Override applies fn to the in-memory configuration without saving it.
// Flag and environment overrides go through here.
func (m *Manager) Override(fn func(*Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := Defaults()
	if m.config != nil {
		cfg = m.config.clone()
	}
	fn(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.config = cfg
	return nil
}

// Keys lists every dotted configuration key
func (m *Manager) Keys() []string {
	tree, err := toTree(m.Get())
	if err != nil {
		return nil
	}
	var keys []string
	collectKeys(tree, "", &keys)
	sort.Strings(keys)
	return keys
}

// Value returns the value stored under a dotted key such as host.push_retry_ms
func (m *Manager) Value(key string) (any, error) {
	tree, err := toTree(m.Get())
	if err != nil {
		return nil, err
	}
	parent, leaf, err := walk(tree, key)
	if err != nil {
		return nil, err
	}
	return parent[leaf], nil
}

// Set parses value as YAML, stores it under key and saves
func (m *Manager) Set(key, value string) error {
	tree, err := toTree(m.Get())
	if err != nil {
		return err
	}
	parent, leaf, err := walk(tree, key)
	if err != nil {
		return err
	}

	if _, isString := parent[leaf].(string); isString {
		parent[leaf] = value
	} else {
		var parsed any
		if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		parent[leaf] = parsed
	}

	data, err := yaml.Marshal(tree)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return m.Update(cfg)
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

func toTree(cfg *Config) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return tree, nil
}

func walk(tree map[string]any, key string) (map[string]any, string, error) {
	parts := strings.Split(key, ".")
	node := tree
	for i, part := range parts {
		v, ok := node[part]
		if !ok {
			return nil, "", fmt.Errorf("configuration key not found: %s", key)
		}
		if i == len(parts)-1 {
			if _, isSection := v.(map[string]any); isSection {
				return nil, "", fmt.Errorf("%s is a section, not a value", key)
			}
			return node, part, nil
		}
		next, ok := v.(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("configuration key not found: %s", key)
		}
		node = next
	}
	return nil, "", fmt.Errorf("configuration key not found: %s", key)
}

func collectKeys(node map[string]any, prefix string, keys *[]string) {
	for k, v := range node {
		full := k
		if prefix != "" {
			full = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			collectKeys(sub, full, keys)
			continue
		}
		*keys = append(*keys, full)
	}
}
