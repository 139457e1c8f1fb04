package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/previewd/previewd/internal/logger"
)

// CaptureConfig controls backend selection and pacing.
type CaptureConfig struct {
	TargetFPS        float64 `json:"target_fps" yaml:"target_fps"`
	Adaptive         bool    `json:"adaptive" yaml:"adaptive"`
	PreferCompositor bool    `json:"prefer_compositor" yaml:"prefer_compositor"`
}

// PreviewConfig controls the encoded preview streams.
type PreviewConfig struct {
	JPEGQuality int `json:"jpeg_quality" yaml:"jpeg_quality"`
	MaxWidth    int `json:"max_width" yaml:"max_width"`
}

// Config represents the application configuration
type Config struct {
	ServerPort int           `json:"server_port" yaml:"server_port"`
	LogLevel   string        `json:"log_level" yaml:"log_level"`
	Capture    CaptureConfig `json:"capture" yaml:"capture"`
	Preview    PreviewConfig `json:"preview" yaml:"preview"`
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager
func NewManager(configFile string) (*Manager, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".config", "previewd")
	defaultConfigPath := filepath.Join(configDir, "config.yaml")

	actualConfigPath := defaultConfigPath
	if configFile != "" {
		actualConfigPath = configFile
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = m.getDefaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Float64("target_fps", m.config.Capture.TargetFPS).
		Msg("Config loaded")

	return m, nil
}

// getDefaults returns default configuration
func (m *Manager) getDefaults() *Config {
	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		Capture: CaptureConfig{
			TargetFPS:        30,
			Adaptive:         true,
			PreferCompositor: true,
		},
		Preview: PreviewConfig{
			JPEGQuality: 80,
			MaxWidth:    1280,
		},
	}
}

// load reads the configuration from disk
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return err
	}

	m.config = &cfg
	return nil
}

// validate rejects values the pipeline cannot run with. Zero values
// fall back to defaults instead of failing.
func validate(cfg *Config) error {
	if cfg.ServerPort == 0 {
		cfg.ServerPort = 8080
	}
	if cfg.ServerPort < 0 || cfg.ServerPort > 65535 {
		return fmt.Errorf("invalid server_port %d", cfg.ServerPort)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Capture.TargetFPS == 0 {
		cfg.Capture.TargetFPS = 30
	}
	if cfg.Capture.TargetFPS < 0 {
		return fmt.Errorf("invalid capture.target_fps %v", cfg.Capture.TargetFPS)
	}
	if cfg.Preview.JPEGQuality == 0 {
		cfg.Preview.JPEGQuality = 80
	}
	if cfg.Preview.JPEGQuality < 1 || cfg.Preview.JPEGQuality > 100 {
		return fmt.Errorf("invalid preview.jpeg_quality %d", cfg.Preview.JPEGQuality)
	}
	if cfg.Preview.MaxWidth == 0 {
		cfg.Preview.MaxWidth = 1280
	}
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.config
}

// Update replaces the configuration and persists it
func (m *Manager) Update(cfg Config) error {
	if err := validate(&cfg); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return m.Save()
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Path returns the config file location.
func (m *Manager) Path() string {
	return m.configPath
}
