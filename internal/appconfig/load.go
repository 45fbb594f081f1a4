package appconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/serialmon/schema"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("monitor.id", cfg.Monitor.ID)
	v.SetDefault("monitor.baud_rate", cfg.Monitor.BaudRate)
	v.SetDefault("monitor.line_ending", cfg.Monitor.LineEnding)
	v.SetDefault("monitor.timestamp", cfg.Monitor.Timestamp)
	v.SetDefault("monitor.autoscroll", cfg.Monitor.Autoscroll)
	v.SetDefault("monitor.buffer_max_lines", cfg.Monitor.BufferMaxLines)
	v.SetDefault("monitor.max_pending_bytes", cfg.Monitor.MaxPendingBytes)
	v.SetDefault("monitor.history_max", cfg.Monitor.HistoryMax)
	v.SetDefault("monitor.connect_timeout_seconds", cfg.Monitor.ConnectTimeoutSeconds)
	v.SetDefault("monitor.disconnect_timeout_seconds", cfg.Monitor.DisconnectTimeoutSeconds)
	v.SetDefault("monitor.read_timeout_millis", cfg.Monitor.ReadTimeoutMillis)
	v.SetDefault("discovery.patterns", cfg.Discovery.Patterns)
	v.SetDefault("discovery.sysfs_root", cfg.Discovery.SysfsRoot)
	v.SetDefault("discovery.watch_dir", cfg.Discovery.WatchDir)
	v.SetDefault("discovery.watch_debounce_millis", cfg.Discovery.WatchDebounceMillis)
	v.SetDefault("discovery.boards", cfg.Discovery.Boards)
	v.SetDefault("selection.board_name", cfg.Selection.BoardName)
	v.SetDefault("selection.fqbn", cfg.Selection.FQBN)
	v.SetDefault("selection.port", cfg.Selection.Port)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.InConfig("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	// Slices from the file replace the defaults instead of merging into them.
	cfg.Discovery.Patterns = nil
	cfg.Discovery.Boards = nil
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validateMonitorConfig(cfg.Monitor); err != nil {
		return Config{}, err
	}
	if err := validateDiscoveryConfig(cfg.Discovery); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateMonitorConfig(cfg MonitorConfig) error {
	if err := schema.ValidateMonitorID(schema.MonitorID(cfg.ID)); err != nil {
		return fmt.Errorf("monitor.id %q must match [a-z0-9._-]", cfg.ID)
	}
	if schema.NormalizeBaudRate(schema.BaudRate(cfg.BaudRate)) != schema.BaudRate(cfg.BaudRate) {
		return fmt.Errorf("unsupported monitor.baud_rate %d", cfg.BaudRate)
	}
	if !knownLineEnding(cfg.LineEnding) {
		return fmt.Errorf("unsupported monitor.line_ending %q; expected none, nl, cr or crlf", cfg.LineEnding)
	}
	if cfg.MaxPendingBytes < 0 {
		return fmt.Errorf("monitor.max_pending_bytes must not be negative")
	}
	return nil
}

func validateDiscoveryConfig(cfg DiscoveryConfig) error {
	for _, pattern := range cfg.Patterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("invalid discovery.patterns entry %q: %w", pattern, err)
		}
	}
	for i, board := range cfg.Boards {
		if board.VID == "" || board.PID == "" {
			return fmt.Errorf("discovery.boards[%d] requires vid and pid", i)
		}
		if board.Name == "" && board.FQBN == "" {
			return fmt.Errorf("discovery.boards[%d] requires name or fqbn", i)
		}
	}
	return nil
}

func knownLineEnding(value string) bool {
	_, ok := schema.LookupLineEnding(value)
	return ok
}

// Baud returns the configured default baud rate.
func (c MonitorConfig) Baud() schema.BaudRate {
	return schema.NormalizeBaudRate(schema.BaudRate(c.BaudRate))
}

// EOL returns the configured default line ending.
func (c MonitorConfig) EOL() schema.LineEnding {
	return schema.ParseLineEnding(c.LineEnding)
}

// ConnectTimeout returns the connect timeout.
func (c MonitorConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// DisconnectTimeout returns the disconnect timeout.
func (c MonitorConfig) DisconnectTimeout() time.Duration {
	return time.Duration(c.DisconnectTimeoutSeconds) * time.Second
}

// ReadTimeout returns the serial read poll interval.
func (c MonitorConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMillis) * time.Millisecond
}

// WatchDebounce returns the hot-plug event coalescing window.
func (c DiscoveryConfig) WatchDebounce() time.Duration {
	return time.Duration(c.WatchDebounceMillis) * time.Millisecond
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Discovery.SysfsRoot = expandEnv(cfg.Discovery.SysfsRoot)
	cfg.Discovery.WatchDir = expandEnv(cfg.Discovery.WatchDir)
	for i := range cfg.Discovery.Patterns {
		cfg.Discovery.Patterns[i] = expandEnv(cfg.Discovery.Patterns[i])
	}
	cfg.Selection.Port = expandEnv(cfg.Selection.Port)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
