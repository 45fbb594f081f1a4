package appconfig

import (
	"os"
	"path/filepath"

	"pkt.systems/serialmon/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int             `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string          `mapstructure:"state_dir" yaml:"state_dir"`
	Monitor       MonitorConfig   `mapstructure:"monitor" yaml:"monitor"`
	Discovery     DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`
	Selection     SelectionConfig `mapstructure:"selection" yaml:"selection"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// MonitorConfig controls the serial console defaults.
type MonitorConfig struct {
	ID                       string `mapstructure:"id" yaml:"id"`
	BaudRate                 int    `mapstructure:"baud_rate" yaml:"baud_rate"`
	LineEnding               string `mapstructure:"line_ending" yaml:"line_ending"`
	Timestamp                bool   `mapstructure:"timestamp" yaml:"timestamp"`
	Autoscroll               bool   `mapstructure:"autoscroll" yaml:"autoscroll"`
	BufferMaxLines           int    `mapstructure:"buffer_max_lines" yaml:"buffer_max_lines"`
	MaxPendingBytes          int    `mapstructure:"max_pending_bytes" yaml:"max_pending_bytes"`
	HistoryMax               int    `mapstructure:"history_max" yaml:"history_max"`
	ConnectTimeoutSeconds    int    `mapstructure:"connect_timeout_seconds" yaml:"connect_timeout_seconds"`
	DisconnectTimeoutSeconds int    `mapstructure:"disconnect_timeout_seconds" yaml:"disconnect_timeout_seconds"`
	ReadTimeoutMillis        int    `mapstructure:"read_timeout_millis" yaml:"read_timeout_millis"`
}

// DiscoveryConfig controls how attached devices are found.
type DiscoveryConfig struct {
	Patterns            []string      `mapstructure:"patterns" yaml:"patterns"`
	SysfsRoot           string        `mapstructure:"sysfs_root" yaml:"sysfs_root"`
	WatchDir            string        `mapstructure:"watch_dir" yaml:"watch_dir"`
	WatchDebounceMillis int           `mapstructure:"watch_debounce_millis" yaml:"watch_debounce_millis"`
	Boards              []BoardConfig `mapstructure:"boards" yaml:"boards"`
}

// BoardConfig identifies a board by its USB vendor and product ids.
type BoardConfig struct {
	VID  string `mapstructure:"vid" yaml:"vid"`
	PID  string `mapstructure:"pid" yaml:"pid"`
	Name string `mapstructure:"name" yaml:"name"`
	FQBN string `mapstructure:"fqbn" yaml:"fqbn"`
}

// SelectionConfig is the board and port to monitor.
type SelectionConfig struct {
	BoardName string `mapstructure:"board_name" yaml:"board_name"`
	FQBN      string `mapstructure:"fqbn" yaml:"fqbn"`
	Port      string `mapstructure:"port" yaml:"port"`
}

// DefaultBoards covers common Arduino boards and USB serial bridges.
var DefaultBoards = []BoardConfig{
	{VID: "2341", PID: "0043", Name: "Arduino Uno", FQBN: "arduino:avr:uno"},
	{VID: "2341", PID: "0001", Name: "Arduino Uno", FQBN: "arduino:avr:uno"},
	{VID: "2341", PID: "0042", Name: "Arduino Mega or Mega 2560", FQBN: "arduino:avr:mega"},
	{VID: "2341", PID: "8036", Name: "Arduino Leonardo", FQBN: "arduino:avr:leonardo"},
	{VID: "2341", PID: "0058", Name: "Arduino Nano Every", FQBN: "arduino:megaavr:nona4809"},
	{VID: "2341", PID: "804d", Name: "Arduino Zero", FQBN: "arduino:samd:arduino_zero_native"},
	{VID: "2341", PID: "0069", Name: "Arduino UNO R4 Minima", FQBN: "arduino:renesas_uno:minima"},
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".serialmon", "state"),
		Monitor: MonitorConfig{
			ID:                       "serial-monitor",
			BaudRate:                 int(schema.DefaultBaudRate),
			LineEnding:               "nl",
			Timestamp:                false,
			Autoscroll:               true,
			BufferMaxLines:           schema.DefaultBufferMaxLines,
			MaxPendingBytes:          0,
			HistoryMax:               200,
			ConnectTimeoutSeconds:    10,
			DisconnectTimeoutSeconds: 5,
			ReadTimeoutMillis:        100,
		},
		Discovery: DiscoveryConfig{
			Patterns:            []string{"/dev/ttyACM*", "/dev/ttyUSB*"},
			SysfsRoot:           "/sys",
			WatchDir:            "/dev",
			WatchDebounceMillis: 250,
			Boards:              append([]BoardConfig(nil), DefaultBoards...),
		},
		Selection: SelectionConfig{},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".serialmon", "config.yaml"), nil
}
