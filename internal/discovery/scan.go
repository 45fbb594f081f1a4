// Package discovery finds serial devices attached to the local machine and
// tracks which board and port the user selected.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pkt.systems/pslog"
	"pkt.systems/serialmon/schema"
)

const (
	defaultSysfsRoot = "/sys"
	// sysfsDepth bounds the walk from a tty's device node up to its USB device.
	sysfsDepth = 4
)

// DefaultPatterns are the device globs scanned when none are configured.
var DefaultPatterns = []string{"/dev/ttyACM*", "/dev/ttyUSB*"}

// GenericBoard names devices that no board rule identifies.
var GenericBoard = schema.Board{Name: "Generic Serial Device"}

// BoardRule maps a USB vendor/product id pair to a board.
type BoardRule struct {
	VID  string `mapstructure:"vid" yaml:"vid"`
	PID  string `mapstructure:"pid" yaml:"pid"`
	Name string `mapstructure:"name" yaml:"name"`
	FQBN string `mapstructure:"fqbn" yaml:"fqbn"`
}

func (r BoardRule) matches(vid, pid string) bool {
	return strings.EqualFold(r.VID, vid) && strings.EqualFold(r.PID, pid)
}

// ScannerConfig configures a Scanner.
type ScannerConfig struct {
	Patterns  []string
	SysfsRoot string
	Boards    []BoardRule
	Logger    pslog.Logger
}

// Scanner lists TTY devices that match the configured globs and identifies
// their boards from USB ids exposed in sysfs.
type Scanner struct {
	patterns  []string
	sysfsRoot string
	boards    []BoardRule
	log       pslog.Logger
}

// NewScanner constructs a Scanner.
func NewScanner(cfg ScannerConfig) (*Scanner, error) {
	patterns := cfg.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	for _, pattern := range patterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid device pattern %q: %w", pattern, err)
		}
	}
	root := cfg.SysfsRoot
	if root == "" {
		root = defaultSysfsRoot
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Scanner{
		patterns:  append([]string(nil), patterns...),
		sysfsRoot: root,
		boards:    append([]BoardRule(nil), cfg.Boards...),
		log:       logger,
	}, nil
}

// Patterns returns the device globs.
func (s *Scanner) Patterns() []string {
	return append([]string(nil), s.patterns...)
}

// Covers reports whether path would be picked up by a scan.
func (s *Scanner) Covers(path string) bool {
	for _, pattern := range s.patterns {
		if ok, _ := filepath.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

// AttachedDevices scans for devices, sorted by port address.
func (s *Scanner) AttachedDevices(ctx context.Context) ([]schema.AttachedDevice, error) {
	seen := make(map[string]struct{})
	var devices []schema.AttachedDevice
	for _, pattern := range s.patterns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, path := range matches {
			if _, ok := seen[path]; ok {
				continue
			}
			seen[path] = struct{}{}
			devices = append(devices, s.describe(path))
		}
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Port.Address < devices[j].Port.Address
	})
	s.log.Trace("discovery scan", "devices", len(devices))
	return devices, nil
}

func (s *Scanner) describe(path string) schema.AttachedDevice {
	device := schema.AttachedDevice{
		Board: GenericBoard,
		Port:  schema.Port{Address: path, Protocol: schema.ProtocolSerial},
	}
	info, err := s.lookupUSB(filepath.Base(path))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Debug("discovery sysfs lookup failed", "port", path, "err", err)
		}
		return device
	}
	device.Description = info.description()
	for _, rule := range s.boards {
		if rule.matches(info.vid, info.pid) {
			device.Board = schema.Board{Name: rule.Name, FQBN: rule.FQBN}
			return device
		}
	}
	if info.product != "" {
		device.Board = schema.Board{Name: info.product}
	}
	return device
}

type usbInfo struct {
	vid, pid     string
	product      string
	manufacturer string
	serial       string
}

func (u usbInfo) description() string {
	parts := make([]string, 0, 3)
	if u.manufacturer != "" {
		parts = append(parts, u.manufacturer)
	}
	if u.product != "" {
		parts = append(parts, u.product)
	}
	desc := strings.Join(parts, " ")
	ids := u.vid + ":" + u.pid
	if desc == "" {
		desc = ids
	} else {
		desc += " (" + ids + ")"
	}
	if u.serial != "" {
		desc += " serial " + u.serial
	}
	return desc
}

// lookupUSB walks from /sys/class/tty/<name>/device up to the USB device
// directory carrying idVendor and idProduct.
func (s *Scanner) lookupUSB(name string) (usbInfo, error) {
	dir, err := filepath.EvalSymlinks(filepath.Join(s.sysfsRoot, "class", "tty", name, "device"))
	if err != nil {
		return usbInfo{}, err
	}
	for i := 0; i < sysfsDepth; i++ {
		vid, err := readAttr(dir, "idVendor")
		if err == nil {
			pid, err := readAttr(dir, "idProduct")
			if err != nil {
				return usbInfo{}, err
			}
			info := usbInfo{vid: vid, pid: pid}
			info.product, _ = readAttr(dir, "product")
			info.manufacturer, _ = readAttr(dir, "manufacturer")
			info.serial, _ = readAttr(dir, "serial")
			return info, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return usbInfo{}, err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return usbInfo{}, os.ErrNotExist
}

func readAttr(dir, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
