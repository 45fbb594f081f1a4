package persist

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"pkt.systems/pslog"
	"pkt.systems/serialmon/schema"
)

// Store persists opaque per-monitor session blobs to disk.
type Store struct {
	dir string
	log pslog.Logger
}

// NewStore constructs a persistent store at the given directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger constructs a persistent store with logging.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &Store{dir: dir, log: logger}, nil
}

// Load reads the blob stored for a monitor. The bool is false when nothing
// has been saved yet.
func (s *Store) Load(id schema.MonitorID) ([]byte, bool, error) {
	path := s.pathFor(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if s.log != nil {
				s.log.Debug("state load miss", "monitor", id)
			}
			return nil, false, nil
		}
		if s.log != nil {
			s.log.Warn("state load failed", "monitor", id, "err", err)
		}
		return nil, false, err
	}
	if s.log != nil {
		s.log.Debug("state load ok", "monitor", id, "bytes", len(data))
	}
	return data, true, nil
}

// Save atomically replaces the blob stored for a monitor.
func (s *Store) Save(id schema.MonitorID, data []byte) error {
	if err := s.save(s.pathFor(id), data); err != nil {
		if s.log != nil {
			s.log.Warn("state save failed", "monitor", id, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Trace("state save ok", "monitor", id, "bytes", len(data))
	}
	return nil
}

func (s *Store) save(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "state-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) pathFor(id schema.MonitorID) string {
	name := sanitize(string(id))
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(s.dir, name+".session")
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
