package discovery

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"pkt.systems/pslog"
)

const defaultDebounce = 250 * time.Millisecond

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Dir is the directory device nodes appear in, usually /dev.
	Dir string
	// Covers filters paths; nil accepts every path.
	Covers   func(path string) bool
	Debounce time.Duration
	Logger   pslog.Logger
}

// Watcher raises a callback when device nodes appear or disappear. Bursts
// of events are coalesced into one callback.
type Watcher struct {
	fsw      *fsnotify.Watcher
	dir      string
	covers   func(string) bool
	debounce time.Duration
	log      pslog.Logger
}

// NewWatcher starts watching cfg.Dir.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("watch directory is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = pslog.Ctx(context.Background())
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(cfg.Dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return &Watcher{
		fsw:      fsw,
		dir:      cfg.Dir,
		covers:   cfg.Covers,
		debounce: cfg.Debounce,
		log:      cfg.Logger.With("watch_dir", cfg.Dir),
	}, nil
}

// WatchDirFor returns the directory holding the device globs, or "" when
// they span several directories.
func WatchDirFor(patterns []string) string {
	dir := ""
	for _, pattern := range patterns {
		d := filepath.Dir(pattern)
		if dir == "" {
			dir = d
			continue
		}
		if d != dir {
			return ""
		}
	}
	return dir
}

// Run delivers change callbacks until ctx is canceled, then closes the
// underlying watcher.
func (w *Watcher) Run(ctx context.Context, onChange func()) error {
	defer w.fsw.Close()
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	w.log.Debug("discovery watch start")
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("discovery watch stop")
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			w.log.Trace("discovery device event", "path", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("discovery watch error", "err", err)
		case <-fire:
			fire = nil
			onChange()
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return false
	}
	if w.covers == nil {
		return true
	}
	return w.covers(ev.Name)
}
