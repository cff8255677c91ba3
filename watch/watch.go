package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/wippyai/asset-runtime/errors"
	"github.com/wippyai/asset-runtime/resource"
)

// DefaultDebounce is how long the watcher waits for a burst of writes to
// settle before reloading.
const DefaultDebounce = 50 * time.Millisecond

// Config holds configuration for watcher creation.
type Config struct {
	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to the package Logger.
	Logger *zap.Logger

	// OnChange runs for every changed id before its reload is requested,
	// e.g. to drop a cached copy.
	OnChange func(id resource.ID)
}

// Stats holds watcher counters.
type Stats struct {
	Events   uint64
	Flushes  uint64
	Reloads  uint64
	Unloaded uint64
}

// Watcher reloads loaded resources when their files change on disk.
type Watcher struct {
	m     *resource.Manager
	root  string
	fsw   *fsnotify.Watcher
	clk   clock.Clock
	log   *zap.Logger
	delay time.Duration
	onChg func(resource.ID)

	mu      sync.Mutex
	pending map[resource.ID]struct{}
	timer   *clock.Timer
	gen     uint64 // bumped on every re-arm; older timers are stale
	closed  bool

	done chan struct{}

	events   atomic.Uint64
	flushes  atomic.Uint64
	reloads  atomic.Uint64
	unloaded atomic.Uint64
}

// New watches root and every directory below it. Resource ids are paths
// relative to root with forward slashes.
func New(m *resource.Manager, root string, cfg *Config) (*Watcher, error) {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = Logger()
	}
	if m == nil {
		return nil, errors.NotInitialized(errors.PhaseWatch, "resource manager")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseWatch, errors.KindIO, err, "create watcher")
	}

	w := &Watcher{
		m:       m,
		root:    filepath.Clean(root),
		fsw:     fsw,
		clk:     c.Clock,
		log:     c.Logger,
		delay:   c.Debounce,
		onChg:   c.OnChange,
		pending: make(map[resource.ID]struct{}),
		done:    make(chan struct{}),
	}
	if err := w.addTree(w.root); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.Wrap(errors.PhaseWatch, errors.KindIO, err, "walk "+p)
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(p); err != nil {
			return errors.Wrap(errors.PhaseWatch, errors.KindIO, err, "watch "+p)
		}
		return nil
	})
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	w.events.Add(1)
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}

	if ev.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.log.Warn("watch new directory", zap.String("path", ev.Name), zap.Error(err))
			}
			return
		}
	}

	id, ok := w.id(ev.Name)
	if !ok {
		return
	}
	w.Touch(id)
}

// id maps an absolute event path to a resource id.
func (w *Watcher) id(p string) (resource.ID, bool) {
	rel, err := filepath.Rel(w.root, p)
	if err != nil || !filepath.IsLocal(rel) {
		return "", false
	}
	return resource.ID(filepath.ToSlash(rel)), true
}

// Touch marks id as changed. The reload happens once no further change has
// arrived for the debounce period.
func (w *Watcher) Touch(id resource.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending[id] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.gen++
	gen := w.gen
	w.timer = w.clk.AfterFunc(w.delay, func() { w.flush(gen) })
}

// flush runs the pending reloads if gen is still the armed generation. A
// timer that fired while Touch re-armed is stale and does nothing.
func (w *Watcher) flush(gen uint64) {
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	ids := make([]resource.ID, 0, len(w.pending))
	for id := range w.pending {
		ids = append(ids, id)
	}
	clear(w.pending)
	w.timer = nil
	w.mu.Unlock()

	if len(ids) == 0 {
		return
	}
	w.flushes.Add(1)

	for _, id := range ids {
		if w.onChg != nil {
			w.onChg(id)
		}
		if w.m.ReloadResource(context.Background(), id, true) {
			w.reloads.Add(1)
			w.log.Debug("reload scheduled", zap.String("id", string(id)))
		} else {
			w.unloaded.Add(1)
		}
	}
}

// Stats returns watcher counters. Unloaded counts changes to files that had
// no loaded resource.
func (w *Watcher) Stats() Stats {
	return Stats{
		Events:   w.events.Load(),
		Flushes:  w.flushes.Load(),
		Reloads:  w.reloads.Load(),
		Unloaded: w.unloaded.Load(),
	}
}

// Root returns the watched directory.
func (w *Watcher) Root() string {
	return w.root
}

// Close stops watching. Pending changes are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	<-w.done
	if err != nil {
		return errors.Wrap(errors.PhaseWatch, errors.KindIO, err, "close watcher")
	}
	return nil
}
