// Package navwatch detects client-side route changes so path-scoped rules can
// be re-applied after soft navigation.
//
// The core only depends on this abstraction: a page binding feeds it history
// events (push/replace/pop/hash) and mutation statistics, and subscribers get
// exactly one callback per distinct path transition, after a short settle
// delay that coalesces rapid triggers for the same destination. Frameworks
// that bypass the history API are caught by a heuristic that treats a large
// replacement of main-content-like elements as a navigation signal.
package navwatch

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quellhq/quell/mutation"
)

// Kind classifies how a navigation was detected.
type Kind string

const (
	KindPush    Kind = "push"
	KindReplace Kind = "replace"
	KindPop     Kind = "pop"
	KindHash    Kind = "hash"
	KindDOMSwap Kind = "domswap"
)

// Event is one navigation signal from a page binding.
type Event struct {
	Kind Kind
	Path string
}

// Config controls settle behaviour and the content-swap heuristic.
type Config struct {
	// Settle is the delay between detection and callback. Default: 100ms.
	Settle time.Duration `yaml:"settle"`
	// SwapThreshold is how many main-content-like insertions/removals within
	// one mutation batch count as a navigation signal. Default: 3.
	SwapThreshold int `yaml:"swap_threshold"`
}

func (c *Config) defaults() {
	if c.Settle <= 0 {
		c.Settle = 100 * time.Millisecond
	}
	if c.SwapThreshold <= 0 {
		c.SwapThreshold = 3
	}
}

// Watcher coalesces navigation signals into per-transition callbacks.
type Watcher struct {
	mu      sync.Mutex
	cfg     Config
	cbs     []func(path string)
	last    string
	pending string
	timer   *time.Timer
	closed  bool
	logger  *slog.Logger
}

// New creates a Watcher anchored at the given initial path.
func New(cfg Config, initialPath string, logger *slog.Logger) *Watcher {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{cfg: cfg, last: initialPath, logger: logger}
}

// Subscribe registers a callback invoked once per distinct path transition.
func (w *Watcher) Subscribe(cb func(path string)) {
	w.mu.Lock()
	w.cbs = append(w.cbs, cb)
	w.mu.Unlock()
}

// Notify feeds one navigation signal. Signals for the current path are
// dropped; repeated signals for the same destination within the settle window
// coalesce into one callback.
func (w *Watcher) Notify(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || ev.Path == "" || ev.Path == w.last {
		return
	}
	if ev.Path == w.pending {
		return
	}
	w.pending = ev.Path
	if w.timer != nil {
		w.timer.Stop()
	}
	w.logger.Debug("navwatch: navigation detected", "kind", string(ev.Kind), "path", ev.Path)
	w.timer = time.AfterFunc(w.cfg.Settle, w.fire)
}

// ObserveMutations runs the content-swap heuristic over one mutation batch.
// currentPath is the page's path at batch time, as reported by the binding.
func (w *Watcher) ObserveMutations(records []mutation.Record, currentPath string) {
	swaps := 0
	for _, rec := range records {
		if rec.Op != mutation.OpInsert && rec.Op != mutation.OpRemove {
			continue
		}
		if mainContentLike(rec) {
			swaps++
		}
	}
	if swaps >= w.cfg.SwapThreshold {
		w.Notify(Event{Kind: KindDOMSwap, Path: currentPath})
	}
}

// Close cancels any pending callback and detaches all subscribers.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.pending = ""
	w.cbs = nil
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// LastPath returns the last settled path.
func (w *Watcher) LastPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

func (w *Watcher) fire() {
	w.mu.Lock()
	if w.closed || w.pending == "" {
		w.mu.Unlock()
		return
	}
	path := w.pending
	w.pending = ""
	w.last = path
	cbs := make([]func(string), len(w.cbs))
	copy(cbs, w.cbs)
	w.mu.Unlock()

	for _, cb := range cbs {
		cb(path)
	}
}

// contentClassPatterns are class fragments common to main-content containers.
var contentClassPatterns = []string{"content", "main", "app", "page", "root"}

func mainContentLike(rec mutation.Record) bool {
	switch rec.Tag {
	case "main", "article":
		return true
	}
	if rec.Role == "main" {
		return true
	}
	for _, cls := range rec.Classes {
		lower := strings.ToLower(cls)
		for _, pat := range contentClassPatterns {
			if strings.Contains(lower, pat) {
				return true
			}
		}
	}
	return false
}
