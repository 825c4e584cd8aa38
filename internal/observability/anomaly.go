package observability

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/warden/internal/config"
)

const (
	defaultAnomalyWindow   = 300 * time.Second
	defaultDenialThreshold = 20
)

// AnomalyDetector flags class paths whose denials spike within a sliding window.
// A warning is emitted at most once per window per class path.
type AnomalyDetector struct {
	mu        sync.Mutex
	denials   map[string]*slidingWindow
	allowed   map[string]*slidingWindow
	lastAlert map[string]time.Time
	threshold int
	window    time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

type slidingWindow struct {
	entries []time.Time
	window  time.Duration
}

// NewAnomalyDetector creates an anomaly detector from config.
func NewAnomalyDetector(cfg *config.AnomalyConfig, logger *slog.Logger) *AnomalyDetector {
	a := &AnomalyDetector{
		denials:   make(map[string]*slidingWindow),
		allowed:   make(map[string]*slidingWindow),
		lastAlert: make(map[string]time.Time),
		threshold: defaultDenialThreshold,
		window:    defaultAnomalyWindow,
		logger:    logger,
		now:       time.Now,
	}
	if cfg != nil {
		if cfg.DenialThreshold > 0 {
			a.threshold = cfg.DenialThreshold
		}
		if cfg.WindowSeconds > 0 {
			a.window = time.Duration(cfg.WindowSeconds) * time.Second
		}
	}
	return a
}

// RecordDenial records an enforced denial for classPath.
// Returns true when this denial crossed the threshold and raised a warning.
func (a *AnomalyDetector) RecordDenial(classPath string) bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	w := a.windowFor(a.denials, classPath)
	w.add(now)
	count := w.count(now)
	if count < a.threshold {
		return false
	}
	if last, ok := a.lastAlert[classPath]; ok && now.Sub(last) < a.window {
		return false
	}
	a.lastAlert[classPath] = now

	if a.logger != nil {
		a.logger.Warn("anomaly detected: denial spike",
			slog.String("class_path", classPath),
			slog.Int("denials", count),
			slog.Int("allowed", a.windowFor(a.allowed, classPath).count(now)),
			slog.Int("threshold", a.threshold),
			slog.Duration("window", a.window),
		)
	}
	return true
}

// RecordAllowed records a permitted execution for classPath.
func (a *AnomalyDetector) RecordAllowed(classPath string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.windowFor(a.allowed, classPath).add(a.now())
}

// Denials returns the denial count for classPath within the current window.
func (a *AnomalyDetector) Denials(classPath string) int {
	if a == nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.denials[classPath]
	if !ok {
		return 0
	}
	return w.count(a.now())
}

func (a *AnomalyDetector) windowFor(m map[string]*slidingWindow, key string) *slidingWindow {
	w, ok := m[key]
	if !ok {
		w = &slidingWindow{window: a.window}
		m[key] = w
	}
	return w
}

func (w *slidingWindow) add(now time.Time) {
	w.entries = append(w.entries, now)
	w.prune(now)
}

func (w *slidingWindow) count(now time.Time) int {
	w.prune(now)
	return len(w.entries)
}

// prune removes entries older than the window.
func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.entries) && w.entries[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.entries = w.entries[i:]
	}
}
