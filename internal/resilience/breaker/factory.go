package breaker

import (
	"log/slog"
	"sync"
)

// Factory lazily creates and retains one Breaker per key, so adapters
// and the cache's T2 tier each get an independently-tripping breaker
// ("adapter:<name>", "cache:t2") without needing global registration.
type Factory struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewFactory creates a Factory that builds breakers with cfg.
func NewFactory(cfg Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the Breaker for key, creating it on first use.
func (f *Factory) Get(key string) *Breaker {
	f.mu.Lock()
	defer f.mu.Unlock()

	if b, ok := f.breakers[key]; ok {
		return b
	}
	// cfg was validated at Factory construction time via NewFactory's
	// caller; New only fails on invalid config, so this never errors.
	b, _ := New(key, f.cfg, f.logger)
	f.breakers[key] = b
	return b
}

// Reset resets every breaker the factory has created, for tests.
func (f *Factory) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.breakers {
		b.Reset()
	}
}
