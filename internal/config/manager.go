package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeEvent describes one observed configuration change.
type ChangeEvent struct {
	File      string    `json:"file"`
	Config    *Config   `json:"config"`
	Timestamp time.Time `json:"timestamp"`
}

// ChangeHandler is invoked after a config file change has been re-parsed and
// validated. Handlers apply the pieces they own (monitoring intervals,
// thresholds) without a process restart.
type ChangeHandler func(event ChangeEvent) error

// Manager watches the orchestrator config file and fans re-validated
// configuration out to registered handlers.
type Manager struct {
	path     string
	current  *Config
	handlers []ChangeHandler
	watcher  *fsnotify.Watcher
	started  bool
	stopCh   chan struct{}
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewManager creates a configuration manager for the given file.
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}

	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	return &Manager{
		path:    path,
		current: cfg,
		watcher: watcher,
		stopCh:  make(chan struct{}),
		logger:  logger,
	}, nil
}

// Current returns the most recently loaded configuration.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnChange registers a handler called on every successful reload.
func (m *Manager) OnChange(handler ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// Start begins watching for changes. Idempotent.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	// Watch the directory, not the file: editors and config maps replace
	// files rather than write in place.
	if err := m.watcher.Add(filepath.Dir(m.path)); err != nil {
		return fmt.Errorf("watch config directory: %w", err)
	}

	go m.watchLoop()

	m.logger.Info("Configuration manager started", zap.String("path", m.path))
	return nil
}

// Stop stops watching. Idempotent and safe without a prior Start.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}

	close(m.stopCh)
	if err := m.watcher.Close(); err != nil {
		m.logger.Error("Error closing config watcher", zap.Error(err))
	}
	m.started = false

	m.logger.Info("Configuration manager stopped")
	return nil
}

func (m *Manager) watchLoop() {
	// Debounce bursts of write events for the same save.
	var pending <-chan time.Time

	for {
		select {
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending = time.After(200 * time.Millisecond)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("Config watcher error", zap.Error(err))
		case <-pending:
			pending = nil
			m.reload()
		}
	}
}

func (m *Manager) reload() {
	cfg, err := LoadFile(m.path)
	if err != nil {
		// Keep running on the previous good configuration.
		m.logger.Error("Config reload failed, keeping previous configuration",
			zap.String("path", m.path),
			zap.Error(err),
		)
		return
	}

	m.mu.Lock()
	m.current = cfg
	handlers := make([]ChangeHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	event := ChangeEvent{File: m.path, Config: cfg, Timestamp: time.Now()}
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			m.logger.Error("Config change handler failed", zap.Error(err))
		}
	}

	m.logger.Info("Configuration reloaded",
		zap.String("path", m.path),
		zap.Int("handlers", len(handlers)),
	)
}
