package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/NodePath81/netgauge/internal/config"
	"github.com/NodePath81/netgauge/internal/history"
	"github.com/NodePath81/netgauge/internal/util"
)

type Supervisor struct {
	configPath string
	logger     util.Logger
	mu         sync.Mutex
	runtime    *Runtime
	watcher    *ConfigWatcher
	restartMu  sync.Mutex

	// history outlives runtimes so restarts keep every snapshot.
	history    history.Recorder
	historyCfg config.HistoryConfig
}

func NewSupervisor(configPath string, logger util.Logger) *Supervisor {
	return &Supervisor{
		configPath: configPath,
		logger:     logger,
	}
}

// Start loads the config, starts a runtime and, when a config file is in
// use, watches it for changes.
func (s *Supervisor) Start() error {
	s.restartMu.Lock()
	cfg, err := config.LoadConfig(s.configPath)
	if err == nil {
		err = s.openHistory(cfg.History)
	}
	if err == nil {
		if err = s.startWith(cfg); err != nil {
			s.closeHistory()
		}
	}
	s.restartMu.Unlock()
	if err != nil {
		return err
	}

	if s.configPath != "" && s.watcher == nil {
		watcher := NewConfigWatcher(s.configPath, s.reload, s.logger)
		if err := watcher.Start(); err != nil {
			s.logger.Warn("config watch disabled", "error", err)
		} else {
			s.watcher = watcher
		}
	}
	return nil
}

func (s *Supervisor) startWith(cfg config.Config) error {
	runtime, err := NewRuntime(cfg, s.history, s.logger, s.Restart)
	if err != nil {
		return err
	}
	if err := runtime.Start(); err != nil {
		runtime.Stop()
		return err
	}
	s.mu.Lock()
	s.runtime = runtime
	s.mu.Unlock()
	return nil
}

// Restart reloads the config and replaces the running runtime. An invalid
// config leaves the current runtime in place. Snapshots recorded so far are
// carried over, into the new store when the history backend changed.
func (s *Supervisor) Restart() error {
	s.restartMu.Lock()
	defer s.restartMu.Unlock()

	cfg, err := config.LoadConfig(s.configPath)
	if err != nil {
		return err
	}
	if err := cfg.ValidateControl(); err != nil {
		return err
	}
	var next history.Recorder
	if cfg.History != s.historyCfg {
		next, err = history.Open(cfg.History.Backend, cfg.History.DSN)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
	}

	s.mu.Lock()
	current := s.runtime
	s.runtime = nil
	s.mu.Unlock()
	if current != nil {
		current.Stop()
	}

	if next != nil {
		s.migrateHistory(next, cfg.History)
	}
	return s.startWith(cfg)
}

func (s *Supervisor) openHistory(cfg config.HistoryConfig) error {
	if s.history != nil {
		return nil
	}
	rec, err := history.Open(cfg.Backend, cfg.DSN)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	s.history = rec
	s.historyCfg = cfg
	return nil
}

// migrateHistory copies every snapshot into next and makes it the active
// store. Runtimes must be stopped.
func (s *Supervisor) migrateHistory(next history.Recorder, cfg config.HistoryConfig) {
	ctx := context.Background()
	if s.history != nil {
		snaps, err := s.history.All(ctx)
		if err != nil {
			s.logger.Error("history migration read failed", "error", err)
		}
		for _, snap := range snaps {
			if err := next.Append(ctx, snap); err != nil {
				s.logger.Error("history migration write failed", "run_id", snap.RunID, "error", err)
				break
			}
		}
		s.logger.Info("history migrated", "backend", cfg.Backend, "snapshots", len(snaps))
		s.closeHistory()
	}
	s.history = next
	s.historyCfg = cfg
}

func (s *Supervisor) closeHistory() {
	if s.history == nil {
		return
	}
	if err := s.history.Close(); err != nil {
		s.logger.Error("failed to close history", "error", err)
	}
	s.history = nil
}

func (s *Supervisor) reload() {
	if err := s.Restart(); err != nil {
		s.logger.Error("config reload failed", "error", err)
		return
	}
	s.logger.Info("config reloaded")
}

// Runtime returns the active runtime, or nil between generations.
func (s *Supervisor) Runtime() *Runtime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runtime
}

// History returns the recorder shared by every runtime generation.
func (s *Supervisor) History() history.Recorder {
	s.restartMu.Lock()
	defer s.restartMu.Unlock()
	return s.history
}

func (s *Supervisor) Stop() {
	if s.watcher != nil {
		s.watcher.Stop()
		s.watcher = nil
	}
	s.restartMu.Lock()
	defer s.restartMu.Unlock()
	s.mu.Lock()
	current := s.runtime
	s.runtime = nil
	s.mu.Unlock()
	if current != nil {
		current.Stop()
	}
	s.closeHistory()
}
