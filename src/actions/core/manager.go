package core

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Module is a long-running part of the process that can be started and stopped.
type Module interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context)
}

// Manager starts modules in registration order and stops them in reverse.
type Manager struct {
	modules []Module
	started []Module
	log     *zap.Logger
	mu      sync.Mutex
}

// NewManager creates a manager for mods. Nil modules are ignored.
func NewManager(log *zap.Logger, mods ...Module) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{log: log}
	for _, mod := range mods {
		if mod != nil {
			m.modules = append(m.modules, mod)
		}
	}
	return m
}

// Add registers a module before Start is invoked.
func (m *Manager) Add(mod Module) error {
	if mod == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started != nil {
		return fmt.Errorf("core.Manager: cannot add module %s after start", mod.Name())
	}
	m.modules = append(m.modules, mod)
	return nil
}

// Start starts every module. If one fails, the ones already started are stopped.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started != nil {
		return fmt.Errorf("core.Manager already started")
	}

	started := make([]Module, 0, len(m.modules))
	for _, mod := range m.modules {
		if err := mod.Start(ctx); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				started[i].Stop(ctx)
			}
			return fmt.Errorf("module %s failed: %w", mod.Name(), err)
		}
		m.log.Info("module started", zap.String("module", mod.Name()))
		started = append(started, mod)
	}
	m.started = started
	return nil
}

// Stop shuts down started modules in reverse order.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.started) - 1; i >= 0; i-- {
		m.started[i].Stop(ctx)
		m.log.Info("module stopped", zap.String("module", m.started[i].Name()))
	}
	m.started = nil
}
