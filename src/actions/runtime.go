package actions

import (
	"context"
	"errors"
	"io"

	"github.com/stake-plus/govtally/src/actions/core"
	"github.com/stake-plus/govtally/src/actions/governance"
	"github.com/stake-plus/govtally/src/actions/jobs"
	"github.com/stake-plus/govtally/src/metrics"
	"go.uber.org/zap"
)

type (
	// Manager re-exports the core.Manager for consumers outside the actions package.
	Manager = core.Manager
	// Module re-exports the core.Module interface.
	Module = core.Module
)

// Runtime is the assembled service: the long-running modules plus the stores
// they share, which are closed once every module stopped.
type Runtime struct {
	Manager *Manager
	Runner  *jobs.Runner
	Monitor *governance.Monitor
	Ballot  *governance.Ballot
	Decider *governance.Decider
	Metrics *metrics.Metrics

	closers []io.Closer
	log     *zap.Logger
}

// Start starts every module in registration order.
func (r *Runtime) Start(ctx context.Context) error {
	return r.Manager.Start(ctx)
}

// Stop stops the modules in reverse order and closes the stores.
func (r *Runtime) Stop(ctx context.Context) {
	r.Manager.Stop(ctx)
	if err := r.Close(); err != nil {
		r.log.Warn("close incomplete", zap.Error(err))
	}
}

// Close releases stores and connections without touching modules. Used by
// one-shot commands that never start the manager.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
