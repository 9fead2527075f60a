package app

import (
	"context"
	"sync"
	"time"

	"github.com/NodePath81/netgauge/internal/config"
	"github.com/NodePath81/netgauge/internal/control"
	"github.com/NodePath81/netgauge/internal/diag"
	"github.com/NodePath81/netgauge/internal/history"
	"github.com/NodePath81/netgauge/internal/util"
)

// Runtime is one configuration generation: the orchestrator, its control
// server and the periodic scheduler. A restart replaces the whole Runtime.
type Runtime struct {
	cfg         config.Config
	ctx         context.Context
	cancel      context.CancelFunc
	logger      util.Logger
	comps       *Components
	hub         *control.StatusHub
	control     *control.ControlServer
	unsubscribe func()
	wg          sync.WaitGroup
}

// NewRuntime builds a runtime that records into hist. A nil hist gives the
// runtime its own recorder, closed by Stop.
func NewRuntime(cfg config.Config, hist history.Recorder, logger util.Logger, restartFn func() error) (*Runtime, error) {
	if err := cfg.ValidateControl(); err != nil {
		return nil, err
	}
	comps, err := BuildComponents(cfg, hist, logger)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	hub := control.NewStatusHub(ctx.Done())
	rt := &Runtime{
		cfg:         cfg,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
		comps:       comps,
		hub:         hub,
		unsubscribe: comps.Orchestrator.Subscribe(hub.Publish),
	}
	rt.control = control.NewControlServer(cfg, comps.Orchestrator, comps.History, comps.Metrics, hub, restartFn, logger)
	comps.Metrics.Start(ctx.Done())
	return rt, nil
}

func (r *Runtime) Start() error {
	if err := r.control.Start(r.ctx); err != nil {
		return err
	}
	r.startScheduler()
	return nil
}

func (r *Runtime) Stop() {
	r.cancel()
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
	if r.control != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = r.control.Shutdown(ctx)
		cancel()
	}
	r.wait()
	if err := r.comps.Close(); err != nil {
		r.logger.Error("failed to close resources", "error", err)
	}
}

// Orchestrator exposes the runtime's orchestrator.
func (r *Runtime) Orchestrator() *diag.Orchestrator {
	return r.comps.Orchestrator
}

func (r *Runtime) startScheduler() {
	interval := r.cfg.Diagnostics.Interval
	if !interval.Enabled() {
		return
	}
	scheduler := NewScheduler(interval.Min.Duration(), interval.Max.Duration(), func(ctx context.Context) error {
		_, err := r.comps.Orchestrator.Run(ctx)
		return err
	}, r.logger, nil)
	r.logger.Info("periodic diagnostics enabled", "min", interval.Min.Duration(), "max", interval.Max.Duration())

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		scheduler.RunLoop(r.ctx)
	}()
}

func (r *Runtime) wait() {
	r.wg.Wait()
}
