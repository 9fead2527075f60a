package app

import (
	"errors"
	"fmt"

	"github.com/NodePath81/netgauge/internal/config"
	"github.com/NodePath81/netgauge/internal/diag"
	"github.com/NodePath81/netgauge/internal/endpoint"
	"github.com/NodePath81/netgauge/internal/geo"
	"github.com/NodePath81/netgauge/internal/history"
	"github.com/NodePath81/netgauge/internal/metrics"
	"github.com/NodePath81/netgauge/internal/probe"
	"github.com/NodePath81/netgauge/internal/resolver"
	"github.com/NodePath81/netgauge/internal/retry"
	"github.com/NodePath81/netgauge/internal/util"
)

// Components is an orchestrator together with the resources it owns.
type Components struct {
	Orchestrator *diag.Orchestrator
	History      history.Recorder
	Metrics      *metrics.Metrics
	Geo          *geo.DB

	ownsHistory bool
}

// BuildComponents wires an orchestrator from cfg. A nil hist opens the
// recorder named by cfg.History and Close releases it; a recorder passed in
// stays open. The caller closes the result.
func BuildComponents(cfg config.Config, hist history.Recorder, logger util.Logger) (*Components, error) {
	client, err := endpoint.New(endpoint.Options{
		BaseURL: cfg.Endpoint.BaseURL,
		Timeout: cfg.Endpoint.Timeout.Duration(),
	})
	if err != nil {
		return nil, fmt.Errorf("endpoint: %w", err)
	}
	method, err := probe.ParseMethod(cfg.Diagnostics.Ping.Method)
	if err != nil {
		return nil, err
	}

	comps := &Components{Metrics: metrics.NewMetrics(), History: hist}
	if hist == nil {
		comps.History, err = history.Open(cfg.History.Backend, cfg.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		comps.ownsHistory = true
	}
	if cfg.GeoIP.Database != "" {
		comps.Geo, err = geo.Open(cfg.GeoIP.Database)
		if err != nil {
			_ = comps.Close()
			return nil, fmt.Errorf("geoip: %w", err)
		}
	}

	d := cfg.Diagnostics
	comps.Orchestrator, err = diag.New(diag.Deps{
		Client:   client,
		History:  comps.History,
		Resolver: resolver.New(cfg.DNS.Servers),
		Geo:      comps.Geo,
		Metrics:  comps.Metrics,
		Logger:   logger,
	}, diag.Options{
		Retry: retry.Policy{
			Attempts: d.Attempts,
			Backoff:  d.Backoff.Duration(),
			Jitter:   d.Jitter.Duration(),
		},
		ProbeTimeout:  d.ProbeTimeout.Duration(),
		StreamTimeout: d.StreamTimeout.Duration(),
		RetainLimit:   d.RetainLimitBytes,
		PingMethod:    method,
		PingSamples:   d.Ping.Samples,
		PingInterval:  d.Ping.Interval.Duration(),
		PingPort:      d.Ping.Port,
	})
	if err != nil {
		_ = comps.Close()
		return nil, err
	}
	return comps, nil
}

func (c *Components) Close() error {
	var errs []error
	if c.History != nil && c.ownsHistory {
		errs = append(errs, c.History.Close())
	}
	if c.Geo != nil {
		errs = append(errs, c.Geo.Close())
	}
	return errors.Join(errs...)
}
