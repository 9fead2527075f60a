// Package diag runs the diagnostic sequence against the remote endpoint:
// address lookup, latency, download and upload throughput, then the
// independent security and service probes in parallel.
package diag

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NodePath81/netgauge/internal/endpoint"
	"github.com/NodePath81/netgauge/internal/geo"
	"github.com/NodePath81/netgauge/internal/history"
	"github.com/NodePath81/netgauge/internal/metrics"
	"github.com/NodePath81/netgauge/internal/probe"
	"github.com/NodePath81/netgauge/internal/resolver"
	"github.com/NodePath81/netgauge/internal/retry"
	"github.com/NodePath81/netgauge/internal/sampler"
	"github.com/NodePath81/netgauge/internal/util"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

var (
	ErrRunInProgress = errors.New("diagnostic run already in progress")
	// ErrStreamFailed matches the error of a run aborted by a broken
	// download stream.
	ErrStreamFailed = sampler.ErrStreamFailed
)

// Client is the remote endpoint as the orchestrator uses it.
type Client interface {
	Probe(ctx context.Context, key string) (any, error)
	Download(ctx context.Context) (*endpoint.Stream, error)
	Upload(ctx context.Context, payload []byte, start time.Time) (time.Duration, bool, error)
	Host() string
	Port() int
}

type Options struct {
	Retry         retry.Policy
	ProbeTimeout  time.Duration
	StreamTimeout time.Duration
	RetainLimit   int64
	PingMethod    probe.Method
	PingSamples   int
	PingInterval  time.Duration
	// PingPort is the TCP ping port; 0 uses the endpoint port.
	PingPort int
}

// Deps are the orchestrator's collaborators. Client and History are
// required; the rest may be nil.
type Deps struct {
	Client   Client
	History  history.Recorder
	Resolver *resolver.Resolver
	Geo      *geo.DB
	Metrics  *metrics.Metrics
	Logger   util.Logger
}

type Report struct {
	RunID      string            `json:"run_id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Results    []ProbeResult     `json:"results"`
	Addresses  []string          `json:"addresses,omitempty"`
	Geo        *geo.Info         `json:"geo,omitempty"`
	Ping       *probe.Stats      `json:"ping,omitempty"`
	Download   *sampler.Sample   `json:"download,omitempty"`
	Upload     *sampler.Sample   `json:"upload,omitempty"`
	Snapshot   *history.Snapshot `json:"snapshot,omitempty"`
	Error      string            `json:"error,omitempty"`

	results *Results
}

// Result returns the state of key in this run.
func (r *Report) Result(key string) ProbeResult {
	res, _ := r.results.Get(key)
	return res
}

type Orchestrator struct {
	deps    Deps
	opts    Options
	sampler *sampler.Sampler
	running atomic.Bool

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObs   int

	lastMu sync.RWMutex
	last   *Report
}

func New(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Client == nil {
		return nil, fmt.Errorf("diag: endpoint client is required")
	}
	if deps.History == nil {
		return nil, fmt.Errorf("diag: history recorder is required")
	}
	if deps.Logger == nil {
		deps.Logger = util.NewLogger()
	}
	if opts.PingMethod == "" {
		opts.PingMethod = probe.MethodHTTP
	}
	if opts.PingSamples <= 0 {
		opts.PingSamples = 1
	}
	return &Orchestrator{
		deps:      deps,
		opts:      opts,
		sampler:   sampler.New(opts.RetainLimit),
		observers: make(map[int]Observer),
	}, nil
}

func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Last returns the most recent finished report, or nil.
func (o *Orchestrator) Last() *Report {
	o.lastMu.RLock()
	defer o.lastMu.RUnlock()
	return o.last
}

// run is the state of one Run call.
type run struct {
	o       *Orchestrator
	id      string
	results *Results
	report  *Report
	logger  util.Logger
}

func (r *run) set(key string, status Status, value any) {
	res := r.results.set(key, status, value)
	if r.o.deps.Metrics != nil && status != StatusPending {
		r.o.deps.Metrics.ObserveProbe(key, string(status))
	}
	r.o.emit(Event{Type: EventProbe, RunID: r.id, Key: key, Status: res.Status, Value: res.Value})
}

func (r *run) fail(key string, err error) {
	r.logger.Warn("probe failed", "key", key, "error", err)
	r.set(key, StatusError, err.Error())
}

func (r *run) progress(key string, fraction float64) {
	r.o.emit(Event{Type: EventProbe, RunID: r.id, Key: key, Status: StatusPending, Progress: &fraction})
}

// Run executes one diagnostic pass. Probe failures are recorded and never
// abort the run. A broken download stream aborts it with a
// *sampler.StreamError; the partial report is returned with the error and
// no snapshot is recorded. Overlapping calls fail with ErrRunInProgress.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer o.running.Store(false)

	r := &run{o: o, id: uuid.NewString(), results: NewResults()}
	r.logger = o.deps.Logger.With("run_id", r.id)
	r.report = &Report{RunID: r.id, StartedAt: time.Now(), results: r.results}
	if o.deps.Metrics != nil {
		o.deps.Metrics.RunStarted()
	}
	r.logger.Info("diagnostic run started", "endpoint", o.deps.Client.Host())
	o.emit(Event{Type: EventRunStarted, RunID: r.id})

	ips := r.resolve(ctx)
	r.lookupIP(ctx)
	pingMs := r.ping(ctx, ips)

	download, err := r.download(ctx)
	if err != nil {
		return o.finish(r, metrics.RunFailed, err), err
	}
	uploadMBps := r.upload(ctx, download.Payload)
	r.parallel(ctx)

	snap := history.Snapshot{
		Timestamp:    time.Now(),
		PingMs:       pingMs,
		DownloadMBps: round2(download.MBps()),
		UploadMBps:   uploadMBps,
		RunID:        r.id,
	}
	if err := o.deps.History.Append(ctx, snap); err != nil {
		r.logger.Error("failed to record snapshot", "error", err)
	} else {
		r.report.Snapshot = &snap
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.SetLastMeasurement(snap.PingMs, snap.DownloadMBps, snap.UploadMBps)
	}
	return o.finish(r, metrics.RunCompleted, nil), nil
}

func (o *Orchestrator) finish(r *run, result string, err error) *Report {
	rep := r.report
	rep.FinishedAt = time.Now()
	rep.Results = r.results.List()
	ev := Event{Type: EventRunFinished, RunID: r.id}
	if err != nil {
		rep.Error = err.Error()
		ev.Error = err.Error()
		r.logger.Error("diagnostic run failed", "error", err)
	} else {
		r.logger.Info("diagnostic run completed", "duration", rep.FinishedAt.Sub(rep.StartedAt))
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.RunFinished(result, rep.FinishedAt.Sub(rep.StartedAt))
	}
	o.lastMu.Lock()
	o.last = rep
	o.lastMu.Unlock()
	o.emit(ev)
	return rep
}

func (r *run) resolve(ctx context.Context) []net.IP {
	if r.o.deps.Resolver == nil {
		return nil
	}
	ips, err := r.o.deps.Resolver.Resolve(ctx, r.o.deps.Client.Host())
	if err != nil {
		r.logger.Warn("endpoint resolution failed", "host", r.o.deps.Client.Host(), "error", err)
		return nil
	}
	r.report.Addresses = lo.Map(ips, func(ip net.IP, _ int) string { return ip.String() })
	return ips
}

func (r *run) probeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.o.opts.ProbeTimeout > 0 {
		return context.WithTimeout(ctx, r.o.opts.ProbeTimeout)
	}
	return context.WithCancel(ctx)
}

func (r *run) streamContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.o.opts.StreamTimeout > 0 {
		return context.WithTimeout(ctx, r.o.opts.StreamTimeout)
	}
	return context.WithCancel(ctx)
}

// probeJSON fetches key under the retry policy.
func (r *run) probeJSON(ctx context.Context, key string) (any, error) {
	return retry.Do(ctx, r.o.opts.Retry, func(ctx context.Context, attempt int) (any, error) {
		pctx, cancel := r.probeContext(ctx)
		defer cancel()
		val, err := r.o.deps.Client.Probe(pctx, key)
		if err != nil {
			r.logger.Debug("probe attempt failed", "key", key, "attempt", attempt, "error", err)
		}
		return val, err
	})
}

func (r *run) lookupIP(ctx context.Context) {
	val, err := r.probeJSON(ctx, KeyIP)
	if err != nil {
		r.fail(KeyIP, err)
		return
	}
	r.set(KeyIP, StatusSuccess, val)
	addr, ok := val.(string)
	if !ok || r.o.deps.Geo == nil {
		return
	}
	info, err := r.o.deps.Geo.Lookup(addr)
	if err != nil {
		r.logger.Warn("geoip lookup failed", "ip", addr, "error", err)
		return
	}
	r.report.Geo = &info
}

// ping returns the measured round trip in ms, or 0 when it failed.
func (r *run) ping(ctx context.Context, ips []net.IP) float64 {
	pingFn, err := r.pingFunc(ctx, ips)
	if err != nil {
		r.fail(KeyPing, err)
		return 0
	}
	stats, err := retry.Do(ctx, r.o.opts.Retry, func(ctx context.Context, attempt int) (probe.Stats, error) {
		return probe.Sample(ctx, pingFn, r.o.opts.PingSamples, r.o.opts.PingInterval)
	})
	if err != nil {
		r.fail(KeyPing, err)
		return 0
	}
	ms := round2(stats.MeanMs())
	if r.o.opts.PingSamples > 1 {
		r.report.Ping = &stats
	}
	r.set(KeyPing, StatusSuccess, ms)
	return ms
}

func (r *run) pingFunc(ctx context.Context, ips []net.IP) (probe.Func, error) {
	switch r.o.opts.PingMethod {
	case probe.MethodICMP, probe.MethodTCP:
	default:
		return func(ctx context.Context) (time.Duration, error) {
			pctx, cancel := r.probeContext(ctx)
			defer cancel()
			start := time.Now()
			if _, err := r.o.deps.Client.Probe(pctx, KeyPing); err != nil {
				return 0, err
			}
			return time.Since(start), nil
		}, nil
	}

	timeout := r.o.opts.ProbeTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if r.o.opts.PingMethod == probe.MethodTCP {
		port := r.o.opts.PingPort
		if port <= 0 {
			port = r.o.deps.Client.Port()
		}
		return probe.TCP(r.o.deps.Client.Host(), port, timeout), nil
	}
	if len(ips) == 0 {
		ip := net.ParseIP(r.o.deps.Client.Host())
		if ip == nil {
			resolved, err := resolver.New(nil).Resolve(ctx, r.o.deps.Client.Host())
			if err != nil {
				return nil, fmt.Errorf("resolve endpoint for icmp: %w", err)
			}
			ip = resolved[0]
		}
		ips = []net.IP{ip}
	}
	return probe.ICMP(ips[0], timeout), nil
}

func (r *run) download(ctx context.Context) (sampler.Sample, error) {
	sctx, cancel := r.streamContext(ctx)
	defer cancel()

	stream, err := r.o.deps.Client.Download(sctx)
	if err != nil {
		serr := &sampler.StreamError{Err: err}
		r.set(KeyDownload, StatusError, serr.Error())
		return sampler.Sample{}, serr
	}
	defer stream.Body.Close()

	lastPct := -1
	sample, err := r.o.sampler.Download(sctx, stream.Body, stream.ContentLength, func(fraction float64) {
		if pct := int(fraction * 100); pct != lastPct {
			lastPct = pct
			r.progress(KeyDownload, fraction)
		}
	})
	if err != nil {
		r.set(KeyDownload, StatusError, err.Error())
		return sampler.Sample{}, err
	}
	if stream.Conn != nil {
		if tcp, ok := endpoint.TCPConn(stream.Conn); ok {
			if stats, err := sampler.ReadTCPStats(tcp); err == nil {
				sample.TCP = &stats
				if r.o.deps.Metrics != nil {
					r.o.deps.Metrics.SetTCPStats(stats.RTT, stats.Retransmits)
				}
			} else {
				r.logger.Debug("tcp stats unavailable", "error", err)
			}
		}
	}
	if r.o.deps.Metrics != nil {
		r.o.deps.Metrics.AddBytesDown(uint64(sample.Bytes))
	}
	r.report.Download = &sample
	r.set(KeyDownload, StatusSuccess, round2(sample.MBps()))
	return sample, nil
}

// upload returns the measured MB/s, or 0 when it failed.
func (r *run) upload(ctx context.Context, payload []byte) float64 {
	sctx, cancel := r.streamContext(ctx)
	defer cancel()
	sample, err := r.o.sampler.Upload(sctx, r.o.deps.Client.Upload, payload)
	if err != nil {
		r.fail(KeyUpload, err)
		return 0
	}
	if r.o.deps.Metrics != nil {
		r.o.deps.Metrics.AddBytesUp(uint64(sample.Bytes))
	}
	r.report.Upload = &sample
	mbps := round2(sample.MBps())
	r.set(KeyUpload, StatusSuccess, mbps)
	return mbps
}

func (r *run) parallel(ctx context.Context) {
	var wg sync.WaitGroup
	for _, key := range ParallelKeys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			val, err := r.probeJSON(ctx, key)
			if err != nil {
				r.fail(key, err)
				return
			}
			r.set(key, StatusSuccess, val)
		}(key)
	}
	wg.Wait()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
