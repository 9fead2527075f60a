package metrics

import (
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	RunCompleted = "completed"
	RunFailed    = "failed"
)

type probeKey struct {
	probe  string
	status string
}

type Metrics struct {
	mu               sync.Mutex
	runs             map[string]uint64
	runInProgress    bool
	probeResults     map[probeKey]uint64
	lastPingMs       float64
	lastDownloadMBps float64
	lastUploadMBps   float64
	lastRunSeconds   float64
	lastRunAt        time.Time
	tcpRTTMs         float64
	tcpRetransmits   uint64
	memoryAllocBytes uint64
	startTime        time.Time

	bytesDownTotal atomic.Uint64
	bytesUpTotal   atomic.Uint64
	estimatesTotal atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{
		runs:         map[string]uint64{RunCompleted: 0, RunFailed: 0},
		probeResults: make(map[probeKey]uint64),
		startTime:    time.Now(),
	}
}

func (m *Metrics) Start(ctxDone <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctxDone:
				return
			case <-ticker.C:
				m.updateMemory()
			}
		}
	}()
}

func (m *Metrics) updateMemory() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.mu.Lock()
	m.memoryAllocBytes = mem.Alloc
	m.mu.Unlock()
}

func (m *Metrics) RunStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runInProgress = true
}

func (m *Metrics) RunFinished(result string, took time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runInProgress = false
	m.runs[result]++
	m.lastRunSeconds = took.Seconds()
	m.lastRunAt = time.Now()
}

func (m *Metrics) ObserveProbe(probe, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probeResults[probeKey{probe: probe, status: status}]++
}

func (m *Metrics) SetLastMeasurement(pingMs, downloadMBps, uploadMBps float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPingMs = pingMs
	m.lastDownloadMBps = downloadMBps
	m.lastUploadMBps = uploadMBps
}

func (m *Metrics) SetTCPStats(rtt time.Duration, retransmits uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tcpRTTMs = float64(rtt.Microseconds()) / 1000.0
	m.tcpRetransmits = retransmits
}

func (m *Metrics) AddBytesDown(n uint64) {
	m.bytesDownTotal.Add(n)
}

func (m *Metrics) AddBytesUp(n uint64) {
	m.bytesUpTotal.Add(n)
}

func (m *Metrics) IncEstimates() {
	m.estimatesTotal.Add(1)
}

func (m *Metrics) Handler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(m.Render()))
}

func (m *Metrics) Render() string {
	m.mu.Lock()
	runs := make(map[string]uint64, len(m.runs))
	for k, v := range m.runs {
		runs[k] = v
	}
	probes := make([]probeKey, 0, len(m.probeResults))
	probeCounts := make(map[probeKey]uint64, len(m.probeResults))
	for k, v := range m.probeResults {
		probes = append(probes, k)
		probeCounts[k] = v
	}
	inProgress := m.runInProgress
	pingMs, downMBps, upMBps := m.lastPingMs, m.lastDownloadMBps, m.lastUploadMBps
	runSeconds, runAt := m.lastRunSeconds, m.lastRunAt
	tcpRTTMs, tcpRetrans := m.tcpRTTMs, m.tcpRetransmits
	memoryAlloc := m.memoryAllocBytes
	startTime := m.startTime
	m.mu.Unlock()

	sort.Slice(probes, func(i, j int) bool {
		if probes[i].probe != probes[j].probe {
			return probes[i].probe < probes[j].probe
		}
		return probes[i].status < probes[j].status
	})
	results := make([]string, 0, len(runs))
	for k := range runs {
		results = append(results, k)
	}
	sort.Strings(results)

	var b strings.Builder
	b.WriteString("# TYPE netgauge_runs_total counter\n")
	for _, result := range results {
		b.WriteString("netgauge_runs_total{result=\"")
		b.WriteString(result)
		b.WriteString("\"} ")
		b.WriteString(strconv.FormatUint(runs[result], 10))
		b.WriteString("\n")
	}
	b.WriteString("# TYPE netgauge_run_in_progress gauge\n")
	b.WriteString("netgauge_run_in_progress ")
	b.WriteString(boolGauge(inProgress))
	b.WriteString("\n")
	b.WriteString("# TYPE netgauge_probe_results_total counter\n")
	for _, k := range probes {
		b.WriteString("netgauge_probe_results_total{probe=\"")
		b.WriteString(k.probe)
		b.WriteString("\",status=\"")
		b.WriteString(k.status)
		b.WriteString("\"} ")
		b.WriteString(strconv.FormatUint(probeCounts[k], 10))
		b.WriteString("\n")
	}
	writeGauge(&b, "netgauge_last_ping_ms", pingMs)
	writeGauge(&b, "netgauge_last_download_mbps", downMBps)
	writeGauge(&b, "netgauge_last_upload_mbps", upMBps)
	writeGauge(&b, "netgauge_last_run_duration_seconds", runSeconds)
	b.WriteString("# TYPE netgauge_last_run_timestamp_seconds gauge\n")
	b.WriteString("netgauge_last_run_timestamp_seconds ")
	if runAt.IsZero() {
		b.WriteString("0\n")
	} else {
		b.WriteString(strconv.FormatInt(runAt.Unix(), 10))
		b.WriteString("\n")
	}
	writeGauge(&b, "netgauge_tcp_rtt_ms", tcpRTTMs)
	writeUint(&b, "netgauge_tcp_retransmits", tcpRetrans, "gauge")
	writeUint(&b, "netgauge_bytes_down_total", m.bytesDownTotal.Load(), "counter")
	writeUint(&b, "netgauge_bytes_up_total", m.bytesUpTotal.Load(), "counter")
	writeUint(&b, "netgauge_estimates_total", m.estimatesTotal.Load(), "counter")
	writeUint(&b, "netgauge_memory_alloc_bytes", memoryAlloc, "gauge")
	b.WriteString("# TYPE netgauge_uptime_seconds gauge\n")
	b.WriteString("netgauge_uptime_seconds ")
	if startTime.IsZero() {
		b.WriteString("0\n")
	} else {
		b.WriteString(formatFloat(time.Since(startTime).Seconds()))
		b.WriteString("\n")
	}
	return b.String()
}

func writeGauge(b *strings.Builder, name string, val float64) {
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" gauge\n")
	b.WriteString(name)
	b.WriteString(" ")
	b.WriteString(formatFloat(val))
	b.WriteString("\n")
}

func writeUint(b *strings.Builder, name string, val uint64, kind string) {
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" ")
	b.WriteString(kind)
	b.WriteString("\n")
	b.WriteString(name)
	b.WriteString(" ")
	b.WriteString(strconv.FormatUint(val, 10))
	b.WriteString("\n")
}

func boolGauge(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func formatFloat(val float64) string {
	return strconv.FormatFloat(val, 'f', 6, 64)
}
