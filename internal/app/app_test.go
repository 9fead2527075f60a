package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NodePath81/netgauge/internal/config"
	"github.com/NodePath81/netgauge/internal/diag"
	"github.com/NodePath81/netgauge/internal/endpoint/endpointtest"
	"github.com/NodePath81/netgauge/internal/history"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNextIntervalWithinBounds(t *testing.T) {
	s := NewScheduler(10*time.Second, 20*time.Second, nil, discardLogger(), rand.New(rand.NewSource(1)))
	for i := 0; i < 100; i++ {
		d := s.nextInterval()
		if d < 10*time.Second || d >= 20*time.Second {
			t.Fatalf("interval %s out of range", d)
		}
	}
}

func TestNextIntervalFixed(t *testing.T) {
	s := NewScheduler(time.Minute, time.Minute, nil, discardLogger(), nil)
	if d := s.nextInterval(); d != time.Minute {
		t.Fatalf("expected 1m, got %s", d)
	}
}

func TestSchedulerRunsUntilCancelled(t *testing.T) {
	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(5*time.Millisecond, 5*time.Millisecond, func(ctx context.Context) error {
		if runs.Add(1) == 2 {
			return diag.ErrRunInProgress
		}
		return nil
	}, discardLogger(), nil)

	done := make(chan struct{})
	go func() {
		s.RunLoop(ctx)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected at least 3 runs, got %d", runs.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestConfigWatcherDebounces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netgauge.yaml")
	if err := os.WriteFile(path, []byte("a: 1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	var calls atomic.Int32
	w := NewConfigWatcher(path, func() { calls.Add(1) }, discardLogger())
	w.debounce = 50 * time.Millisecond
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("a: 2\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("b: 1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("change not observed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(150 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 debounced call, got %d", got)
	}
}

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	t.Setenv("NETGAUGE_ENDPOINT_URL", baseURL)
	t.Setenv("NETGAUGE_AUTH_TOKEN", "")
	cfg, err := config.LoadConfig("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestBuildComponentsRunsDiagnostics(t *testing.T) {
	srv := endpointtest.New()
	defer srv.Close()
	cfg := testConfig(t, srv.URL)

	comps, err := BuildComponents(cfg, nil, discardLogger())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer comps.Close()

	report, err := comps.Orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Snapshot == nil {
		t.Fatal("expected snapshot")
	}
	snaps, err := comps.History.All(context.Background())
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(snaps) != 1 || snaps[0].RunID != report.RunID {
		t.Fatalf("unexpected history %+v", snaps)
	}
}

func TestBuildComponentsRejectsBadGeoDB(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.GeoIP.Database = filepath.Join(t.TempDir(), "missing.mmdb")
	if _, err := BuildComponents(cfg, nil, discardLogger()); err == nil {
		t.Fatal("expected error for missing geoip database")
	}
}

func TestNewRuntimeRequiresAuthToken(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	if _, err := NewRuntime(cfg, nil, discardLogger(), nil); err == nil {
		t.Fatal("expected error without control.auth_token")
	}
}

func TestRuntimeLifecycle(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Control.AuthToken = "token"
	cfg.Control.BindPort = freePort(t)
	cfg.History.Backend = history.BackendSQLite
	cfg.History.DSN = history.DefaultSQLiteDSN

	rt, err := NewRuntime(cfg, nil, discardLogger(), nil)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	if err := rt.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if rt.Orchestrator() == nil {
		t.Fatal("expected orchestrator")
	}
	rt.Stop()
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestSupervisorRestartReplacesRuntime(t *testing.T) {
	t.Setenv("NETGAUGE_ENDPOINT_URL", "")
	t.Setenv("NETGAUGE_AUTH_TOKEN", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "netgauge.yaml")
	raw := fmt.Sprintf("endpoint:\n  base_url: http://127.0.0.1:1\ncontrol:\n  bind_port: %d\n  auth_token: token\n", freePort(t))
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s := NewSupervisor(path, discardLogger())
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()
	first := s.Runtime()
	if first == nil {
		t.Fatal("expected runtime")
	}
	if err := s.Restart(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if s.Runtime() == nil || s.Runtime() == first {
		t.Fatal("expected a new runtime after restart")
	}

	if err := os.WriteFile(path, []byte("endpoint:\n  base_url: ftp://nowhere\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	current := s.Runtime()
	if err := s.Restart(); err == nil {
		t.Fatal("expected invalid config to fail restart")
	}
	if s.Runtime() != current {
		t.Fatal("invalid config must keep the running runtime")
	}
}

func writeSupervisorConfig(t *testing.T, path, baseURL, extra string) {
	t.Helper()
	raw := fmt.Sprintf("endpoint:\n  base_url: %s\ncontrol:\n  bind_port: %d\n  auth_token: token\n%s", baseURL, freePort(t), extra)
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func runOnce(t *testing.T, s *Supervisor) {
	t.Helper()
	if _, err := s.Runtime().Orchestrator().Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func historySnapshots(t *testing.T, s *Supervisor) []history.Snapshot {
	t.Helper()
	snaps, err := s.History().All(context.Background())
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	return snaps
}

func TestSupervisorRestartKeepsHistory(t *testing.T) {
	t.Setenv("NETGAUGE_ENDPOINT_URL", "")
	t.Setenv("NETGAUGE_AUTH_TOKEN", "")
	srv := endpointtest.New()
	defer srv.Close()
	path := filepath.Join(t.TempDir(), "netgauge.yaml")
	writeSupervisorConfig(t, path, srv.URL, "")

	s := NewSupervisor(path, discardLogger())
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()
	runOnce(t, s)
	runOnce(t, s)

	if err := s.Restart(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if got := len(historySnapshots(t, s)); got != 2 {
		t.Fatalf("expected 2 snapshots after restart, got %d", got)
	}
	runOnce(t, s)
	snaps := historySnapshots(t, s)
	if len(snaps) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(snaps))
	}
	for i := 1; i < len(snaps); i++ {
		if !snaps[i].Timestamp.After(snaps[i-1].Timestamp) {
			t.Fatalf("timestamps not increasing at %d", i)
		}
	}
}

func TestSupervisorRestartMigratesHistoryBackend(t *testing.T) {
	t.Setenv("NETGAUGE_ENDPOINT_URL", "")
	t.Setenv("NETGAUGE_AUTH_TOKEN", "")
	srv := endpointtest.New()
	defer srv.Close()
	path := filepath.Join(t.TempDir(), "netgauge.yaml")
	writeSupervisorConfig(t, path, srv.URL, "")

	s := NewSupervisor(path, discardLogger())
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()
	runOnce(t, s)
	runOnce(t, s)
	before := historySnapshots(t, s)

	writeSupervisorConfig(t, path, srv.URL, "history:\n  backend: sqlite\n  dsn: file:netgauge-migrate?mode=memory&cache=shared\n")
	if err := s.Restart(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if _, ok := s.History().(*history.Memory); ok {
		t.Fatal("expected the sqlite recorder after restart")
	}
	after := historySnapshots(t, s)
	if len(after) != len(before) {
		t.Fatalf("expected %d migrated snapshots, got %d", len(before), len(after))
	}
	for i := range before {
		if after[i].RunID != before[i].RunID {
			t.Fatalf("snapshot %d: run %s, want %s", i, after[i].RunID, before[i].RunID)
		}
	}
	runOnce(t, s)
	if got := len(historySnapshots(t, s)); got != 3 {
		t.Fatalf("expected 3 snapshots, got %d", got)
	}
}
