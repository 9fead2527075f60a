package main

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/NodePath81/netgauge/internal/diag"
	"github.com/stretchr/testify/require"
)

func TestFormatValue(t *testing.T) {
	require.Equal(t, "12.50 ms", formatValue(diag.ProbeResult{Key: diag.KeyPing, Status: diag.StatusSuccess, Value: 12.5}))
	require.Equal(t, "3.20 MB/s", formatValue(diag.ProbeResult{Key: diag.KeyDownload, Status: diag.StatusSuccess, Value: 3.2}))
	require.Equal(t, "[22,443]", formatValue(diag.ProbeResult{Key: diag.KeyPorts, Status: diag.StatusSuccess, Value: []any{22.0, 443.0}}))
	require.Equal(t, "timeout", formatValue(diag.ProbeResult{Key: diag.KeyPing, Status: diag.StatusError, Value: "timeout"}))
	require.Equal(t, "-", formatValue(diag.ProbeResult{Key: diag.KeyNmap, Status: diag.StatusPending}))

	long := formatValue(diag.ProbeResult{Key: diag.KeyVuln, Status: diag.StatusSuccess, Value: strings.Repeat("x", 100)})
	require.Len(t, long, maxValueWidth)
	require.True(t, strings.HasSuffix(long, "..."))
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	show := progressPrinter(&buf)
	half := 0.5
	show(diag.Event{Type: diag.EventProbe, Key: diag.KeyDownload, Status: diag.StatusPending, Progress: &half})
	show(diag.Event{Type: diag.EventProbe, Key: diag.KeyDownload, Status: diag.StatusSuccess})
	show(diag.Event{Type: diag.EventRunFinished})
	require.Equal(t, "\rdownload  50%\n", buf.String())
}

func TestProgressPrinterConcurrentProbes(t *testing.T) {
	var buf bytes.Buffer
	show := progressPrinter(&buf)
	half := 0.5
	show(diag.Event{Type: diag.EventProbe, Key: diag.KeyDownload, Status: diag.StatusPending, Progress: &half})

	var wg sync.WaitGroup
	for _, key := range diag.ParallelKeys {
		key := key
		wg.Add(1)
		go func() {
			defer wg.Done()
			show(diag.Event{Type: diag.EventProbe, Key: key, Status: diag.StatusSuccess})
		}()
	}
	wg.Wait()
	require.Equal(t, "\rdownload  50%\n", buf.String())
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, &diag.Report{
		RunID:     "r1",
		Addresses: []string{"203.0.113.7"},
		Results: []diag.ProbeResult{
			{Key: diag.KeyIP, Status: diag.StatusSuccess, Value: "203.0.113.7"},
			{Key: diag.KeyPing, Status: diag.StatusError, Value: "no route"},
		},
	})
	out := buf.String()
	require.Contains(t, out, "no route")
	require.Contains(t, out, "endpoint addresses: 203.0.113.7")
}
