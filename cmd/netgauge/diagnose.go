package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/NodePath81/netgauge/internal/app"
	"github.com/NodePath81/netgauge/internal/config"
	"github.com/NodePath81/netgauge/internal/diag"
	"github.com/NodePath81/netgauge/internal/util"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

const maxValueWidth = 60

func runDiagnose(args []string) int {
	cmd := flag.NewFlagSet("diagnose", flag.ExitOnError)
	configPath := cmd.String("config", "", "Path to config file (optional when NETGAUGE_ENDPOINT_URL is set)")
	jsonOut := cmd.Bool("json", false, "Print the report as JSON")
	_ = cmd.Parse(args)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		return 1
	}
	logger := util.NewLoggerWith(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	comps, err := app.BuildComponents(cfg, nil, logger)
	if err != nil {
		logger.Error("setup failed", "error", err)
		return 1
	}
	defer comps.Close()

	if !*jsonOut {
		unsubscribe := comps.Orchestrator.Subscribe(progressPrinter(os.Stderr))
		defer unsubscribe()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	report, runErr := comps.Orchestrator.Run(ctx)
	if report == nil {
		logger.Error("diagnostic run failed", "error", runErr)
		return 1
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			logger.Error("encode report", "error", err)
			return 1
		}
	} else {
		printReport(os.Stdout, report)
	}
	if runErr != nil {
		if errors.Is(runErr, diag.ErrStreamFailed) {
			fmt.Fprintln(os.Stderr, color.New(color.FgRed).Render("download stream failed: "+runErr.Error()))
		}
		return 1
	}
	return 0
}

// progressPrinter renders download progress on a single terminal line.
func progressPrinter(w io.Writer) diag.Observer {
	var mu sync.Mutex
	active := false
	return func(ev diag.Event) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case ev.Progress != nil:
			fmt.Fprintf(w, "\r%s %3.0f%%", ev.Key, *ev.Progress*100)
			active = true
		case ev.Type == diag.EventProbe && ev.Status != diag.StatusPending:
			if active {
				fmt.Fprintln(w)
				active = false
			}
		case ev.Type == diag.EventRunFinished && active:
			fmt.Fprintln(w)
			active = false
		}
	}
}

func printReport(w io.Writer, report *diag.Report) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Probe", "Status", "Value"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	for _, res := range report.Results {
		table.Append([]string{res.Key, statusLabel(res.Status), formatValue(res)})
	}
	table.Render()

	if len(report.Addresses) > 0 {
		fmt.Fprintf(w, "\nendpoint addresses: %s\n", strings.Join(report.Addresses, ", "))
	}
	if report.Geo != nil {
		fmt.Fprintf(w, "location: %s\n", report.Geo.String())
	}
	if report.Ping != nil {
		fmt.Fprintf(w, "ping: %d/%d replies, min %.2f ms, max %.2f ms, jitter %.2f ms\n",
			report.Ping.Received, report.Ping.Sent,
			ms(report.Ping.Min.Seconds()), ms(report.Ping.Max.Seconds()), ms(report.Ping.Jitter.Seconds()))
	}
	if report.Download != nil && report.Download.TCP != nil {
		fmt.Fprintf(w, "tcp: rtt %s, retransmits %d\n", report.Download.TCP.RTT, report.Download.TCP.Retransmits)
	}
	if report.Snapshot != nil {
		fmt.Fprintf(w, "run %s recorded at %s\n", report.RunID, report.Snapshot.Timestamp.Format("2006-01-02 15:04:05"))
	}
}

func ms(sec float64) float64 { return sec * 1000 }

func statusLabel(s diag.Status) string {
	switch s {
	case diag.StatusSuccess:
		return color.New(color.FgGreen).Render(string(s))
	case diag.StatusError:
		return color.New(color.FgRed).Render(string(s))
	default:
		return color.New(color.FgYellow).Render(string(s))
	}
}

func formatValue(res diag.ProbeResult) string {
	if res.Value == nil {
		return "-"
	}
	if res.Status == diag.StatusSuccess {
		if v, ok := res.Value.(float64); ok {
			switch res.Key {
			case diag.KeyPing:
				return fmt.Sprintf("%.2f ms", v)
			case diag.KeyDownload, diag.KeyUpload:
				return fmt.Sprintf("%.2f MB/s", v)
			}
		}
	}
	var s string
	switch v := res.Value.(type) {
	case string:
		s = v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			s = fmt.Sprint(v)
		} else {
			s = string(raw)
		}
	}
	if len(s) > maxValueWidth {
		s = s[:maxValueWidth-3] + "..."
	}
	return s
}
