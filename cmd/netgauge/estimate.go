package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/NodePath81/netgauge/internal/config"
	"github.com/NodePath81/netgauge/internal/estimate"
	"github.com/NodePath81/netgauge/internal/files"
	"github.com/NodePath81/netgauge/internal/medium"
	"github.com/NodePath81/netgauge/internal/units"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

const mediumAuto = "auto"

type estimateOptions struct {
	size      float64
	unit      string
	files     []string
	down      float64
	up        float64
	latency   float64
	medium    string
	vpn       bool
	compress  float64
	mode      string
	provider  string
	json      bool
	configArg string
}

// detectFunc reports the local link medium.
type detectFunc func() (estimate.Medium, medium.Link, error)

func runEstimate(args []string, out io.Writer) int {
	opts, err := parseEstimateFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	params, descs, note, err := buildEstimateParams(opts, medium.Detect)
	if err != nil {
		fmt.Fprintln(os.Stderr, color.New(color.FgRed).Render("invalid input: "+err.Error()))
		return 1
	}
	res, err := estimate.Estimate(params)
	if err != nil {
		fmt.Fprintln(os.Stderr, color.New(color.FgRed).Render("estimate failed: "+err.Error()))
		return 1
	}
	if opts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(struct {
			Params estimate.Params        `json:"params"`
			Files  []files.FileDescriptor `json:"files,omitempty"`
			Result estimate.Result        `json:"result"`
		}{params, descs, res})
		return 0
	}
	if note != "" {
		fmt.Fprintln(out, note)
	}
	printEstimate(out, params, descs, res)
	return 0
}

func parseEstimateFlags(args []string) (estimateOptions, error) {
	var opts estimateOptions
	cmd := flag.NewFlagSet("estimate", flag.ContinueOnError)
	cmd.Float64Var(&opts.size, "size", 0, "Payload size")
	cmd.StringVar(&opts.unit, "unit", string(units.MB), "Unit of --size: bytes, KB, MB, GB, TB")
	cmd.Func("file", "Payload file (repeatable)", func(s string) error {
		opts.files = append(opts.files, s)
		return nil
	})
	cmd.Float64Var(&opts.down, "down", 0, "Nominal download speed in Mbps")
	cmd.Float64Var(&opts.up, "up", 0, "Nominal upload speed in Mbps")
	cmd.Float64Var(&opts.latency, "latency", -1, "Round trip latency in ms")
	cmd.StringVar(&opts.medium, "medium", "", "bluetooth, wifi, ethernet, 4g, 5g or auto")
	cmd.BoolVar(&opts.vpn, "vpn", false, "Account for VPN overhead")
	cmd.Float64Var(&opts.compress, "compress", 0, "Compression ratio in percent (0 disables)")
	cmd.StringVar(&opts.mode, "mode", string(estimate.Direct), "direct or peer-to-peer")
	cmd.StringVar(&opts.provider, "provider", string(estimate.ProviderNone), "none, google-drive, aws-s3, onedrive, dropbox")
	cmd.BoolVar(&opts.json, "json", false, "Print the result as JSON")
	cmd.StringVar(&opts.configArg, "config", "", "Config file supplying default speeds, latency and medium")
	if err := cmd.Parse(args); err != nil {
		return estimateOptions{}, err
	}
	return opts, nil
}

// estimateDefaults returns the estimate section of the config at path, or
// the built-in defaults when no usable config is given.
func estimateDefaults(path string) (config.EstimateConfig, error) {
	if path != "" {
		cfg, err := config.LoadConfig(path)
		if err != nil {
			return config.EstimateConfig{}, err
		}
		return cfg.Estimate, nil
	}
	return config.DefaultEstimate()
}

// buildEstimateParams turns CLI options into validated model input. note
// describes how the medium was chosen when it was detected.
func buildEstimateParams(opts estimateOptions, detect detectFunc) (estimate.Params, []files.FileDescriptor, string, error) {
	defaults, err := estimateDefaults(opts.configArg)
	if err != nil {
		return estimate.Params{}, nil, "", err
	}

	unit, err := units.ParseUnit(opts.unit)
	if err != nil {
		return estimate.Params{}, nil, "", err
	}
	descs, err := files.DescribeAll(opts.files)
	if err != nil {
		return estimate.Params{}, nil, "", err
	}

	p := estimate.Params{
		PayloadBytes:        files.PayloadBytes(descs, units.ToBytes(opts.size, unit)),
		NominalDownloadMbps: opts.down,
		NominalUploadMbps:   opts.up,
		LatencyMs:           opts.latency,
		VPNEnabled:          opts.vpn,
		TransferMode:        estimate.TransferMode(strings.ToLower(opts.mode)),
		CloudProvider:       estimate.CloudProvider(strings.ToLower(opts.provider)),
	}
	if p.NominalDownloadMbps == 0 {
		p.NominalDownloadMbps = defaults.DownloadMbps
	}
	if p.NominalUploadMbps == 0 {
		p.NominalUploadMbps = defaults.UploadMbps
	}
	if p.LatencyMs < 0 {
		p.LatencyMs = defaults.DefaultLatency
	}
	if opts.compress > 0 {
		p.Compression = estimate.Compression{Enabled: true, RatioPercent: estimate.ClampRatio(opts.compress)}
	}

	var note string
	name := strings.ToLower(strings.TrimSpace(opts.medium))
	if name == "" {
		name = defaults.DefaultMedium
		if defaults.DetectEnabled() {
			name = mediumAuto
		}
	}
	if name == mediumAuto {
		m, link, err := detect()
		if err != nil {
			m = estimate.Medium(defaults.DefaultMedium)
			note = fmt.Sprintf("medium detection unavailable (%v), using %s", err, m)
		} else {
			note = fmt.Sprintf("detected medium %s on %s", m, link.Name)
		}
		p.Medium = m
	} else {
		p.Medium = estimate.Medium(name)
	}

	if err := p.Validate(); err != nil {
		return estimate.Params{}, nil, "", err
	}
	return p, descs, note, nil
}

func printEstimate(w io.Writer, p estimate.Params, descs []files.FileDescriptor, res estimate.Result) {
	if len(descs) > 0 {
		ft := tablewriter.NewWriter(w)
		ft.SetHeader([]string{"File", "Size", "Type"})
		ft.SetBorder(false)
		ft.SetAlignment(tablewriter.ALIGN_LEFT)
		for _, d := range descs {
			ft.Append([]string{d.Name, units.FormatBytes(float64(d.SizeBytes)), d.MimeType})
		}
		ft.Render()
		fmt.Fprintln(w)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.Append([]string{"Payload", units.FormatBytes(p.PayloadBytes)})
	if p.Compression.Enabled {
		table.Append([]string{"After compression", units.FormatBytes(res.CompressedBytes)})
	}
	table.Append([]string{"Effective download", units.FormatMbps(res.EffectiveDownloadMbps)})
	table.Append([]string{"Effective upload", units.FormatMbps(res.EffectiveUploadMbps)})
	table.Append([]string{"Download time", color.New(color.FgCyan).Render(units.FormatSeconds(res.DownloadSeconds))})
	table.Append([]string{"Upload time", color.New(color.FgCyan).Render(units.FormatSeconds(res.UploadSeconds))})
	if res.CloudUploadSeconds > 0 {
		table.Append([]string{"Cloud upload time", color.New(color.FgCyan).Render(units.FormatSeconds(res.CloudUploadSeconds))})
	}
	table.Render()
	fmt.Fprintln(w)
	fmt.Fprintln(w, res.Breakdown)
}
