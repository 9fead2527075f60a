// Package estimate predicts transfer durations from payload size and link
// parameters. Estimate performs no I/O and never mutates its input.
package estimate

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/NodePath81/netgauge/internal/units"
)

const (
	// MTUBytes is the packet size assumed when charging per-packet latency.
	MTUBytes = 1500
	// MaxLatencyPackets caps how many round trips the latency penalty charges.
	MaxLatencyPackets = 10
	// MaxCompressionRatio is the largest compression ratio callers may request.
	MaxCompressionRatio = 95

	vpnFactor        = 0.8
	peerToPeerFactor = 0.85
)

var (
	ErrZeroSpeed       = errors.New("effective speed must be > 0")
	ErrNegativeInput   = errors.New("payload and latency must be >= 0")
	ErrUnknownMedium   = errors.New("unknown medium")
	ErrUnknownMode     = errors.New("unknown transfer mode")
	ErrUnknownProvider = errors.New("unknown cloud provider")
)

type Medium string

const (
	Bluetooth  Medium = "bluetooth"
	WiFi       Medium = "wifi"
	Ethernet   Medium = "ethernet"
	Cellular4G Medium = "4g"
	Cellular5G Medium = "5g"
)

var mediumFactors = map[Medium]float64{
	Bluetooth:  0.3,
	WiFi:       1.0,
	Ethernet:   1.5,
	Cellular4G: 0.5,
	Cellular5G: 1.2,
}

type TransferMode string

const (
	Direct     TransferMode = "direct"
	PeerToPeer TransferMode = "peer-to-peer"
)

type CloudProvider string

const (
	ProviderNone CloudProvider = "none"
	GoogleDrive  CloudProvider = "google-drive"
	AWSS3        CloudProvider = "aws-s3"
	OneDrive     CloudProvider = "onedrive"
	Dropbox      CloudProvider = "dropbox"
)

var providerFactors = map[CloudProvider]float64{
	ProviderNone: 1.0,
	GoogleDrive:  0.9,
	AWSS3:        1.1,
	OneDrive:     0.95,
	Dropbox:      0.85,
}

type Compression struct {
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	RatioPercent float64 `json:"ratio_percent" yaml:"ratio_percent" validate:"gte=0,lte=95"`
}

// Params is one estimation request. An empty TransferMode means direct and
// an empty CloudProvider means none.
type Params struct {
	PayloadBytes        float64       `json:"payload_bytes" validate:"gte=0"`
	NominalDownloadMbps float64       `json:"download_mbps" validate:"gt=0"`
	NominalUploadMbps   float64       `json:"upload_mbps" validate:"gt=0"`
	LatencyMs           float64       `json:"latency_ms" validate:"gte=0"`
	Medium              Medium        `json:"medium" validate:"required,oneof=bluetooth wifi ethernet 4g 5g"`
	VPNEnabled          bool          `json:"vpn"`
	Compression         Compression   `json:"compression"`
	TransferMode        TransferMode  `json:"transfer_mode" validate:"omitempty,oneof=direct peer-to-peer"`
	CloudProvider       CloudProvider `json:"cloud_provider" validate:"omitempty,oneof=none google-drive aws-s3 onedrive dropbox"`
}

type Result struct {
	DownloadSeconds       float64 `json:"download_seconds"`
	UploadSeconds         float64 `json:"upload_seconds"`
	CloudUploadSeconds    float64 `json:"cloud_upload_seconds"`
	EffectiveDownloadMbps float64 `json:"effective_download_mbps"`
	EffectiveUploadMbps   float64 `json:"effective_upload_mbps"`
	CompressedBytes       float64 `json:"compressed_bytes"`
	Breakdown             string  `json:"breakdown"`
}

// MediumFactor returns the capacity multiplier for m.
func MediumFactor(m Medium) (float64, bool) {
	f, ok := mediumFactors[m]
	return f, ok
}

// ProviderFactor returns the upload multiplier for p.
func ProviderFactor(p CloudProvider) (float64, bool) {
	if p == "" {
		p = ProviderNone
	}
	f, ok := providerFactors[p]
	return f, ok
}

// ClampRatio bounds a compression ratio to [0, MaxCompressionRatio].
// Estimate itself does not clamp.
func ClampRatio(ratio float64) float64 {
	return math.Max(0, math.Min(ratio, MaxCompressionRatio))
}

// Estimate predicts download, upload and cloud upload durations for p.
func Estimate(p Params) (Result, error) {
	if p.PayloadBytes < 0 || p.LatencyMs < 0 {
		return Result{}, ErrNegativeInput
	}
	mediumFactor, ok := MediumFactor(p.Medium)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownMedium, p.Medium)
	}
	mode := p.TransferMode
	if mode == "" {
		mode = Direct
	}
	if mode != Direct && mode != PeerToPeer {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownMode, p.TransferMode)
	}
	provider := p.CloudProvider
	if provider == "" {
		provider = ProviderNone
	}
	providerFactor, ok := ProviderFactor(provider)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownProvider, p.CloudProvider)
	}

	effectiveBytes := EffectiveBytes(p.PayloadBytes, p.Compression)
	factor := speedFactor(mediumFactor, p.VPNEnabled, mode)
	downMbps := p.NominalDownloadMbps * factor
	upMbps := p.NominalUploadMbps * factor
	if downMbps <= 0 || upMbps <= 0 {
		return Result{}, ErrZeroSpeed
	}

	res := Result{
		DownloadSeconds:       Duration(effectiveBytes, downMbps, p.LatencyMs),
		UploadSeconds:         Duration(effectiveBytes, upMbps, p.LatencyMs),
		EffectiveDownloadMbps: downMbps,
		EffectiveUploadMbps:   upMbps,
		CompressedBytes:       effectiveBytes,
	}
	if provider != ProviderNone {
		res.CloudUploadSeconds = Duration(effectiveBytes, upMbps*providerFactor, p.LatencyMs)
	}
	res.Breakdown = breakdown(p, res, mediumFactor, mode, provider, providerFactor)
	return res, nil
}

// EffectiveBytes applies the compression ratio when compression is enabled.
func EffectiveBytes(payload float64, c Compression) float64 {
	if !c.Enabled {
		return payload
	}
	return payload * (1 - c.RatioPercent/100)
}

// Duration is the transfer time in seconds of bytes at mbps, plus a latency
// penalty charged once per MTU-sized packet up to MaxLatencyPackets.
// mbps must be > 0.
func Duration(bytes, mbps, latencyMs float64) float64 {
	base := (bytes * 8) / (mbps * 1_000_000)
	return base + LatencyPenalty(bytes, latencyMs)
}

// LatencyPenalty is the per-round-trip overhead in seconds.
func LatencyPenalty(bytes, latencyMs float64) float64 {
	packets := math.Ceil(bytes / MTUBytes)
	return (latencyMs / 1000) * math.Min(packets, MaxLatencyPackets)
}

func speedFactor(mediumFactor float64, vpn bool, mode TransferMode) float64 {
	factor := mediumFactor
	if vpn {
		factor *= vpnFactor
	}
	if mode == PeerToPeer {
		factor *= peerToPeerFactor
	}
	return factor
}

func breakdown(p Params, res Result, mediumFactor float64, mode TransferMode, provider CloudProvider, providerFactor float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "File size: %s\n", units.FormatBytes(p.PayloadBytes))
	if p.Compression.Enabled {
		fmt.Fprintf(&b, "Compressed size: %s (%.0f%% ratio)\n", units.FormatBytes(res.CompressedBytes), p.Compression.RatioPercent)
	}
	fmt.Fprintf(&b, "Medium: %s (x%.2f)\n", p.Medium, mediumFactor)
	if p.VPNEnabled {
		fmt.Fprintf(&b, "VPN: enabled (x%.2f)\n", vpnFactor)
	} else {
		b.WriteString("VPN: disabled\n")
	}
	if mode == PeerToPeer {
		fmt.Fprintf(&b, "Transfer mode: %s (x%.2f)\n", mode, peerToPeerFactor)
	} else {
		fmt.Fprintf(&b, "Transfer mode: %s\n", mode)
	}
	fmt.Fprintf(&b, "Effective download speed: %s\n", units.FormatMbps(res.EffectiveDownloadMbps))
	fmt.Fprintf(&b, "Effective upload speed: %s\n", units.FormatMbps(res.EffectiveUploadMbps))
	fmt.Fprintf(&b, "Latency: %.0f ms (penalty %s)\n", p.LatencyMs, units.FormatSeconds(LatencyPenalty(res.CompressedBytes, p.LatencyMs)))
	if provider != ProviderNone {
		fmt.Fprintf(&b, "Cloud provider: %s (x%.2f)", provider, providerFactor)
	} else {
		b.WriteString("Cloud provider: none")
	}
	return b.String()
}
