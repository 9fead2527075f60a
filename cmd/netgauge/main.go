package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/NodePath81/netgauge/internal/app"
	"github.com/NodePath81/netgauge/internal/config"
	"github.com/NodePath81/netgauge/internal/util"
	"github.com/NodePath81/netgauge/internal/version"
	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is the common case.
	_ = godotenv.Load()

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "run":
			runCmd := flag.NewFlagSet("run", flag.ExitOnError)
			configPath := runCmd.String("config", "config.yaml", "Path to config file")
			_ = runCmd.Parse(os.Args[2:])
			if *configPath == "config.yaml" && runCmd.NArg() > 0 {
				*configPath = runCmd.Arg(0)
			}
			runServer(*configPath)
			return
		case "check":
			checkCmd := flag.NewFlagSet("check", flag.ExitOnError)
			configPath := checkCmd.String("config", "config.yaml", "Path to config file")
			_ = checkCmd.Parse(os.Args[2:])
			if *configPath == "config.yaml" && checkCmd.NArg() > 0 {
				*configPath = checkCmd.Arg(0)
			}
			checkConfig(*configPath)
			return
		case "diagnose":
			os.Exit(runDiagnose(os.Args[2:]))
		case "estimate":
			os.Exit(runEstimate(os.Args[2:], os.Stdout))
		case "help", "-h", "--help":
			printHelp()
			return
		case "version", "-v", "--version":
			fmt.Println(version.Version)
			return
		}
	}

	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()
	if *configPath == "config.yaml" && len(flag.Args()) > 0 {
		*configPath = flag.Arg(0)
	}
	runServer(*configPath)
}

func runServer(configPath string) {
	logger := util.NewLogger()
	if cfg, err := config.LoadConfig(configPath); err == nil {
		logger = util.NewLoggerWith(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	}
	supervisor := app.NewSupervisor(configPath, logger)
	if err := supervisor.Start(); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")
	supervisor.Stop()
}

func checkConfig(path string) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("config valid: endpoint %s, history %s\n", cfg.Endpoint.BaseURL, cfg.History.Backend)
	if err := cfg.ValidateControl(); err != nil {
		fmt.Printf("note: control server disabled until fixed: %v\n", err)
	}
	os.Exit(0)
}

func printHelp() {
	fmt.Print(`netgauge - network diagnostics and transfer time estimation

Usage:
  netgauge run --config <path>              Start the control server and scheduled runs
  netgauge check --config <path>            Validate config file
  netgauge diagnose --config <path> [--json] Run the diagnostic sequence once
  netgauge estimate [flags]                 Estimate transfer durations
  netgauge help                             Show this help
  netgauge version                          Print version

Estimate flags:
  --size 100 --unit MB       Payload size (ignored when --file is given)
  --file <path>              Payload file, repeatable
  --down 10 --up 5           Nominal link speeds in Mbps
  --latency 50               Round trip latency in ms
  --medium wifi|auto         bluetooth, wifi, ethernet, 4g, 5g or auto
  --vpn                      Account for VPN overhead
  --compress 30              Compression ratio in percent
  --mode direct              direct or peer-to-peer
  --provider none            none, google-drive, aws-s3, onedrive, dropbox

Environment:
  NETGAUGE_* variables override config values; a .env file is read if present.
`)
}
