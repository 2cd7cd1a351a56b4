package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/me/godnc/internal/logging"
	"github.com/me/godnc/internal/simulator"
)

func main() {
	machineID := flag.String("id", "CNC001", "Machine identifier")
	addr := flag.String("addr", "127.0.0.1:8193", "Listen address")
	interval := flag.Duration("broadcast-interval", 2*time.Second, "Interval between state broadcasts")
	workpieceProb := flag.Float64("workpiece-prob", 0.05, "Per-tick probability of finishing a workpiece while running")
	alarmProb := flag.Float64("alarm-prob", 0.005, "Per-tick probability of a spontaneous alarm while running")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "text", "Log format (text, json)")
	flag.Parse()

	logger := logging.NewLogger(logging.ParseLevel(*logLevel), *logFormat)

	cfg := simulator.DefaultConfig(*machineID, *addr)
	cfg.BroadcastInterval = *interval
	cfg.WorkpieceProb = *workpieceProb
	cfg.AlarmProb = *alarmProb

	sim := simulator.New(cfg, logger)
	if err := sim.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "start simulator: %v\n", err)
		os.Exit(1)
	}
	logger.Info("machine simulator listening", "machine_id", *machineID, "addr", sim.Addr())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	sim.Stop()
}
