package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"sixbridge/internal/bridge"
)

func main() {
	var (
		configPath = flag.String("config", "config.ini", "path to the INI configuration file")
		logLevel   = flag.String("log-level", "info", "debug|info|warn|error")
		dashboard  = flag.Bool("dashboard", false, "run the live bubbletea dashboard instead of the line shell")
	)
	flag.Parse()

	level := parseLogLevel(*logLevel)

	// Log to a file instead of stderr so output doesn't corrupt the
	// shell/dashboard's own use of the terminal.
	logFile, err := os.OpenFile("sixbridge.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	handler := slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler).With("component", "sixbridge")

	if err := run(*configPath, *dashboard, logger); err != nil {
		fmt.Fprintf(os.Stderr, "sixbridge: %v\n", err)
		logger.Error("fatal startup error", "err", err)
		os.Exit(1)
	}
}

func run(configPath string, dashboard bool, logger *slog.Logger) error {
	cfg, err := bridge.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	serialPort, err := bridge.OpenSerialPort(cfg.SerialDevice)
	if err != nil {
		return fmt.Errorf("open serial device: %w", err)
	}
	defer serialPort.Close()

	wifiCapture, err := bridge.OpenWifiCapture(cfg.WifiDevice)
	if err != nil {
		return fmt.Errorf("open wifi device: %w", err)
	}
	defer wifiCapture.Close()

	ifi, err := net.InterfaceByName(cfg.WifiDevice)
	if err != nil {
		return fmt.Errorf("look up wifi interface %s: %w", cfg.WifiDevice, err)
	}

	boot, err := bridge.NewBoot(bridge.BootConfig{
		Config:      cfg,
		Log:         logger,
		SerialPort:  serialPort,
		WifiCapture: wifiCapture,
		WifiMAC:     ifi.HardwareAddr,
		WifiIfi:     ifi,
		Dashboard:   dashboard,
	})
	if err != nil {
		return fmt.Errorf("construct bridge: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting bridge",
		"serial", cfg.SerialDevice, "wifi", cfg.WifiDevice, "dashboard", dashboard)

	if err := boot.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("bridge exited: %w", err)
	}
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
