package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blebatt/internal/device"
	"github.com/srg/blebatt/internal/devicefactory"
	goble "github.com/srg/blebatt/internal/device/go-ble"
	"github.com/srg/blebatt/monitor"
	"github.com/srg/blebatt/pkg/config"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Monitor battery levels of nearby BLE peripherals",
	Long: `Scan for peripherals exposing the Battery Service, connect to each,
and print their Battery Level as notifications arrive.

The device list is rescanned every --rescan-interval; peripherals that
disappear are dropped together with their reading history. Send SIGUSR1
to force a rescan. Press Ctrl+C to exit.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	defaults := config.DefaultConfig()
	monitorCmd.Flags().Duration("window", defaults.Window, "Readings closer than this are collapsed")
	monitorCmd.Flags().Duration("rescan-interval", defaults.RescanInterval, "Interval between rescans")
	addConfigFlags(monitorCmd.Flags())
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, "verbose", cfg.LogLevel)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	m, err := newMonitor(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	stopRescans := notifyRescan(ctx, m.RequestRescan)
	defer stopRescans()

	out := newRenderer(cmd.OutOrStdout(), cfg)
	renderDone := make(chan error, 1)
	go func() {
		var renderErr error
		for snap := range m.Snapshots() {
			if renderErr == nil {
				renderErr = out.Snapshot(snap)
			}
		}
		renderDone <- renderErr
	}()

	runErr := m.Run(ctx)
	if err := <-renderDone; err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to render devices: %w", err)
	}
	return runErr
}

func newMonitor(cfg *config.Config, logger *logrus.Logger) (*monitor.Monitor, error) {
	newTransport := func(sink device.EventSink) (device.Transport, error) {
		t, err := devicefactory.NewTransport(sink, &goble.Options{ConnectTimeout: cfg.ConnectTimeout}, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoTransport, err)
		}
		return t, nil
	}
	return monitor.New(newTransport, monitor.Options{
		ScanTimeout:    cfg.ScanTimeout,
		RescanInterval: cfg.RescanInterval,
		Window:         cfg.Window,
	}, logger)
}
