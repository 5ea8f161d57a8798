package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/srg/blebatt/internal/device"
	"github.com/srg/blebatt/internal/devicefactory"
	goble "github.com/srg/blebatt/internal/device/go-ble"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List connectable peripherals exposing the Battery Service",
	Long: `Scan once for Bluetooth Low Energy peripherals advertising the Battery
Service (0x180F) and list them without connecting.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	addConfigFlags(scanCmd.Flags())
}

func runScan(cmd *cobra.Command, _ []string) error {
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

	transport, err := devicefactory.NewTransport(nil, &goble.Options{ConnectTimeout: cfg.ConnectTimeout}, logger)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoTransport, err)
	}
	defer func() {
		if err := transport.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close BLE adapter")
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.ScanTimeout)
	defer cancel()

	logger.WithField("timeout", cfg.ScanTimeout).Info("Scanning for Battery Service peripherals...")
	peripherals, err := transport.ScanOrRetrieveConnected(ctx, device.BatteryServiceUUID)
	if err != nil {
		return err
	}

	return newRenderer(cmd.OutOrStdout(), cfg).Peripherals(peripherals)
}
