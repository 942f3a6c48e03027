// dac-host drives an AD5686/AD5689 DAC from a Linux host, either through a
// Klipper-protocol MCU on a serial link or through a local spidev port.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"go.uber.org/zap"

	"ad568x/dac"
	"ad568x/host/config"
	"ad568x/host/logging"
	"ad568x/host/mcu"
	"ad568x/host/spidev"
)

var (
	configPath = flag.String("config", "", "Config file (default ./dac-host.yaml)")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	if err := run(flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] <command> [args]\n\nCommands:\n", os.Args[0])
	newApp(context.Background(), nil, nil, os.Stderr, nil).registry(true).WriteHelp(os.Stderr)
	fmt.Fprintln(os.Stderr, "\nFlags:")
	flag.PrintDefaults()
}

func run(args []string) error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dev, m, closer, err := openDevice(cfg, logger)
	if err != nil {
		return err
	}
	defer closer.Close()

	a := newApp(ctx, dev, m, os.Stdout, logger)
	a.stdin = os.Stdin
	return a.registry(true).Dispatch(args)
}

// openDevice opens the configured transport and binds a Device to it. The
// MCU is nil for the spidev transport.
func openDevice(cfg *config.Config, logger *zap.Logger) (*dac.Device, *mcu.MCU, io.Closer, error) {
	variant, err := cfg.Variant()
	if err != nil {
		return nil, nil, nil, err
	}

	switch cfg.Transport {
	case config.TransportSpidev:
		bus, err := spidev.Open(cfg.Spidev.Port, cfg.SPI.Rate, logger.Named("spidev"))
		if err != nil {
			return nil, nil, nil, err
		}
		return dac.New(bus, variant), nil, bus, nil

	default:
		m := mcu.NewMCU(logger.Named("mcu"))
		if err := m.ConnectWithConfig(&cfg.MCU.Serial); err != nil {
			return nil, nil, nil, err
		}
		bus, err := setupMCU(m, cfg)
		if err != nil {
			m.Close()
			return nil, nil, nil, err
		}
		return dac.New(bus, variant), m, m, nil
	}
}

func setupMCU(m *mcu.MCU, cfg *config.Config) (*mcu.SPIBus, error) {
	if err := m.RetrieveDictionary(); err != nil {
		return nil, err
	}
	bus, err := mcu.NewSPIBus(m, mcu.SPIBusConfig{
		Pin:          cfg.MCU.Pin,
		Bus:          cfg.MCU.Bus,
		Rate:         cfg.SPI.Rate,
		CSActiveHigh: cfg.MCU.CSActiveHigh,
	})
	if err != nil {
		return nil, err
	}
	if err := m.FinalizeConfig(); err != nil {
		return nil, err
	}
	return bus, nil
}
