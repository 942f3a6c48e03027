// Package config loads dac-host settings from a YAML file and DACHOST_
// environment variables
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"ad568x/dac"
	"ad568x/host/serial"
)

// Transport kinds
const (
	TransportMCU    = "mcu"
	TransportSpidev = "spidev"
)

// DACConfig selects the converter
type DACConfig struct {
	Variant string `mapstructure:"variant"`
}

// SPIConfig holds bus settings shared by every transport
type SPIConfig struct {
	Rate uint32 `mapstructure:"rate"`
}

// MCUConfig describes a DAC wired to a Klipper-protocol MCU
type MCUConfig struct {
	Serial       serial.Config `mapstructure:"serial"`
	Pin          string        `mapstructure:"cs_pin"`
	Bus          string        `mapstructure:"spi_bus"`
	CSActiveHigh bool          `mapstructure:"cs_active_high"`
}

// SpidevConfig describes a DAC on a Linux SPI controller
type SpidevConfig struct {
	Port string `mapstructure:"port"`
}

// LumberjackConfig controls the rolling log file
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig sets log level and outputs
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// Config is the top-level configuration
type Config struct {
	DAC       DACConfig     `mapstructure:"dac"`
	Transport string        `mapstructure:"transport"`
	SPI       SPIConfig     `mapstructure:"spi"`
	MCU       MCUConfig     `mapstructure:"mcu"`
	Spidev    SpidevConfig  `mapstructure:"spidev"`
	Logging   LoggingConfig `mapstructure:"logging"`
}

// Load reads configuration from path, or from dac-host.yaml in the working
// directory or /etc/dac-host when path is empty. A missing default file is
// not an error. Environment variables override file values: spi.rate is
// DACHOST_SPI_RATE.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/dac-host")
		v.SetConfigName("dac-host")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix("DACHOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dac.variant", "ad5686")
	v.SetDefault("transport", TransportMCU)

	// No default clock: the rate must be chosen for the wiring
	v.SetDefault("spi.rate", 0)

	v.SetDefault("mcu.serial.device", "/dev/ttyACM0")
	v.SetDefault("mcu.serial.baud", serial.DefaultBaud)
	v.SetDefault("mcu.serial.read_timeout_ms", 100)
	v.SetDefault("mcu.cs_pin", "")
	v.SetDefault("mcu.spi_bus", "")
	v.SetDefault("mcu.cs_active_high", false)

	v.SetDefault("spidev.port", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 10)
	v.SetDefault("logging.file.maxBackups", 3)
	v.SetDefault("logging.file.maxAge", 7)
	v.SetDefault("logging.file.compress", false)
}

// Variant resolves the configured converter
func (c *Config) Variant() (dac.Variant, error) {
	variant, ok := dac.LookupVariant(c.DAC.Variant)
	if !ok {
		return dac.Variant{}, fmt.Errorf("unknown DAC variant %q", c.DAC.Variant)
	}
	return variant, nil
}

// Validate checks the settings needed to open the configured transport
func (c *Config) Validate() error {
	if _, err := c.Variant(); err != nil {
		return err
	}
	if err := dac.CheckClockRate(c.SPI.Rate); err != nil {
		return fmt.Errorf("spi.rate: %w", err)
	}

	switch c.Transport {
	case TransportMCU:
		if err := c.MCU.Serial.Validate(); err != nil {
			return fmt.Errorf("mcu.serial: %w", err)
		}
		if c.MCU.Pin == "" {
			return errors.New("mcu.cs_pin not set")
		}
		if c.MCU.Bus == "" {
			return errors.New("mcu.spi_bus not set")
		}
	case TransportSpidev:
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)", c.Transport, TransportMCU, TransportSpidev)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}
