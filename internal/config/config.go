// Package config loads probeflash settings from an optional YAML file and
// PROBEFLASH_* environment variables.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/synthread/go-probeflash/loader"
	"github.com/synthread/go-probeflash/probe/sim"
)

const (
	DriverAuto = "auto"
	DriverUART = "uart"
	DriverUSB  = "usb"
	DriverSim  = "sim"
)

var ErrUnknownDriver = errors.New("unknown probe driver")

// Config is the full probeflash configuration.
type Config struct {
	Driver      string        `mapstructure:"driver"`       // auto, uart, usb or sim
	Probe       string        `mapstructure:"probe"`        // probe identifier substring
	Target      string        `mapstructure:"target"`       // skips identification when set
	Firmware    string        `mapstructure:"firmware"`     // image to flash
	Format      string        `mapstructure:"format"`       // hex or bin
	HaltTimeout time.Duration `mapstructure:"halt_timeout"` // reset-and-halt bound

	Log  LogConfig  `mapstructure:"log"`
	UART UARTConfig `mapstructure:"uart"`
	Sim  SimConfig  `mapstructure:"sim"`

	ConfigFile string `mapstructure:"-"` // file the settings were read from, if any
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// UARTConfig configures the serial bootloader driver.
type UARTConfig struct {
	TTY       string        `mapstructure:"tty"`
	Baud      int           `mapstructure:"baud"`
	Timeout   time.Duration `mapstructure:"timeout"`
	GPIO      bool          `mapstructure:"gpio"`
	Boot0GPIO int           `mapstructure:"boot0_gpio"`
	Boot1GPIO int           `mapstructure:"boot1_gpio"`
	PowerGPIO int           `mapstructure:"power_gpio"`
}

// SimConfig configures the simulator driver.
type SimConfig struct {
	Identifier uint32 `mapstructure:"identifier"`
	Fault      string `mapstructure:"fault"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("driver", DriverAuto)
	v.SetDefault("probe", "")
	v.SetDefault("target", "")
	v.SetDefault("firmware", "firmware.hex")
	v.SetDefault("format", "hex")
	v.SetDefault("halt_timeout", time.Second)

	v.SetDefault("log.level", "info")

	v.SetDefault("uart.tty", "")
	v.SetDefault("uart.baud", 115200)
	v.SetDefault("uart.timeout", 5*time.Second)
	v.SetDefault("uart.gpio", false)
	v.SetDefault("uart.boot0_gpio", 39)
	v.SetDefault("uart.boot1_gpio", 41)
	v.SetDefault("uart.power_gpio", 19)

	v.SetDefault("sim.identifier", uint32(0x1ba01477))
	v.SetDefault("sim.fault", "")
}

// Load reads the configuration. An empty path falls back to
// PROBEFLASH_CONFIG and then to probeflash.yaml in the usual places; a
// missing file there is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PROBEFLASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("PROBEFLASH_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("probeflash")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/probeflash/")
		v.AddConfigPath("$HOME/.probeflash")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	c.ConfigFile = v.ConfigFileUsed()
	c.Driver = strings.ToLower(c.Driver)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects unknown drivers, formats and simulator faults.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverAuto, DriverUART, DriverUSB, DriverSim:
	default:
		return errors.Wrapf(ErrUnknownDriver, "%q", c.Driver)
	}
	if _, err := sim.ParseFault(c.Sim.Fault); err != nil {
		return errors.Wrap(err, "sim.fault")
	}
	if _, err := c.ImageFormat(); err != nil {
		return err
	}
	if c.HaltTimeout <= 0 {
		return errors.Errorf("halt_timeout must be positive, got %s", c.HaltTimeout)
	}
	return nil
}

// ImageFormat parses the configured firmware format.
func (c *Config) ImageFormat() (loader.Format, error) {
	return loader.ParseFormat(c.Format)
}
