package cmd

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/synthread/go-probeflash/flash"
	"github.com/synthread/go-probeflash/internal/backend"
	"github.com/synthread/go-probeflash/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "probeflash",
	Short: "Identify an STM32 behind a debug probe and flash its firmware",
	Long: `Lists the attached probes, identifies the chip on the first one, halts it
and programs the configured firmware image with a chip erase and verify.

Settings come from probeflash.yaml (., $HOME/.probeflash, /etc/probeflash or
$PROBEFLASH_CONFIG) and PROBEFLASH_* environment variables, e.g.

  PROBEFLASH_DRIVER=uart PROBEFLASH_UART_TTY=/dev/ttyUSB0 probeflash
  PROBEFLASH_DRIVER=sim PROBEFLASH_FIRMWARE=build/app.hex probeflash`,
	Version:       "0.1.0",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return errors.Wrap(err, "invalid log.level")
	}
	logrus.SetLevel(level)
	logrus.SetOutput(cmd.ErrOrStderr())
	if cfg.ConfigFile != "" {
		logrus.Debugf("using config %s", cfg.ConfigFile)
	}

	lib, err := backend.FromConfig(cfg)
	if err != nil {
		return err
	}
	format, err := cfg.ImageFormat()
	if err != nil {
		return err
	}

	w := &flash.Workflow{
		Library: lib,
		Out:     cmd.OutOrStdout(),
		Config: flash.Config{
			Probe:       cfg.Probe,
			Target:      cfg.Target,
			Firmware:    cfg.Firmware,
			Format:      format,
			HaltTimeout: cfg.HaltTimeout,
		},
	}
	return w.Run(cmd.Context())
}
