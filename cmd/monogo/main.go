package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cjeanneret/MonoGo/internal/config"
	"github.com/cjeanneret/MonoGo/internal/debug"
	"github.com/cjeanneret/MonoGo/internal/logic/motion"
	"github.com/cjeanneret/MonoGo/internal/logic/optics"
)

var (
	configPath = filepath.Join("configs", "default.yaml")
	debugLevel = -1 // -1 = use config
)

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func handleCmdError(err error) {
	var phaseErr *motion.PhaseError
	switch {
	case errors.As(err, &phaseErr):
		fmt.Fprintf(os.Stderr, "\nInitialization stopped during %s.\n", phaseErr.Phase)
		fmt.Fprintln(os.Stderr, "Check the controller connection and run the command again; initialization always restarts from the beginning.")
	case errors.Is(err, optics.ErrInvalidWavelength):
		fmt.Fprintln(os.Stderr, "\nThe wavelength is outside the range of the configured spectrometer.")
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monogo",
		Short: "monogo drives a grating monochromator and its filter wheel",
		Long: `monogo drives a grating monochromator and its filter wheel.

The device keeps no position across power cycles, so every command homes
both axes before doing anything else.`,
		SilenceUsage: true,
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVar(&configPath, "config", configPath, "config file path (must be inside a configs/ directory)")
	globalFlags.IntVar(&debugLevel, "debug-level", debugLevel, "debug level 0-4, overrides the config (0=off, 1=info, 2=live, 3=verbose, 4=trace)")

	cmd.AddCommand(
		NewInitCommand(),
		NewGotoCommand(),
		NewStatusCommand(),
		NewScanCommand(),
		NewRawCommand(),
		NewServeCommand(),
	)
	return cmd
}

// loadConfig reads the config and sets up logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level, err := resolveDebugLevel(debugLevel, cfg.Defaults.DebugLevel)
	if err != nil {
		return nil, err
	}
	debug.Init(level)
	setupLogger(level)

	debug.Section("Configuration")
	debug.Value("Config path", configPath)
	debug.Value("Debug level", debug.Level())
	debug.Value("Spectrometer", cfg.SpectrometerVariant())
	debug.Value("Controller", cfg.Controller.Type)
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.PrintStruct("Calibration", cfg.Calibration())
	debug.PrintStruct("Filter bands", cfg.SpectrometerVariant().Bands())
	return cfg, nil
}

// resolveDebugLevel picks the flag value when set, else the config value.
func resolveDebugLevel(flagLevel, configLevel int) (int, error) {
	if flagLevel < 0 {
		return configLevel, nil
	}
	if flagLevel > debug.LevelTrace {
		return 0, fmt.Errorf("--debug-level must be between 0 and %d, got %d", debug.LevelTrace, flagLevel)
	}
	return flagLevel, nil
}

func setupLogger(level int) {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level >= debug.LevelVerbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}
