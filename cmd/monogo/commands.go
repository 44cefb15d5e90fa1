package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cjeanneret/MonoGo/internal/config"
	"github.com/cjeanneret/MonoGo/internal/debug"
	"github.com/cjeanneret/MonoGo/internal/logic/optics"
	"github.com/cjeanneret/MonoGo/internal/logic/scan"
	"github.com/cjeanneret/MonoGo/internal/web"
)

// withDevice loads the config, runs check against it, then opens and
// initializes the device and runs fn. Requests rejected by check never touch
// the hardware.
func withDevice(check func(cfg *config.Config) error, fn func(cfg *config.Config, d *device, raw string) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if check != nil {
		if err := check(cfg); err != nil {
			return err
		}
	}
	d, err := openDevice(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	raw, err := d.initialize()
	if err != nil {
		return err
	}
	return fn(cfg, d, raw)
}

func NewInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Home both axes and print the controller status",
		Long: `Home both axes and print the controller status.

A correctly initialized device reports "0,0,K,K,R".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDevice(nil, func(_ *config.Config, _ *device, raw string) error {
				cmd.Println(raw)
				return nil
			})
		},
	}
}

func NewGotoCommand() *cobra.Command {
	var (
		filter      int
		noInterlock bool
	)
	cmd := &cobra.Command{
		Use:   "goto [wavelength-nm]",
		Short: "Move to a wavelength",
		Long: `Move to a wavelength.

With the interlock on (the default) the filter is chosen from the wavelength
band and --filter only has to be a valid index.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nm, err := parseFloatArg(args, "wavelength")
			if err != nil {
				return err
			}
			check := func(cfg *config.Config) error {
				_, err := cfg.EngineConfig().Target(nm, filter, !noInterlock)
				return err
			}
			return withDevice(check, func(_ *config.Config, d *device, _ string) error {
				if err := d.engine.ChangeWavelength(nm, filter, !noInterlock); err != nil {
					return fmt.Errorf("failed to change wavelength: %w", err)
				}
				state, err := d.engine.State()
				if err != nil {
					return err
				}
				logrus.Infof("moved to %g nm, filter %d", state.WavelengthNm, state.FilterIndex)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&filter, "filter", optics.MinFilter, "filter index 1-6, used as is with --no-interlock")
	cmd.Flags().BoolVar(&noInterlock, "no-interlock", false, "use --filter instead of the band table")
	return cmd
}

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the decoded controller status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDevice(nil, func(cfg *config.Config, d *device, _ string) error {
				st, err := d.engine.Status()
				if err != nil {
					return fmt.Errorf("failed to read status: %w", err)
				}
				printStatus(cmd, cfg, st)
				return nil
			})
		},
	}
}

func printStatus(cmd *cobra.Command, cfg *config.Config, st optics.Status) {
	cmd.Println(bold("Monochromator:"))
	cmd.Printf("  Spectrometer: %s\n", cfg.SpectrometerVariant())
	cmd.Printf("  Wavelength: %s\n", bold("%g nm", st.WavelengthNm))
	cmd.Printf("  Filter: %s\n", bold("No.%d", st.Filter))
	cmd.Printf("  Grating pulses: %d\n", st.GratingPulse)
	cmd.Printf("  Filter pulses: %d\n", st.FilterPulse)
	cmd.Println(bold("Controller:"))
	if !st.HasFlags {
		cmd.Println("  no flags reported")
		return
	}
	cmd.Printf("  Command accepted: %s\n", bool2Text(!st.CommandError))
	cmd.Printf("  Limit switch clear: %s\n", bool2Text(!st.LimitStop))
	cmd.Printf("  Ready: %s\n", bool2Text(st.Ready))
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

func NewScanCommand() *cobra.Command {
	var (
		start, end, pitch float64
		interval          time.Duration
		filter            int
		noInterlock       bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Step through a wavelength range",
		Long: `Step through a wavelength range.

The device moves to --start, waits for the mechanics to settle, then steps by
--pitch up to and including --end, dwelling --interval after each step.
Ctrl-C stops the scan before the next step.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			var p scan.Params
			check := func(cfg *config.Config) error {
				p = scanParams(cfg, start, end, pitch, interval)
				p.Filter = filter
				p.Interlock = !noInterlock
				return checkScan(cfg, p)
			}
			return withDevice(check, func(cfg *config.Config, d *device, _ string) error {
				total := p.NumSteps()
				p.OnStep = func(step int, nm float64) {
					cmd.Printf("step %d/%d: %g nm\n", step, total, nm)
				}

				if err := d.sequence().Run(ctx, p); err != nil {
					return fmt.Errorf("scan: %w", err)
				}
				logrus.Infof("scan complete, %d steps", total)
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&start, "start", 0, "first wavelength (nm)")
	cmd.Flags().Float64Var(&end, "end", 0, "last wavelength (nm)")
	cmd.Flags().Float64Var(&pitch, "pitch", 0, "wavelength step (nm), 0 uses the config")
	cmd.Flags().DurationVar(&interval, "interval", 0, "dwell after each step (>= 1.1s), 0 uses the config")
	cmd.Flags().IntVar(&filter, "filter", optics.MinFilter, "filter index 1-6, used as is with --no-interlock")
	cmd.Flags().BoolVar(&noInterlock, "no-interlock", false, "use --filter instead of the band table")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")
	return cmd
}

// checkScan validates p and makes sure the grating can reach both ends of
// the range.
func checkScan(cfg *config.Config, p scan.Params) error {
	if err := p.Validate(cfg.SpectrometerVariant()); err != nil {
		return err
	}
	targets := []float64{p.StartNm}
	if steps := p.Steps(); len(steps) > 0 {
		targets = append(targets, steps[len(steps)-1])
	}
	for _, nm := range targets {
		if _, err := cfg.EngineConfig().Target(nm, p.Filter, p.Interlock); err != nil {
			return err
		}
	}
	return nil
}

// scanParams builds scan parameters, taking unset values from cfg.
func scanParams(cfg *config.Config, start, end, pitch float64, interval time.Duration) scan.Params {
	if pitch == 0 {
		pitch = cfg.Scan.PitchNm
	}
	if interval == 0 {
		interval = cfg.ScanInterval()
	}
	return scan.Params{
		StartNm:    start,
		EndNm:      end,
		PitchNm:    pitch,
		Interval:   interval,
		StartDelay: cfg.ScanStartDelay(),
		Filter:     optics.MinFilter,
		Interlock:  true,
	}
}

func NewRawCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "raw [command]",
		Short: "Send one command line to the controller and print the reply",
		Long: `Send one command line to the controller and print the reply.

The device is not homed first, so the reply reflects the controller as it is.
Only controllers with a text protocol (shot) accept raw commands.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			d, err := openDevice(cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			reply, err := d.raw(args[0])
			if err != nil {
				return err
			}
			cmd.Println(reply)
			return nil
		},
	}
}

func NewServeCommand() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validatePort(port); err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return withDevice(nil, func(cfg *config.Config, d *device, _ string) error {
				broadcaster := web.NewBroadcaster()
				debug.SetOutput(io.MultiWriter(os.Stdout, broadcaster.Writer()))

				handlers := web.NewHandlers(d.engine, d.sequence(), broadcaster, web.ScanDefaults{
					PitchNm:    cfg.Scan.PitchNm,
					Interval:   cfg.ScanInterval(),
					StartDelay: cfg.ScanStartDelay(),
				})
				srv := web.NewServer(fmt.Sprintf(":%d", port), handlers)
				if err := srv.Run(ctx); err != nil {
					return fmt.Errorf("web server: %w", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&port, "port", 8080, "listen port")
	return cmd
}

func parseFloatArg(args []string, valueName string) (float64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("invalid number of arguments")
	}
	value, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", valueName, err)
	}
	return value, nil
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", port)
	}
	return nil
}
