package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cjeanneret/MonoGo/internal/config"
	"github.com/cjeanneret/MonoGo/internal/hw/settle"
	"github.com/cjeanneret/MonoGo/internal/hw/shot"
	"github.com/cjeanneret/MonoGo/internal/logic/optics"
	"github.com/cjeanneret/MonoGo/internal/logic/scan"
)

// ---------- resolveDebugLevel ----------

func TestResolveDebugLevel(t *testing.T) {
	cases := []struct {
		name         string
		flag, config int
		want         int
		wantErr      bool
	}{
		{"unset_uses_config", -1, 2, 2, false},
		{"flag_overrides", 4, 1, 4, false},
		{"flag_zero_silences", 0, 3, 0, false},
		{"flag_too_high", 5, 1, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolveDebugLevel(tc.flag, tc.config)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("level = %d, want %d", got, tc.want)
			}
		})
	}
}

// ---------- parseFloatArg / validatePort ----------

func TestParseFloatArg(t *testing.T) {
	v, err := parseFloatArg([]string{"532.5"}, "wavelength")
	if err != nil || v != 532.5 {
		t.Errorf("got %g, %v", v, err)
	}
	if _, err := parseFloatArg([]string{"green"}, "wavelength"); err == nil {
		t.Error("expected error for non-numeric wavelength")
	}
	if _, err := parseFloatArg(nil, "wavelength"); err == nil {
		t.Error("expected error for missing argument")
	}
}

func TestValidatePort(t *testing.T) {
	for _, p := range []int{1, 8080, 65535} {
		if err := validatePort(p); err != nil {
			t.Errorf("port %d: %v", p, err)
		}
	}
	for _, p := range []int{0, -1, 65536} {
		if err := validatePort(p); err == nil {
			t.Errorf("port %d should be rejected", p)
		}
	}
}

// ---------- scanParams ----------

func TestScanParams_UsesConfigDefaults(t *testing.T) {
	cfg := &config.Config{
		Scan:   config.ScanConfig{IntervalMs: 1500, PitchNm: 2},
		Settle: config.SettleConfig{ScanStartMs: 4000},
	}
	p := scanParams(cfg, 400, 420, 0, 0)
	if p.PitchNm != 2 || p.Interval != 1500*time.Millisecond || p.StartDelay != 4*time.Second {
		t.Errorf("params = %+v", p)
	}
	if n := len(p.Steps()); n != 11 {
		t.Errorf("steps = %d, want 11", n)
	}

	p = scanParams(cfg, 400, 420, 5, 2*time.Second)
	if p.PitchNm != 5 || p.Interval != 2*time.Second {
		t.Errorf("flags should win over config, got %+v", p)
	}
	if !p.Interlock {
		t.Error("interlock should default to on")
	}
}

// ---------- withDefaults ----------

func TestWithDefaults_KeepsConfiguredPins(t *testing.T) {
	got := withDefaults(config.StepperConfig{StepPin: 5, StepDelayUs: 100}, mockGratingStepper)
	if got.StepPin != 5 || got.StepDelayUs != 100 {
		t.Errorf("configured values overwritten: %+v", got)
	}
	if got.DirPin != mockGratingStepper.DirPin || got.HomePin != mockGratingStepper.HomePin {
		t.Errorf("unset pins not filled: %+v", got)
	}
}

// ---------- openDevice ----------

func mockConfig() *config.Config {
	return &config.Config{
		Spectrometer: config.SpectrometerConfig{Type: "uv", C1: 2882, C2: 0.0008},
		Controller:   config.ControllerConfig{Type: config.ControllerStepper},
		Defaults:     config.DefaultsConfig{MockGPIO: true},
	}
}

func TestOpenDevice_MockInitializesAndMoves(t *testing.T) {
	d, err := openDevice(mockConfig())
	if err != nil {
		t.Fatalf("openDevice: %v", err)
	}
	defer d.Close()

	if _, ok := d.settler.(settle.Nop); !ok {
		t.Errorf("mock device should not wait, settler is %T", d.settler)
	}

	raw, err := d.initialize()
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if raw != "         0,         0,K,K,R" {
		t.Errorf("status after initialization = %q", raw)
	}

	if err := d.engine.ChangeWavelength(300, 1, true); err != nil {
		t.Fatalf("ChangeWavelength: %v", err)
	}
	st, err := d.engine.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.GratingPulse != 5955 || st.WavelengthNm != 300 {
		t.Errorf("status = %+v, want 300 nm at 5955 pulses", st)
	}
}

func TestOpenDevice_ScanOnMock(t *testing.T) {
	d, err := openDevice(mockConfig())
	if err != nil {
		t.Fatalf("openDevice: %v", err)
	}
	defer d.Close()
	if _, err := d.initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	var visited []float64
	p := scan.Params{
		StartNm: 250, EndNm: 252, PitchNm: 1,
		Interval: scan.MinInterval, StartDelay: time.Millisecond,
		Filter: 1, Interlock: true,
		OnStep: func(_ int, nm float64) { visited = append(visited, nm) },
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := scan.NewSequence(d.engine, settle.Nop{}).Run(ctx, p); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(visited) != 3 || visited[2] != 252 {
		t.Errorf("visited = %v", visited)
	}
}

func TestNewCommand_Subcommands(t *testing.T) {
	cmd := NewCommand()
	for _, name := range []string{"init", "goto", "status", "scan", "raw", "serve"} {
		if c, _, err := cmd.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
	for _, flag := range []string{"config", "debug-level"} {
		if cmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("global flag --%s missing", flag)
		}
	}
}

func TestOpenDevice_MockTrigger(t *testing.T) {
	cfg := mockConfig()
	cfg.Trigger = config.TriggerConfig{Pin: 16, PulseMs: 1}
	d, err := openDevice(cfg)
	if err != nil {
		t.Fatalf("openDevice: %v", err)
	}
	defer d.Close()
	if d.trigger == nil {
		t.Fatal("trigger pin configured but no trigger built")
	}
	if err := d.trigger.Fire(); err != nil {
		t.Errorf("Fire on mock GPIO: %v", err)
	}

	d, err = openDevice(mockConfig())
	if err != nil {
		t.Fatalf("openDevice: %v", err)
	}
	if d.trigger != nil {
		t.Errorf("no trigger pin, got %T", d.trigger)
	}
}

// ---------- request checks ----------

// unreachableConfig writes a config whose serial device cannot be opened,
// so any command that gets as far as the hardware fails on the port.
func unreachableConfig(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "configs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "unreachable.yaml")
	yaml := "spectrometer:\n  type: uv\ncontroller:\n  type: shot\n  device: /dev/monogo-no-such-tty\ndefaults:\n  debug_level: 0\n  mock_gpio: false\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCommand(t *testing.T, args ...string) error {
	t.Helper()
	oldPath, oldLevel := configPath, debugLevel
	t.Cleanup(func() { configPath, debugLevel = oldPath, oldLevel })

	cmd := NewCommand()
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.Execute()
}

func TestCommands_RejectBeforeOpeningHardware(t *testing.T) {
	path := unreachableConfig(t)
	cases := []struct {
		name string
		args []string
		want error
	}{
		{"scan_short_interval", []string{"scan", "--start", "400", "--end", "410", "--interval", "500ms"}, scan.ErrInvalidInterval},
		{"scan_end_huge", []string{"scan", "--start", "0", "--end", "1e300"}, optics.ErrInvalidWavelength},
		{"scan_end_nan", []string{"scan", "--start", "0", "--end", "NaN"}, optics.ErrInvalidWavelength},
		{"scan_bad_pitch", []string{"scan", "--start", "400", "--end", "410", "--pitch", "-1"}, scan.ErrInvalidPitch},
		{"goto_out_of_range", []string{"goto", "5000"}, optics.ErrInvalidWavelength},
		{"goto_bad_filter", []string{"goto", "500", "--filter", "9"}, optics.ErrInvalidFilterIndex},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := runCommand(t, append([]string{"--config", path}, tc.args...)...)
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCommands_ValidRequestReachesHardware(t *testing.T) {
	path := unreachableConfig(t)
	err := runCommand(t, "--config", path, "goto", "500")
	if err == nil || !strings.Contains(err.Error(), "monogo-no-such-tty") {
		t.Errorf("expected the serial port to fail, got %v", err)
	}
}

// ---------- raw ----------

func TestDevice_RawNeedsTextController(t *testing.T) {
	var sent bytes.Buffer
	port := struct {
		io.Reader
		io.Writer
	}{strings.NewReader("V1.0\r\n"), &sent}

	d := &device{ctrl: shot.New(port)}
	reply, err := d.raw("?:V")
	if err != nil {
		t.Fatalf("raw: %v", err)
	}
	if reply != "V1.0" || sent.String() != "?:V\r\n" {
		t.Errorf("reply %q, sent %q", reply, sent.String())
	}

	m, err := openDevice(mockConfig())
	if err != nil {
		t.Fatalf("openDevice: %v", err)
	}
	defer m.Close()
	if _, err := m.raw("Q:"); err == nil {
		t.Error("stepper controller should refuse raw commands")
	}
}

func TestCheckScan_GratingReach(t *testing.T) {
	cfg := mockConfig()
	cfg.Spectrometer.Type = "ir"
	p := scanParams(cfg, 1500, 2000, 10, scan.MinInterval)
	if err := checkScan(cfg, p); !errors.Is(err, optics.ErrInvalidWavelength) {
		t.Errorf("2000 nm is beyond the grating's reach, got %v", err)
	}
	p = scanParams(cfg, 1500, 1600, 10, scan.MinInterval)
	if err := checkScan(cfg, p); err != nil {
		t.Errorf("checkScan: %v", err)
	}
}
