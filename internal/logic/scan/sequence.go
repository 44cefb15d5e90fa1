package scan

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cjeanneret/MonoGo/internal/debug"
	"github.com/cjeanneret/MonoGo/internal/hw/settle"
	"github.com/cjeanneret/MonoGo/internal/logic/optics"
)

// MinInterval is the shortest dwell between scan steps the mechanics
// reliably settle in. Long pitches may need more.
const MinInterval = 1100 * time.Millisecond

// DefaultStartDelay is the wait after moving to the first wavelength.
const DefaultStartDelay = 3 * time.Second

var (
	// ErrInvalidInterval is returned when the step interval is below MinInterval.
	ErrInvalidInterval = errors.New("invalid scan interval")

	// ErrInvalidPitch is returned for a non-positive or non-finite pitch.
	ErrInvalidPitch = errors.New("invalid scan pitch")
)

// Monochromator is the part of the engine a scan drives.
type Monochromator interface {
	ChangeWavelength(nm float64, filter int, interlock bool) error
	Spectrometer() optics.Spectrometer
}

// Trigger starts a detector acquisition once a step is in place.
type Trigger interface {
	Fire() error
}

// Sequence steps a monochromator through a wavelength range.
type Sequence struct {
	mono    Monochromator
	settler settle.Settler
	trigger Trigger
}

func NewSequence(m Monochromator, s settle.Settler) *Sequence {
	if s == nil {
		s = settle.Sleep{}
	}
	return &Sequence{
		mono:    m,
		settler: s,
	}
}

// WithTrigger fires t after every step's move, before the dwell.
func (s *Sequence) WithTrigger(t Trigger) *Sequence {
	s.trigger = t
	return s
}

// Params defines one wavelength scan.
type Params struct {
	StartNm    float64
	EndNm      float64
	PitchNm    float64
	Interval   time.Duration // dwell after each step
	StartDelay time.Duration // dwell after the first move; 0 uses DefaultStartDelay
	Filter     int
	Interlock  bool

	// OnStep is called after each step's move is issued.
	OnStep func(step int, nm float64)
}

// MaxSteps bounds the number of steps in one scan.
const MaxSteps = 100000

// lastStep returns the index of the final step and its wavelength without
// converting to int, so huge or non-finite inputs cannot overflow.
func (p Params) lastStep() (index, nm float64) {
	index = math.Floor((p.EndNm-p.StartNm)/p.PitchNm + 1e-9)
	return index, math.Min(p.StartNm+index*p.PitchNm, p.EndNm)
}

// NumSteps returns how many steps Steps would visit, or 0 when the range is
// empty or not bounded by MaxSteps.
func (p Params) NumSteps() int {
	if !(p.PitchNm > 0) || !(p.EndNm >= p.StartNm) || math.IsInf(p.PitchNm, 0) {
		return 0
	}
	index, _ := p.lastStep()
	if !(index < MaxSteps) {
		return 0
	}
	return int(index) + 1
}

// Steps returns the wavelengths visited: start, start+pitch, ... up to and
// including end.
func (p Params) Steps() []float64 {
	steps := make([]float64, p.NumSteps())
	for i := range steps {
		steps[i] = math.Min(p.StartNm+float64(i)*p.PitchNm, p.EndNm)
	}
	return steps
}

// Validate checks p against the spectrometer before anything moves.
func (p Params) Validate(spec optics.Spectrometer) error {
	if p.Interval < MinInterval {
		return fmt.Errorf("%w: %v, must be at least %v", ErrInvalidInterval, p.Interval, MinInterval)
	}
	if err := optics.ValidateFilter(p.Filter); err != nil {
		return err
	}
	if p.PitchNm <= 0 || math.IsNaN(p.PitchNm) || math.IsInf(p.PitchNm, 0) {
		return fmt.Errorf("%w: %g nm", ErrInvalidPitch, p.PitchNm)
	}
	if err := spec.ValidateWavelength(p.StartNm); err != nil {
		return err
	}
	if math.IsNaN(p.EndNm) || math.IsInf(p.EndNm, 0) {
		return fmt.Errorf("%w: scan end %g nm", optics.ErrInvalidWavelength, p.EndNm)
	}
	if p.EndNm < p.StartNm {
		return nil
	}
	index, last := p.lastStep()
	if err := spec.ValidateWavelength(last); err != nil {
		return err
	}
	if index >= MaxSteps {
		return fmt.Errorf("%w: %g nm gives more than %d steps", ErrInvalidPitch, p.PitchNm, MaxSteps)
	}
	return nil
}

// Run moves to the start wavelength, waits, then steps through the range
// with Interval between steps. Cancellation is honoured between steps; a
// move already issued always completes.
func (s *Sequence) Run(ctx context.Context, p Params) error {
	if err := p.Validate(s.mono.Spectrometer()); err != nil {
		return err
	}
	steps := p.Steps()
	startDelay := p.StartDelay
	if startDelay <= 0 {
		startDelay = DefaultStartDelay
	}

	debug.Section("Wavelength Scan")
	debug.Info("Scan %g to %g nm, pitch %g nm, %d steps", p.StartNm, p.EndNm, p.PitchNm, len(steps))

	if err := s.mono.ChangeWavelength(p.StartNm, p.Filter, p.Interlock); err != nil {
		return err
	}
	s.settler.Wait(startDelay)

	for i, nm := range steps {
		select {
		case <-ctx.Done():
			debug.Live("Scan cancelled before step %d", i+1)
			return ctx.Err()
		default:
		}

		debug.Live("Step %d/%d: %g nm", i+1, len(steps), nm)
		if err := s.mono.ChangeWavelength(nm, p.Filter, p.Interlock); err != nil {
			return fmt.Errorf("step %d (%g nm): %w", i+1, nm, err)
		}
		if s.trigger != nil {
			if err := s.trigger.Fire(); err != nil {
				return fmt.Errorf("step %d (%g nm): %w", i+1, nm, err)
			}
		}
		if p.OnStep != nil {
			p.OnStep(i+1, nm)
		}
		s.settler.Wait(p.Interval)
	}

	debug.Summary(fmt.Sprintf("Scan complete, %d steps", len(steps)))
	return nil
}
