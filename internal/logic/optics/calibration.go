package optics

import (
	"fmt"
	"math"
)

const (
	// DispersionCoefficient relates wavelength (nm) to sin(grating angle).
	DispersionCoefficient = -0.0006194615

	// DegreesPerGratingPulse is the grating drive resolution.
	DegreesPerGratingPulse = 0.0018

	// PulsesPerFilterIndex is the filter wheel gearing between adjacent filters.
	PulsesPerFilterIndex = 167

	// Defaults for the reference product.
	DefaultC1 = 2882
	DefaultC2 = 0.0008
)

// Calibration holds the product-specific constants.
type Calibration struct {
	C1 int     // grating origin offset in pulses
	C2 float64 // dispersion correction factor
}

// DefaultCalibration returns the reference product constants.
func DefaultCalibration() Calibration {
	return Calibration{C1: DefaultC1, C2: DefaultC2}
}

// GratingAngle returns the grating angle in degrees for a wavelength.
// The result is NaN when the wavelength is beyond the grating's reach.
func (c Calibration) GratingAngle(nm float64) float64 {
	return math.Asin(DispersionCoefficient*(1+c.C2)*nm) / math.Pi * 180
}

// PulseForWavelength converts a wavelength to an absolute grating pulse
// count relative to the electrical origin. Range checks against the
// spectrometer variant are the caller's job; this only rejects wavelengths
// the grating cannot reach.
func (c Calibration) PulseForWavelength(nm float64) (int, error) {
	theta := c.GratingAngle(nm)
	if math.IsNaN(theta) || math.IsInf(theta, 0) {
		return 0, fmt.Errorf("%w: %g nm is beyond the grating angle range", ErrInvalidWavelength, nm)
	}
	return int(math.RoundToEven(-theta / DegreesPerGratingPulse)), nil
}

// WavelengthForPulse inverts PulseForWavelength, rounded to the nearest nm.
func (c Calibration) WavelengthForPulse(pulse int) float64 {
	theta := float64(pulse) * -DegreesPerGratingPulse
	return math.RoundToEven(math.Sin(theta/180*math.Pi) / DispersionCoefficient / (1 + c.C2))
}

// FilterForPulse converts a raw filter axis pulse count to a filter position.
// At the electrical origin this reports 0.
func FilterForPulse(pulse int) int {
	return int(math.RoundToEven(float64(pulse) / 500 * 3))
}
