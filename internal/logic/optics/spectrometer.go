package optics

import (
	"fmt"
	"strings"
)

// Band maps wavelengths from Lower (inclusive) up to the next band's lower
// bound to a filter.
type Band struct {
	Lower  float64
	Filter int
}

// Spectrometer describes one product variant: its wavelength range and the
// order-sorting filter bands used by the interlock.
type Spectrometer struct {
	Name  string
	MaxNm float64
	bands []Band // sorted by Lower, first band starts at 0
}

var (
	// VisibleUV covers the S and UV products.
	VisibleUV = Spectrometer{
		Name:  "uv",
		MaxNm: 1300,
		bands: []Band{{0, 1}, {400, 2}, {600, 3}, {900, 4}},
	}

	// IR covers the infrared product.
	IR = Spectrometer{
		Name:  "ir",
		MaxNm: 2600,
		bands: []Band{{0, 1}, {700, 2}, {900, 3}, {1200, 4}, {1700, 5}, {2600, 6}},
	}
)

// ParseSpectrometer returns the variant for a config name.
func ParseSpectrometer(name string) (Spectrometer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "uv", "s", "visible", "visible_uv":
		return VisibleUV, nil
	case "ir":
		return IR, nil
	default:
		return Spectrometer{}, fmt.Errorf("unknown spectrometer type %q", name)
	}
}

// Bands returns a copy of the filter band table.
func (s Spectrometer) Bands() []Band {
	return append([]Band(nil), s.bands...)
}

// ValidateWavelength checks nm against [0, MaxNm].
func (s Spectrometer) ValidateWavelength(nm float64) error {
	if nm != nm || nm < 0 || nm > s.MaxNm {
		return fmt.Errorf("%w: %g nm, %s range is 0 to %g", ErrInvalidWavelength, nm, s.Name, s.MaxNm)
	}
	return nil
}

func (s Spectrometer) String() string {
	return s.Name
}
