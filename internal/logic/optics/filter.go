package optics

import "fmt"

// Filter indexes available on the wheel.
const (
	MinFilter = 1
	MaxFilter = 6
)

// ValidateFilter checks that idx names a filter on the wheel.
func ValidateFilter(idx int) error {
	if idx < MinFilter || idx > MaxFilter {
		return fmt.Errorf("%w: %d, must be %d to %d", ErrInvalidFilterIndex, idx, MinFilter, MaxFilter)
	}
	return nil
}

// FilterForWavelength returns the order-sorting filter for nm.
// Bands are closed on their lower bound.
func (s Spectrometer) FilterForWavelength(nm float64) int {
	filter := s.bands[0].Filter
	for _, b := range s.bands {
		if nm < b.Lower {
			break
		}
		filter = b.Filter
	}
	return filter
}

// SelectFilter validates requested and, when interlock is on, replaces it
// with the band filter for nm.
func (s Spectrometer) SelectFilter(nm float64, requested int, interlock bool) (int, error) {
	if err := ValidateFilter(requested); err != nil {
		return 0, err
	}
	if !interlock {
		return requested, nil
	}
	return s.FilterForWavelength(nm), nil
}
