package optics

import "errors"

var (
	// ErrInvalidWavelength is returned for wavelengths outside the
	// spectrometer range or unreachable by the grating.
	ErrInvalidWavelength = errors.New("invalid wavelength")

	// ErrInvalidFilterIndex is returned for filter indexes outside 1..6.
	ErrInvalidFilterIndex = errors.New("invalid filter index")

	// ErrStatusParse is returned when a raw controller status cannot be decoded.
	ErrStatusParse = errors.New("malformed controller status")
)
