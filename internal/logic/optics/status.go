package optics

import (
	"fmt"
	"strconv"
	"strings"
)

const statusFieldWidth = 10

// Status is a snapshot decoded from a raw controller status line such as
// "      5578,       334,K,K,R".
type Status struct {
	Raw          string  `json:"raw"`
	GratingPulse int     `json:"grating_pulse"`
	FilterPulse  int     `json:"filter_pulse"`
	WavelengthNm float64 `json:"wavelength_nm"`
	Filter       int     `json:"filter"`

	// Flags are only meaningful when HasFlags is set.
	HasFlags     bool `json:"has_flags"`
	CommandError bool `json:"command_error"`
	LimitStop    bool `json:"limit_stop"`
	Ready        bool `json:"ready"`
}

// DecodeStatus parses a raw status line using the calibration c.
func DecodeStatus(raw string, c Calibration) (Status, error) {
	line := strings.TrimRight(raw, "\r\n")
	if len(line) < 2*statusFieldWidth+1 {
		return Status{}, fmt.Errorf("%w: %q is shorter than %d characters", ErrStatusParse, raw, 2*statusFieldWidth+1)
	}

	grating, err := parsePulseField(line[0:statusFieldWidth])
	if err != nil {
		return Status{}, fmt.Errorf("%w: grating field: %v", ErrStatusParse, err)
	}
	filter, err := parsePulseField(line[statusFieldWidth+1 : 2*statusFieldWidth+1])
	if err != nil {
		return Status{}, fmt.Errorf("%w: filter field: %v", ErrStatusParse, err)
	}

	st := Status{
		Raw:          raw,
		GratingPulse: grating,
		FilterPulse:  filter,
		WavelengthNm: c.WavelengthForPulse(grating),
		Filter:       FilterForPulse(filter),
	}

	rest := line[2*statusFieldWidth+1:]
	if flags := strings.Split(strings.TrimPrefix(rest, ","), ","); len(flags) == 3 {
		st.HasFlags = true
		st.CommandError = strings.TrimSpace(flags[0]) == "X"
		st.LimitStop = strings.TrimSpace(flags[1]) == "L"
		st.Ready = strings.TrimSpace(flags[2]) == "R"
	}
	return st, nil
}

func parsePulseField(field string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(field))
}

func (s Status) String() string {
	return fmt.Sprintf("wavelength=%gnm,filter=No.%d", s.WavelengthNm, s.Filter)
}
