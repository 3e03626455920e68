package status

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrInvalidBitRate is returned for a malformed bitrate specifier.
var ErrInvalidBitRate = errors.New("invalid bit rate specifier")

var (
	bitRateOnly           = regexp.MustCompile(`^(\d+)$`)
	bitRateWithResolution = regexp.MustCompile(`^(\d+)@(\d+)x(\d+)$`)
)

// ParseBitRate parses "BITRATE" or "BITRATE@WIDTHxHEIGHT", where the bitrate
// is in kbps. The resolution is nil when none is given.
func ParseBitRate(s string) (int, *Resolution, error) {
	if m := bitRateOnly.FindStringSubmatch(s); m != nil {
		kbps, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, nil, fmt.Errorf("%w: %q", ErrInvalidBitRate, s)
		}
		return kbps, nil, nil
	}

	m := bitRateWithResolution.FindStringSubmatch(s)
	if m == nil {
		return 0, nil, fmt.Errorf("%w: %q", ErrInvalidBitRate, s)
	}
	kbps, err1 := strconv.Atoi(m[1])
	width, err2 := strconv.Atoi(m[2])
	height, err3 := strconv.Atoi(m[3])
	if err := errors.Join(err1, err2, err3); err != nil {
		return 0, nil, fmt.Errorf("%w: %q", ErrInvalidBitRate, s)
	}
	return kbps, &Resolution{Width: width, Height: height}, nil
}
