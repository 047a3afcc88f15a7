// Package parser reads single-station displacement files in the supported
// text formats and returns records ready to merge into a dataset. Field
// searches are case insensitive; every parser fills in whatever required
// information the format itself omits.
package parser

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var ErrBadFormat = errors.New("malformed station file")

var mjdEpoch = time.Date(1858, time.November, 17, 0, 0, 0, 0, time.UTC)

// MJD converts a date string to its integer modified Julian date.
func MJD(date, layout string) (int, error) {
	t, err := time.Parse(layout, date)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	return int(t.Sub(mjdEpoch).Hours() / 24), nil
}

// getLineWith returns the first line containing sub.
func getLineWith(sub, master string) (string, error) {
	idx := strings.Index(master, sub)
	if idx == -1 {
		return "", fmt.Errorf("%w: cannot find %q", ErrBadFormat, sub)
	}
	start := strings.LastIndex(master[:idx], "\n") + 1
	end := strings.Index(master[start:], "\n")
	if end == -1 {
		return master[start:], nil
	}
	return master[start : start+end], nil
}

// getField finds the first line containing field, splits it by delim, and
// returns the trimmed element following the one containing field.
func getField(field, master, delim string) (string, error) {
	line, err := getLineWith(field, master)
	if err != nil {
		return "", err
	}
	lst := strings.Split(line, delim)
	for i, elem := range lst {
		if strings.Contains(elem, field) {
			if i+1 >= len(lst) {
				return "", fmt.Errorf("%w: no value associated with field %q", ErrBadFormat, field)
			}
			return strings.TrimSpace(lst[i+1]), nil
		}
	}
	return "", fmt.Errorf("%w: cannot find %q", ErrBadFormat, field)
}

// signedCoordinate parses "241.70 W"-style values, returning east-positive
// longitude or north-positive latitude.
func signedCoordinate(s string) (float64, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, fmt.Errorf("%w: bad coordinate %q", ErrBadFormat, s)
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad coordinate %q", ErrBadFormat, s)
	}
	switch strings.ToUpper(fields[1]) {
	case "W", "S":
		v = -v
	}
	return v, nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
