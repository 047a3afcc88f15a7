package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/fagan2888/PyGeoNS/dataset"
)

// Formats maps format names to their parser.
var Formats = map[string]func(string) (*dataset.Record, error){
	"csv":    ParseCSV,
	"pbocsv": ParsePBOCSV,
	"tdecsv": ParseTDECSV,
	"pbopos": ParsePBOPOS,
}

// ParseCSV reads the native csv format: a header with the station id,
// coordinates, units and begin date, followed by rows of
// date,north,east,vertical,north_std,east_std,vertical_std.
func ParseCSV(content string) (*dataset.Record, error) {
	content = strings.ToLower(content)
	id, err := getField("4-character id", content, ",")
	if err != nil {
		return nil, err
	}
	lonStr, err := getField("longitude", content, ",")
	if err != nil {
		return nil, err
	}
	lon, err := signedCoordinate(lonStr)
	if err != nil {
		return nil, err
	}
	latStr, err := getField("latitude", content, ",")
	if err != nil {
		return nil, err
	}
	lat, err := signedCoordinate(latStr)
	if err != nil {
		return nil, err
	}
	units, err := getField("units", content, ",")
	if err != nil {
		return nil, err
	}
	spaceExp, timeExp, err := parseUnits(units)
	if err != nil {
		return nil, err
	}
	start, err := getField("begin date", content, ",")
	if err != nil {
		return nil, err
	}

	rec := &dataset.Record{
		ID:       strings.ToUpper(id),
		Lon:      lon,
		Lat:      lat,
		TimeExp:  timeExp,
		SpaceExp: spaceExp,
	}
	block := content[strings.LastIndex(content, start):]
	for _, line := range strings.Split(block, "\n") {
		cols := strings.Split(line, ",")
		if len(cols) < 7 {
			continue
		}
		t, err := MJD(strings.TrimSpace(cols[0]), "2006-01-02")
		if err != nil {
			continue
		}
		rec.Times = append(rec.Times, t)
		rec.North = append(rec.North, parseFloat(cols[1]))
		rec.East = append(rec.East, parseFloat(cols[2]))
		rec.Vertical = append(rec.Vertical, parseFloat(cols[3]))
		rec.NorthSigma = append(rec.NorthSigma, parseFloat(cols[4]))
		rec.EastSigma = append(rec.EastSigma, parseFloat(cols[5]))
		rec.VerticalSigma = append(rec.VerticalSigma, parseFloat(cols[6]))
	}
	if len(rec.Times) == 0 {
		return nil, fmt.Errorf("%w: no data rows for station %s", ErrBadFormat, rec.ID)
	}
	return rec, nil
}

// parseUnits splits a "meters**1 days**0" units declaration into the space
// and time exponents.
func parseUnits(units string) (spaceExp, timeExp int, err error) {
	fields := strings.Fields(units)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("%w: bad units %q", ErrBadFormat, units)
	}
	exp := func(s string) (int, error) {
		parts := strings.Split(s, "**")
		if len(parts) != 2 {
			return 0, fmt.Errorf("%w: bad units %q", ErrBadFormat, units)
		}
		return strconv.Atoi(parts[1])
	}
	if spaceExp, err = exp(fields[0]); err != nil {
		return 0, 0, err
	}
	if timeExp, err = exp(fields[1]); err != nil {
		return 0, 0, err
	}
	return spaceExp, timeExp, nil
}

// ParsePBOCSV reads a PBO csv file. Values are in millimeters and are
// converted to meters.
func ParsePBOCSV(content string) (*dataset.Record, error) {
	content = strings.ToLower(content)
	id, err := getField("4-character id", content, ",")
	if err != nil {
		return nil, err
	}
	start, err := getField("begin date", content, ",")
	if err != nil {
		return nil, err
	}
	pos, err := getLineWith("reference position", content)
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(pos)
	if len(fields) < 6 {
		return nil, fmt.Errorf("%w: bad reference position %q", ErrBadFormat, pos)
	}
	lat := parseFloat(fields[2])
	lon := parseFloat(fields[5])

	rec := &dataset.Record{
		ID:       strings.ToUpper(id),
		Lon:      lon,
		Lat:      lat,
		TimeExp:  0,
		SpaceExp: 1,
	}
	block := content[strings.LastIndex(content, start):]
	for _, line := range strings.Split(block, "\n") {
		cols := strings.Split(line, ",")
		if len(cols) < 7 {
			continue
		}
		t, err := MJD(strings.TrimSpace(cols[0]), "2006-01-02")
		if err != nil {
			continue
		}
		rec.Times = append(rec.Times, t)
		rec.North = append(rec.North, 0.001*parseFloat(cols[1]))
		rec.East = append(rec.East, 0.001*parseFloat(cols[2]))
		rec.Vertical = append(rec.Vertical, 0.001*parseFloat(cols[3]))
		rec.NorthSigma = append(rec.NorthSigma, 0.001*parseFloat(cols[4]))
		rec.EastSigma = append(rec.EastSigma, 0.001*parseFloat(cols[5]))
		rec.VerticalSigma = append(rec.VerticalSigma, 0.001*parseFloat(cols[6]))
	}
	if len(rec.Times) == 0 {
		return nil, fmt.Errorf("%w: no data rows for station %s", ErrBadFormat, rec.ID)
	}
	return rec, nil
}

// ParseTDECSV reads the format used by the SCEC transient detection
// validation exercise: a one-line header "station NAME, lat, lon" followed
// by date,east,north,vertical rows in millimeters. The format carries no
// uncertainties; they are filled with one millimeter.
func ParseTDECSV(content string) (*dataset.Record, error) {
	content = strings.ToLower(strings.TrimSpace(content))
	nl := strings.Index(content, "\n")
	if nl == -1 {
		return nil, fmt.Errorf("%w: missing header line", ErrBadFormat)
	}
	header := strings.Split(content[:nl], ",")
	if len(header) < 3 {
		return nil, fmt.Errorf("%w: bad header %q", ErrBadFormat, content[:nl])
	}
	nameFields := strings.Fields(header[0])
	if len(nameFields) < 2 {
		return nil, fmt.Errorf("%w: bad header %q", ErrBadFormat, header[0])
	}
	rec := &dataset.Record{
		ID:       strings.ToUpper(nameFields[1]),
		Lat:      parseFloat(header[1]),
		Lon:      parseFloat(header[2]),
		TimeExp:  0,
		SpaceExp: 1,
	}
	for _, line := range strings.Split(content[nl+1:], "\n") {
		cols := strings.Split(line, ",")
		if len(cols) < 4 {
			continue
		}
		t, err := MJD(strings.TrimSpace(cols[0]), "2006-01-02")
		if err != nil {
			continue
		}
		rec.Times = append(rec.Times, t)
		rec.East = append(rec.East, 0.001*parseFloat(cols[1]))
		rec.North = append(rec.North, 0.001*parseFloat(cols[2]))
		rec.Vertical = append(rec.Vertical, 0.001*parseFloat(cols[3]))
		rec.EastSigma = append(rec.EastSigma, 0.001)
		rec.NorthSigma = append(rec.NorthSigma, 0.001)
		rec.VerticalSigma = append(rec.VerticalSigma, 0.001)
	}
	if len(rec.Times) == 0 {
		return nil, fmt.Errorf("%w: no data rows for station %s", ErrBadFormat, rec.ID)
	}
	return rec, nil
}

// ParsePBOPOS reads a PBO pos file: colon-delimited header fields and
// whitespace-separated data rows already in meters.
func ParsePBOPOS(content string) (*dataset.Record, error) {
	content = strings.ToLower(content)
	id, err := getField("4-character id", content, ":")
	if err != nil {
		return nil, err
	}
	start, err := getField("first epoch", content, ":")
	if err != nil {
		return nil, err
	}
	pos, err := getField("neu reference position", content, ":")
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(pos)
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: bad reference position %q", ErrBadFormat, pos)
	}
	lat := parseFloat(fields[0])
	lon := parseFloat(fields[1])

	rec := &dataset.Record{
		ID:       strings.ToUpper(id),
		Lon:      lon,
		Lat:      lat,
		TimeExp:  0,
		SpaceExp: 1,
	}
	// The first epoch field carries a time of day; match on the date part.
	startDate := strings.Fields(start)[0]
	block := content[strings.LastIndex(content, startDate):]
	for _, line := range strings.Split(block, "\n") {
		cols := strings.Fields(line)
		if len(cols) < 21 {
			continue
		}
		t, err := MJD(cols[0], "20060102")
		if err != nil {
			continue
		}
		rec.Times = append(rec.Times, t)
		rec.North = append(rec.North, parseFloat(cols[15]))
		rec.East = append(rec.East, parseFloat(cols[16]))
		rec.Vertical = append(rec.Vertical, parseFloat(cols[17]))
		rec.NorthSigma = append(rec.NorthSigma, parseFloat(cols[18]))
		rec.EastSigma = append(rec.EastSigma, parseFloat(cols[19]))
		rec.VerticalSigma = append(rec.VerticalSigma, parseFloat(cols[20]))
	}
	if len(rec.Times) == 0 {
		return nil, fmt.Errorf("%w: no data rows for station %s", ErrBadFormat, rec.ID)
	}
	return rec, nil
}

// WriteCSV renders a record in the native csv format, using the dataset
// missing-data convention for absent entries.
func WriteCSV(rec *dataset.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "4-character id, %s\n", rec.ID)
	lon, lonDir := rec.Lon, "E"
	if lon < 0 {
		lon, lonDir = -lon, "W"
	}
	lat, latDir := rec.Lat, "N"
	if lat < 0 {
		lat, latDir = -lat, "S"
	}
	fmt.Fprintf(&b, "longitude, %.6f %s\n", lon, lonDir)
	fmt.Fprintf(&b, "latitude, %.6f %s\n", lat, latDir)
	fmt.Fprintf(&b, "units, meters**%d days**%d\n", rec.SpaceExp, rec.TimeExp)
	if len(rec.Times) > 0 {
		fmt.Fprintf(&b, "begin date, %s\n", MJDDate(rec.Times[0]))
		fmt.Fprintf(&b, "end date, %s\n", MJDDate(rec.Times[len(rec.Times)-1]))
	}
	b.WriteString("date, north, east, vertical, north std. deviation, east std. deviation, vertical std. deviation\n")
	for i, t := range rec.Times {
		fmt.Fprintf(&b, "%s, %s, %s, %s, %s, %s, %s\n", MJDDate(t),
			fmtValue(rec.North[i]), fmtValue(rec.East[i]), fmtValue(rec.Vertical[i]),
			fmtValue(rec.NorthSigma[i]), fmtValue(rec.EastSigma[i]), fmtValue(rec.VerticalSigma[i]))
	}
	return b.String()
}

// MJDDate renders an integer modified Julian date as an ISO calendar date.
func MJDDate(mjd int) string {
	return mjdEpoch.AddDate(0, 0, mjd).Format("2006-01-02")
}

func fmtValue(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	if math.IsInf(v, 1) {
		return "inf"
	}
	return strconv.FormatFloat(v, 'e', 6, 64)
}
