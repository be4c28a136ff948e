package telemetry

import (
	"math"
	"strconv"
	"strings"
)

// csvColumns maps CSV positions to fields. Column 0 carries the on-board
// sequence number and is not a value. Column 12 feeds both altitude and the
// first calculated altitude, and column 13 both the satellite count and the
// second calculated altitude, matching the receiver firmware.
var csvColumns = []struct {
	field Field
	index int
}{
	{FieldRoll, 1},
	{FieldPitch, 2},
	{FieldYaw, 3},
	{FieldAccX, 4},
	{FieldAccY, 5},
	{FieldAccZ, 6},
	{FieldTemp, 7},
	{FieldPres, 8},
	{FieldHum, 9},
	{FieldLatitude, 10},
	{FieldLongitude, 11},
	{FieldAltitude, 12},
	{FieldAltitudeCalc1, 12},
	{FieldSatellites, 13},
	{FieldAltitudeCalc2, 13},
	{FieldAltitudeCalc3, 14},
}

// ParseCSV parses one comma separated receiver line. It returns false when
// no field is a finite number. Every schema field is present in the result;
// missing or non-numeric columns are zero.
func ParseCSV(line string) (Fragment, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false
	}

	parts := strings.Split(line, ",")
	values := make([]float64, len(parts))
	numeric := 0
	for i, p := range parts {
		if v, ok := parseFinite(strings.TrimSpace(p)); ok {
			values[i] = v
			numeric++
		}
	}
	if numeric == 0 {
		return nil, false
	}

	frag := make(Fragment, len(csvColumns))
	for _, col := range csvColumns {
		if col.index < len(values) {
			frag[col.field] = values[col.index]
		} else {
			frag[col.field] = 0
		}
	}
	frag[FieldSatellites] = math.Trunc(frag[FieldSatellites])

	return frag, true
}

func parseFinite(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}

	return v, true
}
