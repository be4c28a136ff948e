package telemetry

import (
	"regexp"
	"strconv"
)

const number = `([-0-9.]+)`

// extractors are tried in order against one line, first match wins.
var extractors = []struct {
	pattern *regexp.Regexp
	fields  []Field
}{
	{
		regexp.MustCompile(`(?i)Roll/Pitch/Yaw:\s*` + number + `\s*/\s*` + number + `\s*/\s*` + number),
		[]Field{FieldRoll, FieldPitch, FieldYaw},
	},
	{
		regexp.MustCompile(`(?i)Accel[^:]*:\s*` + number + `\s*/\s*` + number + `\s*/\s*` + number),
		[]Field{FieldAccX, FieldAccY, FieldAccZ},
	},
	{
		regexp.MustCompile(`(?i)Temp/?Hum/?Pres[^:]*:\s*` + number + `°?C?\s*/\s*` + number + `%?\s*/\s*` + number),
		[]Field{FieldTemp, FieldHum, FieldPres},
	},
	{
		regexp.MustCompile(`(?i)GPS Lat/Lon/Alt:\s*` + number + `\s*/\s*` + number + `\s*/\s*` + number),
		[]Field{FieldLatitude, FieldLongitude, FieldAltitude},
	},
	{
		regexp.MustCompile(`(?i)SATS:\s*(\d+)`),
		[]Field{FieldSatellites},
	},
}

// Extract mines labelled numeric groups out of a human readable line, such
// as "Accel (X/Y/Z): 0.01 / -0.02 / 9.81". Numbers that do not parse are
// zero. It returns false when no pattern matches.
func Extract(line string) (Fragment, bool) {
	for _, ex := range extractors {
		m := ex.pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		frag := make(Fragment, len(ex.fields))
		for i, field := range ex.fields {
			v, err := strconv.ParseFloat(m[i+1], 64)
			if err != nil {
				v = 0
			}
			frag[field] = v
		}

		return frag, true
	}

	return nil, false
}
