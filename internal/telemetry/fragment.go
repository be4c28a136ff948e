package telemetry

import "math"

// Field names one column of the fixed telemetry schema.
type Field string

const (
	FieldRoll          Field = "roll"
	FieldPitch         Field = "pitch"
	FieldYaw           Field = "yaw"
	FieldAccX          Field = "accX"
	FieldAccY          Field = "accY"
	FieldAccZ          Field = "accZ"
	FieldTemp          Field = "temp"
	FieldPres          Field = "pres"
	FieldHum           Field = "hum"
	FieldLatitude      Field = "latitude"
	FieldLongitude     Field = "longitude"
	FieldAltitude      Field = "altitude"
	FieldAltitudeCalc1 Field = "altitude_calc1"
	FieldAltitudeCalc2 Field = "altitude_calc2"
	FieldAltitudeCalc3 Field = "altitude_calc3"
	FieldSatellites    Field = "satellites"
)

// Fragment is a partial set of telemetry values.
type Fragment map[Field]float64

// Merge copies every value of other into f; other wins on collision.
func (f Fragment) Merge(other Fragment) {
	for k, v := range other {
		f[k] = v
	}
}

// Apply writes the fragment's values onto r, leaving other fields untouched.
func (r *Record) Apply(f Fragment) {
	for field, v := range f {
		switch field {
		case FieldRoll:
			r.Roll = v
		case FieldPitch:
			r.Pitch = v
		case FieldYaw:
			r.Yaw = v
		case FieldAccX:
			r.AccX = v
		case FieldAccY:
			r.AccY = v
		case FieldAccZ:
			r.AccZ = v
		case FieldTemp:
			r.Temp = v
		case FieldPres:
			r.Pres = v
		case FieldHum:
			r.Hum = v
		case FieldLatitude:
			r.Latitude = v
		case FieldLongitude:
			r.Longitude = v
		case FieldAltitude:
			r.Altitude = v
		case FieldAltitudeCalc1:
			r.AltitudeCalc1 = v
		case FieldAltitudeCalc2:
			r.AltitudeCalc2 = v
		case FieldAltitudeCalc3:
			r.AltitudeCalc3 = v
		case FieldSatellites:
			r.Satellites = int(math.Trunc(v))
		}
	}
}
