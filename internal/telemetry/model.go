package telemetry

import "time"

// FlightStatus is the lifecycle state of a flight.
type FlightStatus string

const (
	StatusActive    FlightStatus = "active"
	StatusCompleted FlightStatus = "completed"
)

// Flight is one bounded acquisition run.
type Flight struct {
	ID        int64
	Name      string
	StartedAt time.Time
	EndedAt   *time.Time
	Status    FlightStatus
}

// Record is one fully populated sensor row. Fields that were not present in
// the source packet are zero, never missing.
type Record struct {
	ID        int64
	FlightID  int64
	Timestamp int64 // unix milliseconds

	Roll  float64
	Pitch float64
	Yaw   float64

	AccX float64
	AccY float64
	AccZ float64

	Temp float64
	Pres float64
	Hum  float64

	Latitude      float64
	Longitude     float64
	Altitude      float64
	AltitudeCalc1 float64
	AltitudeCalc2 float64
	AltitudeCalc3 float64
	Satellites    int
}

// EventType classifies a diagnostic line.
type EventType string

const (
	EventWarning EventType = "warning"
	EventError   EventType = "error"
	EventInfo    EventType = "info"
)

// Source names the subsystem an event refers to.
type Source string

const (
	SourceLora          Source = "lora"
	SourceGPS           Source = "gps"
	SourceBME           Source = "bme"
	SourceAccelerometer Source = "accelerometer"
	SourceGyro          Source = "gyro"
	SourceSystem        Source = "system"
	SourceUnknown       Source = "unknown"
)

// IsSensor reports whether the source is one of the on-board sensors.
func (s Source) IsSensor() bool {
	switch s {
	case SourceGPS, SourceBME, SourceAccelerometer, SourceGyro:
		return true
	default:
		return false
	}
}

// Event is one classified diagnostic line.
type Event struct {
	ID        int64
	FlightID  int64
	Timestamp time.Time
	Type      EventType
	Source    Source
	Message   string
}
