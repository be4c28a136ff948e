package telemetry

// Update is the live view payload for one telemetry record. Field names
// follow the dashboard contract.
type Update struct {
	FlightID      int64   `json:"flightId"`
	Timestamp     int64   `json:"timestamp"`
	Temperature   float64 `json:"temperature"`
	Humidity      float64 `json:"humidity"`
	Altitude      float64 `json:"altitude"`
	Pressure      float64 `json:"pressure"`
	WalkieChannel int     `json:"walkie_channel"`
	AccX          float64 `json:"acc_x"`
	AccY          float64 `json:"acc_y"`
	AccZ          float64 `json:"acc_z"`
	GyroX         float64 `json:"gyro_x"`
	GyroY         float64 `json:"gyro_y"`
	GyroZ         float64 `json:"gyro_z"`
	Lat           float64 `json:"lat"`
	Lng           float64 `json:"lng"`
	Satellites    int     `json:"satellites"`
}

// Update builds the live view payload.
func (r *Record) Update() Update {
	return Update{
		FlightID:    r.FlightID,
		Timestamp:   r.Timestamp,
		Temperature: r.Temp,
		Humidity:    r.Hum,
		Altitude:    r.Altitude,
		Pressure:    r.Pres,
		AccX:        r.AccX,
		AccY:        r.AccY,
		AccZ:        r.AccZ,
		GyroX:       r.Roll,
		GyroY:       r.Pitch,
		GyroZ:       r.Yaw,
		Lat:         r.Latitude,
		Lng:         r.Longitude,
		Satellites:  r.Satellites,
	}
}

// EventNotice is the live view payload for one flight event.
type EventNotice struct {
	FlightID  int64  `json:"flightId"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
	Source    string `json:"source"`
	Message   string `json:"message"`
}

// Notice builds the live view payload.
func (e *Event) Notice() EventNotice {
	return EventNotice{
		FlightID:  e.FlightID,
		Timestamp: e.Timestamp.UnixMilli(),
		Type:      string(e.Type),
		Source:    string(e.Source),
		Message:   e.Message,
	}
}
