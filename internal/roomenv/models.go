package roomenv

import (
	"time"

	"github.com/guregu/null"
)

// SourceTag identifies the sensor family a reading came from.
type SourceTag string

const (
	SourceNetatmo SourceTag = "netatmo"

	// SourceNone marks a bucket that no reading fell into.
	SourceNone SourceTag = "nodata"
)

// Event names published to the UI collaborator.
const (
	EventTodayRoomEnv = "renewTodayRoomEnv"
	EventConfigView   = "renewConfigView"
	EventConfigSaved  = "configSaved"
	EventDevices      = "renewNetatmo"
)

// Field enumerates the measured quantities.
type Field int

const (
	Temperature Field = iota
	Humidity
	Pressure
	Noise
	CO2
)

// Fields lists every measured quantity in a fixed order.
var Fields = [...]Field{Temperature, Humidity, Pressure, Noise, CO2}

func (f Field) String() string {
	switch f {
	case Temperature:
		return "temperature"
	case Humidity:
		return "humidity"
	case Pressure:
		return "pressure"
	case Noise:
		return "noise"
	case CO2:
		return "CO2"
	default:
		return "unknown"
	}
}

// Measurements holds the optional measured values. An invalid null.Float
// means the quantity was not measured.
type Measurements struct {
	Temperature null.Float `json:"temperature" db:"temperature"`
	Humidity    null.Float `json:"humidity" db:"humidity"`
	Pressure    null.Float `json:"pressure" db:"pressure"`
	Noise       null.Float `json:"noise" db:"noise"`
	CO2         null.Float `json:"CO2" db:"co2"`
}

// Get returns the value of field f.
func (m Measurements) Get(f Field) null.Float {
	switch f {
	case Temperature:
		return m.Temperature
	case Humidity:
		return m.Humidity
	case Pressure:
		return m.Pressure
	case Noise:
		return m.Noise
	case CO2:
		return m.CO2
	}
	return null.Float{}
}

// Set assigns v to field f.
func (m *Measurements) Set(f Field, v null.Float) {
	switch f {
	case Temperature:
		m.Temperature = v
	case Humidity:
		m.Humidity = v
	case Pressure:
		m.Pressure = v
	case Noise:
		m.Noise = v
	case CO2:
		m.CO2 = v
	}
}

// Empty reports whether no quantity is present.
func (m Measurements) Empty() bool {
	for _, f := range Fields {
		if m.Get(f).Valid {
			return false
		}
	}
	return true
}

// Reading is one raw sensor sample as stored in the sample log.
type Reading struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"dateTime"`
	Source    SourceTag `json:"srcType"`
	Place     string    `json:"place"`
	Measurements
}

// Averages is the per-bucket mean of every field together with the number
// of readings that contributed to the bucket.
type Averages struct {
	Count int
	Measurements
}

// BucketValue is one entry of a DailySeries.
type BucketValue struct {
	ID     int       `json:"id"`
	Time   time.Time `json:"time"`
	Source SourceTag `json:"srcType"`
	Measurements
}

// DailySeries is the fixed-length series for one day, in time order.
type DailySeries []BucketValue

// Device is one station reported by the sensor vendor.
type Device struct {
	ID          string       `json:"_id"`
	StationName string       `json:"station_name"`
	HomeName    string       `json:"home_name"`
	Dashboard   Measurements `json:"dashboard_data"`
	MeasuredAt  time.Time    `json:"measured_at"`
}

// Place returns the name readings from this device are filed under.
func (d Device) Place() string {
	if d.HomeName != "" {
		return d.HomeName
	}
	return d.StationName
}

// FetchResult is the outcome of a single source request.
type FetchResult struct {
	Devices []Device
	Raw     []byte
	Err     error
}
