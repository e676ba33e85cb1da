package domain

import (
	"encoding/json"
	"math"
	"time"
)

// EnergyMeasurement is an energy reading in kWh at a point in time.
type EnergyMeasurement struct {
	kwh       float64
	timestamp time.Time
}

func NewEnergyMeasurement(kwh float64, timestamp time.Time) (EnergyMeasurement, error) {
	if math.IsNaN(kwh) || math.IsInf(kwh, 0) {
		return EnergyMeasurement{}, invalid("kwh", "must be a finite number")
	}
	if kwh < 0 {
		return EnergyMeasurement{}, invalid("kwh", "must not be negative")
	}
	if timestamp.IsZero() {
		return EnergyMeasurement{}, invalid("timestamp", "is required")
	}
	return EnergyMeasurement{kwh: kwh, timestamp: normalizeTime(timestamp)}, nil
}

func (e EnergyMeasurement) KWh() float64         { return e.kwh }
func (e EnergyMeasurement) Timestamp() time.Time { return e.timestamp }

func (e EnergyMeasurement) Equal(other EnergyMeasurement) bool {
	return e.kwh == other.kwh && e.timestamp.Equal(other.timestamp)
}

type energyJSON struct {
	KWh       float64   `json:"kwh"`
	Timestamp time.Time `json:"timestamp"`
}

func (e EnergyMeasurement) MarshalJSON() ([]byte, error) {
	return json.Marshal(energyJSON{KWh: e.kwh, Timestamp: e.timestamp})
}

func (e *EnergyMeasurement) UnmarshalJSON(data []byte) error {
	var raw energyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewEnergyMeasurement(raw.KWh, raw.Timestamp)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// normalizeTime drops sub-millisecond precision and the location.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
