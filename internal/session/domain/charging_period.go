package domain

import (
	"encoding/json"
	"math"
	"slices"
	"time"
)

// CdrDimensionType is the closed OCPI 2.2.1 dimension set.
type CdrDimensionType string

const (
	DimensionCurrent         CdrDimensionType = "CURRENT"
	DimensionEnergy          CdrDimensionType = "ENERGY"
	DimensionEnergyExport    CdrDimensionType = "ENERGY_EXPORT"
	DimensionEnergyImport    CdrDimensionType = "ENERGY_IMPORT"
	DimensionMaxCurrent      CdrDimensionType = "MAX_CURRENT"
	DimensionMinCurrent      CdrDimensionType = "MIN_CURRENT"
	DimensionMaxPower        CdrDimensionType = "MAX_POWER"
	DimensionMinPower        CdrDimensionType = "MIN_POWER"
	DimensionParkingTime     CdrDimensionType = "PARKING_TIME"
	DimensionPower           CdrDimensionType = "POWER"
	DimensionReservationTime CdrDimensionType = "RESERVATION_TIME"
	DimensionStateOfCharge   CdrDimensionType = "STATE_OF_CHARGE"
	DimensionTime            CdrDimensionType = "TIME"
)

func (t CdrDimensionType) Valid() bool {
	switch t {
	case DimensionCurrent, DimensionEnergy, DimensionEnergyExport, DimensionEnergyImport,
		DimensionMaxCurrent, DimensionMinCurrent, DimensionMaxPower, DimensionMinPower,
		DimensionParkingTime, DimensionPower, DimensionReservationTime,
		DimensionStateOfCharge, DimensionTime:
		return true
	default:
		return false
	}
}

type CdrDimension struct {
	Type   CdrDimensionType `json:"type"`
	Volume float64          `json:"volume"`
}

func NewCdrDimension(t CdrDimensionType, volume float64) (CdrDimension, error) {
	if !t.Valid() {
		return CdrDimension{}, invalid("type", "unknown dimension type")
	}
	if math.IsNaN(volume) || math.IsInf(volume, 0) || volume < 0 {
		return CdrDimension{}, invalid("volume", "must be a non-negative number")
	}
	return CdrDimension{Type: t, Volume: volume}, nil
}

// ChargingPeriod is one tariff-relevant slice of a session.
type ChargingPeriod struct {
	start      time.Time
	dimensions []CdrDimension
	tariffID   string
}

func NewChargingPeriod(start time.Time, dimensions []CdrDimension, tariffID string) (ChargingPeriod, error) {
	if start.IsZero() {
		return ChargingPeriod{}, invalid("start_date_time", "is required")
	}
	if len(dimensions) == 0 {
		return ChargingPeriod{}, invalid("dimensions", "must contain at least one dimension")
	}
	for _, d := range dimensions {
		if _, err := NewCdrDimension(d.Type, d.Volume); err != nil {
			return ChargingPeriod{}, err
		}
	}
	if len(tariffID) > 36 {
		return ChargingPeriod{}, invalid("tariff_id", "must be at most 36 characters")
	}
	return ChargingPeriod{
		start:      normalizeTime(start),
		dimensions: slices.Clone(dimensions),
		tariffID:   tariffID,
	}, nil
}

func (p ChargingPeriod) Start() time.Time { return p.start }
func (p ChargingPeriod) TariffID() string { return p.tariffID }

func (p ChargingPeriod) Dimensions() []CdrDimension {
	return slices.Clone(p.dimensions)
}

// EnergyConsumed is the ENERGY volume in kWh, 0 when absent.
func (p ChargingPeriod) EnergyConsumed() float64 {
	return p.volumeOf(DimensionEnergy)
}

// Duration is the TIME volume in hours, 0 when absent.
func (p ChargingPeriod) Duration() float64 {
	return p.volumeOf(DimensionTime)
}

func (p ChargingPeriod) volumeOf(t CdrDimensionType) float64 {
	for _, d := range p.dimensions {
		if d.Type == t {
			return d.Volume
		}
	}
	return 0
}

func (p ChargingPeriod) Equal(other ChargingPeriod) bool {
	return p.start.Equal(other.start) &&
		p.tariffID == other.tariffID &&
		slices.Equal(p.dimensions, other.dimensions)
}

type chargingPeriodJSON struct {
	StartDateTime time.Time      `json:"start_date_time"`
	Dimensions    []CdrDimension `json:"dimensions"`
	TariffID      string         `json:"tariff_id,omitempty"`
}

func (p ChargingPeriod) MarshalJSON() ([]byte, error) {
	return json.Marshal(chargingPeriodJSON{
		StartDateTime: p.start,
		Dimensions:    p.dimensions,
		TariffID:      p.tariffID,
	})
}

func (p *ChargingPeriod) UnmarshalJSON(data []byte) error {
	var raw chargingPeriodJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewChargingPeriod(raw.StartDateTime, raw.Dimensions, raw.TariffID)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
