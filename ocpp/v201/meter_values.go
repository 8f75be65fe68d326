package v201

import (
	"math"

	"evcsms/types"
)

const MeterValuesFeatureName = "MeterValues"

type UnitOfMeasure struct {
	Unit       string `json:"unit,omitempty"`
	Multiplier int    `json:"multiplier,omitempty"`
}

type SampledValue struct {
	Value         float64         `json:"value"`
	Context       string          `json:"context,omitempty"`
	Measurand     types.Measurand `json:"measurand,omitempty"`
	Phase         string          `json:"phase,omitempty"`
	Location      string          `json:"location,omitempty"`
	UnitOfMeasure *UnitOfMeasure  `json:"unitOfMeasure,omitempty"`
}

// WattHours scales the sampled value to Wh, honoring kWh units and the power of ten multiplier
func (s SampledValue) WattHours() float64 {
	value := s.Value
	if s.UnitOfMeasure != nil {
		if s.UnitOfMeasure.Multiplier != 0 {
			value *= math.Pow10(s.UnitOfMeasure.Multiplier)
		}
		if s.UnitOfMeasure.Unit == string(types.UnitOfMeasureKWh) {
			value *= 1000
		}
	}
	return value
}

type MeterValue struct {
	Timestamp    *types.DateTime `json:"timestamp" validate:"required"`
	SampledValue []SampledValue  `json:"sampledValue" validate:"required,min=1,dive"`
}

type MeterValuesRequest struct {
	EvseId     int          `json:"evseId" validate:"gte=0"`
	MeterValue []MeterValue `json:"meterValue" validate:"required,min=1,dive"`
}

type MeterValuesResponse struct {
}

func (r *MeterValuesRequest) GetFeatureName() string {
	return MeterValuesFeatureName
}

func (r *MeterValuesResponse) GetFeatureName() string {
	return MeterValuesFeatureName
}

// EnergyWh returns the active import register reading in Wh; samples without a measurand default to it
func (mv MeterValue) EnergyWh() (float64, bool) {
	for _, sample := range mv.SampledValue {
		if sample.Measurand != "" && sample.Measurand != types.MeasurandEnergyActiveImportRegister {
			continue
		}
		return sample.WattHours(), true
	}
	return 0, false
}
