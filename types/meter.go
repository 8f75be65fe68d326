package types

import "strconv"

// EnergyWh returns the active import register reading of the meter value in Wh.
// Samples without a measurand default to the energy register.
func (mv MeterValue) EnergyWh() (float64, bool) {
	for _, sample := range mv.SampledValue {
		if sample.Measurand != "" && sample.Measurand != MeasurandEnergyActiveImportRegister {
			continue
		}
		value, err := strconv.ParseFloat(sample.Value, 64)
		if err != nil {
			continue
		}
		if sample.Unit == UnitOfMeasureKWh {
			value *= 1000
		}
		return value, true
	}
	return 0, false
}
