// Package units provides the distance and speed conversions shared by the
// pulse engine, the send cycle and the status display.
package units

// Unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// ConvertSpeed converts a speed from meters per second to the target units.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * 2.23694
	case KMPH, KPH:
		return speedMPS * 3.6
	default:
		return speedMPS
	}
}

// DistanceMM is the distance covered by count wheel rotations. It is exact
// integer arithmetic so repeated accumulation never drifts.
func DistanceMM(count uint32, wheelMM int) int64 {
	return int64(count) * int64(wheelMM)
}

// MMToKM converts millimetres to kilometres.
func MMToKM(mm int64) float64 {
	return float64(mm) / 1e6
}

// MMToMetres converts millimetres to metres.
func MMToMetres(mm int64) float64 {
	return float64(mm) / 1000
}

// PulseSpeedKMH is the speed implied by one wheel rotation taking dtMS
// milliseconds. mm/ms equals m/s.
func PulseSpeedKMH(wheelMM int, dtMS int64) float64 {
	if dtMS <= 0 {
		return 0
	}
	return ConvertSpeed(float64(wheelMM)/float64(dtMS), KMPH)
}

// IntervalSpeedKMH is the average speed over a send interval: mm/s scaled
// to km/h.
func IntervalSpeedKMH(distanceMM int64, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return (float64(distanceMM) / seconds) * 0.0036
}
