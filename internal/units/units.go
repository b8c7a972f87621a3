// Package units converts the plant-facing input units (°C, mbar gauge, %,
// ppm, Nm³/h, kg/h, minutes) into the SI and molar units of the model.
package units

import "math"

const (
	// GasConstant in J/(mol K).
	GasConstant = 8.31446261815324
	// ReferencePressure and ReferenceTemperature define the normal cubic
	// meter used for gas flows.
	ReferencePressure    = 101325.0
	ReferenceTemperature = 288.15

	// WaterMolarMass in kg/mol.
	WaterMolarMass = 0.018

	// MaxDewPoint is the dew point whose water content caps the chamber.
	MaxDewPoint = 15.0
)

// absoluteZeroDewPoint is the dew point at and below which the gas is dry.
const absoluteZeroDewPoint = -272.0

func CelsiusToKelvin(c float64) float64 { return c + 273.15 }
func KelvinToCelsius(k float64) float64 { return k - 273.15 }

// GaugeMillibarToPascal converts a gauge pressure in mbar to an absolute
// pressure in Pa.
func GaugeMillibarToPascal(mbar float64) float64 { return mbar*100 + ReferencePressure }

func PercentToFraction(p float64) float64 { return p / 100 }
func FractionToPercent(f float64) float64 { return f * 100 }
func PPMToFraction(p float64) float64     { return p / 1e6 }
func FractionToPPM(f float64) float64     { return f * 1e6 }
func MinutesToSeconds(m float64) float64  { return m * 60 }
func SecondsToMinutes(s float64) float64  { return s / 60 }

// NormalFlowToMolar converts Nm³/h to mol/s.
func NormalFlowToMolar(nm3h float64) float64 {
	return nm3h * ReferencePressure / (GasConstant * ReferenceTemperature * 3600)
}

// MolarToNormalFlow converts mol/s to Nm³/h.
func MolarToNormalFlow(mols float64) float64 {
	return mols * GasConstant * ReferenceTemperature * 3600 / ReferencePressure
}

// SteamMassToMolar converts a steam mass flow in kg/h to mol/s.
func SteamMassToMolar(kgh float64) float64 { return kgh / (WaterMolarMass * 3600) }

// MolarToSteamMass converts mol/s of steam to kg/h.
func MolarToSteamMass(mols float64) float64 { return mols * WaterMolarMass * 3600 }

// MolesInVolume is the ideal gas amount in a volume (m³) at pressure (Pa)
// and temperature (K).
func MolesInVolume(pressure, volume, temperature float64) float64 {
	return pressure * volume / (GasConstant * temperature)
}

// DewPointToWaterContent returns the water molar fraction of a gas with the
// given dew point in °C, using the Magnus-type correlation over ice below
// zero and over water above. The result is clamped to [0, 1].
func DewPointToWaterContent(dp float64) float64 {
	if dp <= absoluteZeroDewPoint {
		return 0
	}
	var n float64
	if dp <= 0 {
		n = 9.72 * dp / (272 + dp)
	} else {
		n = 7.58 * dp / (240 + dp)
	}
	return math.Min(math.Max(math.Pow(10, n-2.22), 0), 1)
}

// WaterContentToDewPoint inverts DewPointToWaterContent. Dry gas maps to
// the lowest representable dew point.
func WaterContentToDewPoint(w float64) float64 {
	if w <= 0 {
		return absoluteZeroDewPoint
	}
	n := math.Log10(math.Min(w, 1)) + 2.22
	if n <= 0 {
		return 272 * n / (9.72 - n)
	}
	return 240 * n / (7.58 - n)
}
