package febos

import "math"

// Register values come over the wire as integers in device units. The webapp
// scales them before display; the tables below mirror that scaling for the
// registers the bridge exposes. Unknown codes pass through unscaled.

// int16From reinterprets a raw register as a two's complement 16-bit value.
func int16From(v int64) int64 {
	if v < 32768 {
		return v
	}
	return v - 65536
}

// signedCodes are registers carrying two's complement values (power meters
// can go negative when exporting).
var signedCodes = map[string]bool{
	"R8002": true,
	"R8005": true,
	"R8008": true,
	"R8011": true,
	"R8105": true,
	"R8110": true,
}

// divisorCodes maps a register to the divisor applied to its raw value.
var divisorCodes = map[string]float64{
	// temperatures and setpoints, tenths of a degree
	"S04": 10, "S05": 10,
	"R8678": 10, "R8680": 10, "R8698": 10, "R8702": 10, "R8703": 10,
	"R8986": 10, "R8987": 10, "R8988": 10, "R8989": 10,
	"R9042": 10, "R9051": 10, "R9052": 10,
	"R16444": 10, "R16446": 10, "R16448": 10, "R16450": 10,
	"R16451": 10, "R16453": 10, "R16455": 10, "R16457": 10,
	"R16494": 10, "R16495": 10, "R16496": 10, "R16497": 10, "R16515": 10,
	// voltages and power ceilings, tenths
	"R8100": 10, "R8665": 10, "R8666": 10,
	// energy tariffs and COP, hundredths
	"R8684": 100, "R8686": 100, "R8688": 100, "R8690": 100, "R16534": 100,
	// currents and average powers, thousandths
	"R8002": 1000, "R8005": 1000, "R8008": 1000, "R8011": 1000,
	"R8111": 1000, "R8112": 1000,
	"R8208": 1000, "R8209": 1000, "R8211": 1000, "R8212": 1000,
	"R8214": 1000, "R8215": 1000, "R8217": 1000, "R8218": 1000,
	"R8220": 1000, "R8221": 1000, "R8222": 1000, "R8223": 1000,
}

// multiplierCodes maps a register to a multiplier (uptimes in minutes,
// power balance in tens of watts).
var multiplierCodes = map[string]float64{
	"R9120": 60,
	"R9121": 10, "R9122": 10, "R9123": 10,
	"R9126": 10, "R9127": 10, "R9128": 10, "R9129": 10,
}

// NormalizeValue converts a raw register value to engineering units.
func NormalizeValue(code string, raw int64) float64 {
	v := raw
	if signedCodes[code] {
		v = int16From(v)
	}
	return scale(code, float64(v))
}

// NormalizeFloat converts a raw reading that may carry a fractional part.
// Signed reinterpretation only applies to whole values; fractional wire
// values are never register dumps.
func NormalizeFloat(code string, raw float64) float64 {
	if signedCodes[code] && raw == math.Trunc(raw) {
		raw = float64(int16From(int64(raw)))
	}
	return scale(code, raw)
}

func scale(code string, v float64) float64 {
	if div, ok := divisorCodes[code]; ok {
		return v / div
	}
	if mul, ok := multiplierCodes[code]; ok {
		return v * mul
	}
	return v
}

// ToRawValue is the inverse of NormalizeValue, used on the write path.
// Rounding is to the nearest device unit.
func ToRawValue(code string, value float64) int64 {
	if div, ok := divisorCodes[code]; ok {
		value *= div
	} else if mul, ok := multiplierCodes[code]; ok {
		value /= mul
	}
	if value >= 0 {
		return int64(value + 0.5)
	}
	return int64(value - 0.5)
}
