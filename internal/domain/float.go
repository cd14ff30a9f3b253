package domain

import (
	"encoding/json"
	"math"
)

// ExtendedFloat is a float64 that survives JSON encoding when infinite or NaN.
// +Inf and -Inf are written as "Infinity" and "-Infinity", NaN as null.
type ExtendedFloat float64

// Float64 returns the underlying value.
func (f ExtendedFloat) Float64() float64 { return float64(f) }

// IsInf reports whether the value is infinite.
func (f ExtendedFloat) IsInf() bool { return math.IsInf(float64(f), 0) }

// MarshalJSON implements json.Marshaler.
func (f ExtendedFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte("null"), nil
	case math.IsInf(v, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Infinity"`), nil
	}
	return json.Marshal(v)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *ExtendedFloat) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "null":
		*f = ExtendedFloat(math.NaN())
		return nil
	case `"Infinity"`:
		*f = ExtendedFloat(math.Inf(1))
		return nil
	case `"-Infinity"`:
		*f = ExtendedFloat(math.Inf(-1))
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = ExtendedFloat(v)
	return nil
}
