package model

import (
	"bytes"
	"encoding/json"
	"math"
)

// Optional is a float64 that may be unknown. Absent and non-finite values
// encode as JSON null.
type Optional struct {
	value float64
	valid bool
}

// Some returns a present value.
func Some(v float64) Optional {
	return Optional{value: v, valid: true}
}

// None returns an absent value.
func None() Optional {
	return Optional{}
}

// Get returns the value and whether it is present.
func (o Optional) Get() (float64, bool) {
	return o.value, o.valid
}

// Valid reports whether the value is present.
func (o Optional) Valid() bool {
	return o.valid
}

// Or returns the value, or def when absent.
func (o Optional) Or(def float64) float64 {
	if !o.valid {
		return def
	}
	return o.value
}

func (o Optional) MarshalJSON() ([]byte, error) {
	if !o.valid || math.IsNaN(o.value) || math.IsInf(o.value, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

func (o *Optional) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = Optional{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}
