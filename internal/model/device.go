package model

import (
	"fmt"
	"time"
)

// DeviceID identifies one Febos unit or Crono zone. Identity is
// (account, DeviceID); the Thing field carries the thing id for board
// registers and the slave address for Crono zones, matching the webapp's
// key scheme.
type DeviceID struct {
	Installation int
	Device       int
	Thing        int
}

func (id DeviceID) String() string {
	return fmt.Sprintf("%d_%d_%d", id.Installation, id.Device, id.Thing)
}

// EntityKind is the host-platform entity class a register maps to.
type EntityKind string

const (
	KindSensor       EntityKind = "sensor"
	KindBinarySensor EntityKind = "binary_sensor"
	KindNumber       EntityKind = "number"
	KindSwitch       EntityKind = "switch"
	KindClimate      EntityKind = "climate"
)

// ValueKind is the normalized value type of a register.
type ValueKind int

const (
	NumberValue ValueKind = iota
	BoolValue
	TextValue
)

// Value is one normalized register reading.
type Value struct {
	Kind   ValueKind
	Number float64
	Bool   bool
	Text   string
}

// Float wraps a number into a Value.
func Float(v float64) Value { return Value{Kind: NumberValue, Number: v} }

// BoolVal wraps a boolean into a Value.
func BoolVal(v bool) Value { return Value{Kind: BoolValue, Bool: v} }

// TextVal wraps a string into a Value.
func TextVal(v string) Value { return Value{Kind: TextValue, Text: v} }

// Register is the static description of one exposed register: what it is,
// whether it can be written, and which entity kind renders it. New
// capabilities extend this table, not a type hierarchy.
type Register struct {
	Code     string
	Label    string
	Unit     string
	Kind     EntityKind
	Type     ValueKind
	Writable bool
	Min      *float64
	Max      *float64
	// Inverted marks binary registers whose wire value is the negation of
	// the reported state (season: 0 = heating).
	Inverted bool
}

// Snapshot is an immutable copy of a device's last-known state. Readers get
// clones; only the coordinator writes to the store.
type Snapshot struct {
	ID           DeviceID
	Account      string
	Name         string
	Model        string
	Manufacturer string
	Registers    map[string]Register
	Values       map[string]Value
	LastUpdated  time.Time
	Available    bool
}

// Clone deep-copies the snapshot so readers can never alias store state.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Registers = make(map[string]Register, len(s.Registers))
	for code, reg := range s.Registers {
		out.Registers[code] = reg
	}
	out.Values = make(map[string]Value, len(s.Values))
	for code, val := range s.Values {
		out.Values[code] = val
	}
	return out
}

// Value returns the normalized reading for a register code.
func (s Snapshot) Value(code string) (Value, bool) {
	v, ok := s.Values[code]
	return v, ok
}

// Crono zone register codes, matching the webapp's slave resource ids.
const (
	CodeHeatCall     = "S01"
	CodeHumidityCall = "S02"
	CodeSeason       = "S03"
	CodeSetTemp      = "S04"
	CodeTemp         = "S05"
	CodeHumidity     = "S06"
	CodeComfort      = "S07"
)

// TargetTemperature returns the zone setpoint when present.
func (s Snapshot) TargetTemperature() (float64, bool) {
	v, ok := s.Values[CodeSetTemp]
	if !ok || v.Kind != NumberValue {
		return 0, false
	}
	return v.Number, true
}

// CurrentTemperature returns the measured zone temperature when present.
func (s Snapshot) CurrentTemperature() (float64, bool) {
	v, ok := s.Values[CodeTemp]
	if !ok || v.Kind != NumberValue {
		return 0, false
	}
	return v.Number, true
}

// Heating reports whether the zone currently calls for heat.
func (s Snapshot) Heating() bool {
	v, ok := s.Values[CodeHeatCall]
	return ok && v.Kind == BoolValue && v.Bool
}
