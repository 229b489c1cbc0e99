package mqtt

import (
	"fmt"
	"strings"

	"github.com/gofebos/febos-bridge/internal/model"
)

// discoveryDevice groups entities under one device card in Home Assistant.
type discoveryDevice struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"identifiers"`
	Model        string   `json:"model,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
}

// discoveryPayload is the config message for one entity. Fields not used by
// an entity kind stay empty and are omitted.
type discoveryPayload struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	StateTopic        string          `json:"state_topic,omitempty"`
	CommandTopic      string          `json:"command_topic,omitempty"`
	AvailabilityTopic string          `json:"availability_topic"`
	UnitOfMeasurement string          `json:"unit_of_measurement,omitempty"`
	Min               *float64        `json:"min,omitempty"`
	Max               *float64        `json:"max,omitempty"`
	Step              float64         `json:"step,omitempty"`
	PayloadOn         string          `json:"payload_on,omitempty"`
	PayloadOff        string          `json:"payload_off,omitempty"`
	Device            discoveryDevice `json:"device"`

	// Climate-only fields.
	Modes                    []string `json:"modes,omitempty"`
	TemperatureStateTopic    string   `json:"temperature_state_topic,omitempty"`
	TemperatureCommandTopic  string   `json:"temperature_command_topic,omitempty"`
	CurrentTemperatureTopic  string   `json:"current_temperature_topic,omitempty"`
	ActionTopic              string   `json:"action_topic,omitempty"`
	MinTemp                  *float64 `json:"min_temp,omitempty"`
	MaxTemp                  *float64 `json:"max_temp,omitempty"`
	TempStep                 float64  `json:"temp_step,omitempty"`
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (b *Bridge) uniqueID(account string, id model.DeviceID, code string) string {
	return fmt.Sprintf("febos_%s_%s_%s", sanitize(account), id.String(), strings.ToLower(code))
}

func (b *Bridge) stateTopic(account string, id model.DeviceID, code string) string {
	return fmt.Sprintf("%s/%s/%s/%s/state", b.topicPrefix, sanitize(account), id.String(), strings.ToLower(code))
}

func (b *Bridge) commandTopic(account string, id model.DeviceID, code string) string {
	return fmt.Sprintf("%s/%s/%s/%s/set", b.topicPrefix, sanitize(account), id.String(), strings.ToLower(code))
}

func (b *Bridge) availabilityTopic(account string, id model.DeviceID) string {
	return fmt.Sprintf("%s/%s/%s/availability", b.topicPrefix, sanitize(account), id.String())
}

func (b *Bridge) actionTopic(account string, id model.DeviceID) string {
	return fmt.Sprintf("%s/%s/%s/action", b.topicPrefix, sanitize(account), id.String())
}

func (b *Bridge) configTopic(kind model.EntityKind, uniqueID string) string {
	return fmt.Sprintf("%s/%s/%s/config", b.discoveryPrefix, kind, uniqueID)
}

func (b *Bridge) devicePayload(snap model.Snapshot) discoveryDevice {
	return discoveryDevice{
		Name:         snap.Name,
		Identifiers:  []string{fmt.Sprintf("febos_%s_%s", sanitize(snap.Account), snap.ID.String())},
		Model:        snap.Model,
		Manufacturer: snap.Manufacturer,
	}
}

// registerPayload builds the discovery config of one register entity.
func (b *Bridge) registerPayload(snap model.Snapshot, reg model.Register) discoveryPayload {
	payload := discoveryPayload{
		Name:              reg.Label,
		UniqueID:          b.uniqueID(snap.Account, snap.ID, reg.Code),
		StateTopic:        b.stateTopic(snap.Account, snap.ID, reg.Code),
		AvailabilityTopic: b.availabilityTopic(snap.Account, snap.ID),
		UnitOfMeasurement: reg.Unit,
		Device:            b.devicePayload(snap),
	}
	switch reg.Kind {
	case model.KindSwitch:
		payload.CommandTopic = b.commandTopic(snap.Account, snap.ID, reg.Code)
		payload.PayloadOn = "ON"
		payload.PayloadOff = "OFF"
	case model.KindBinarySensor:
		payload.PayloadOn = "ON"
		payload.PayloadOff = "OFF"
	case model.KindNumber:
		payload.CommandTopic = b.commandTopic(snap.Account, snap.ID, reg.Code)
		payload.Min = reg.Min
		payload.Max = reg.Max
		payload.Step = 0.5
	}
	return payload
}

// climatePayload builds a thermostat entity for a Crono zone, layered over
// the zone's individual register entities.
func (b *Bridge) climatePayload(snap model.Snapshot) discoveryPayload {
	setReg := snap.Registers[model.CodeSetTemp]
	return discoveryPayload{
		Name:                    snap.Name,
		UniqueID:                b.uniqueID(snap.Account, snap.ID, "climate"),
		AvailabilityTopic:       b.availabilityTopic(snap.Account, snap.ID),
		Device:                  b.devicePayload(snap),
		Modes:                   []string{"heat"},
		TemperatureStateTopic:   b.stateTopic(snap.Account, snap.ID, model.CodeSetTemp),
		TemperatureCommandTopic: b.commandTopic(snap.Account, snap.ID, model.CodeSetTemp),
		CurrentTemperatureTopic: b.stateTopic(snap.Account, snap.ID, model.CodeTemp),
		ActionTopic:             b.actionTopic(snap.Account, snap.ID),
		MinTemp:                 setReg.Min,
		MaxTemp:                 setReg.Max,
		TempStep:                0.5,
	}
}

// isZone reports whether the snapshot is a Crono thermostat zone.
func isZone(snap model.Snapshot) bool {
	_, hasSet := snap.Registers[model.CodeSetTemp]
	_, hasTemp := snap.Registers[model.CodeTemp]
	_, hasCall := snap.Registers[model.CodeHeatCall]
	return hasSet && hasTemp && hasCall
}
