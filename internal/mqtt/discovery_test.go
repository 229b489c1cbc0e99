package mqtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gofebos/febos-bridge/internal/model"
)

func testBridge() *Bridge {
	return &Bridge{
		discoveryPrefix: "homeassistant",
		topicPrefix:     "febos",
		discovered:      make(map[string][]string),
	}
}

func zoneSnapshot() model.Snapshot {
	minSet, maxSet := 5.0, 35.0
	return model.Snapshot{
		ID:           model.DeviceID{Installation: 1, Device: 7, Thing: 2},
		Account:      "user@example.com",
		Name:         "Febos HP Slave 2",
		Model:        "Febos HP",
		Manufacturer: "EmmeTI",
		Registers: map[string]model.Register{
			model.CodeSetTemp: {
				Code: model.CodeSetTemp, Label: "Set Temperatura", Unit: "°C",
				Kind: model.KindNumber, Type: model.NumberValue,
				Writable: true, Min: &minSet, Max: &maxSet,
			},
			model.CodeTemp: {
				Code: model.CodeTemp, Label: "Temperatura", Unit: "°C",
				Kind: model.KindSensor, Type: model.NumberValue,
			},
			model.CodeHeatCall: {
				Code: model.CodeHeatCall, Label: "Chiamata Temperatura",
				Kind: model.KindBinarySensor, Type: model.BoolValue,
			},
		},
		Values: map[string]model.Value{
			model.CodeSetTemp:  model.Float(20.5),
			model.CodeTemp:     model.Float(21.2),
			model.CodeHeatCall: model.BoolVal(true),
		},
		LastUpdated: time.Now(),
		Available:   true,
	}
}

func TestTopicLayout(t *testing.T) {
	b := testBridge()
	id := model.DeviceID{Installation: 1, Device: 7, Thing: 2}

	assert.Equal(t, "febos/user_example_com/1_7_2/s04/state", b.stateTopic("user@example.com", id, "S04"))
	assert.Equal(t, "febos/user_example_com/1_7_2/s04/set", b.commandTopic("user@example.com", id, "S04"))
	assert.Equal(t, "febos/user_example_com/1_7_2/availability", b.availabilityTopic("user@example.com", id))
	assert.Equal(t, "homeassistant/number/febos_user_example_com_1_7_2_s04/config",
		b.configTopic(model.KindNumber, b.uniqueID("user@example.com", id, "S04")))
}

func TestRegisterPayloadNumber(t *testing.T) {
	b := testBridge()
	snap := zoneSnapshot()
	reg := snap.Registers[model.CodeSetTemp]

	payload := b.registerPayload(snap, reg)
	assert.Equal(t, "Set Temperatura", payload.Name)
	assert.Equal(t, "febos_user_example_com_1_7_2_s04", payload.UniqueID)
	assert.NotEmpty(t, payload.CommandTopic, "writable register gets a command topic")
	require.NotNil(t, payload.Min)
	assert.Equal(t, 5.0, *payload.Min)
	require.NotNil(t, payload.Max)
	assert.Equal(t, 35.0, *payload.Max)
	assert.Equal(t, "°C", payload.UnitOfMeasurement)
	assert.Equal(t, []string{"febos_user_example_com_1_7_2"}, payload.Device.Identifiers)
}

func TestRegisterPayloadReadOnly(t *testing.T) {
	b := testBridge()
	snap := zoneSnapshot()

	sensor := b.registerPayload(snap, snap.Registers[model.CodeTemp])
	assert.Empty(t, sensor.CommandTopic)

	binary := b.registerPayload(snap, snap.Registers[model.CodeHeatCall])
	assert.Empty(t, binary.CommandTopic)
	assert.Equal(t, "ON", binary.PayloadOn)
	assert.Equal(t, "OFF", binary.PayloadOff)
}

func TestClimatePayload(t *testing.T) {
	b := testBridge()
	snap := zoneSnapshot()
	require.True(t, isZone(snap))

	payload := b.climatePayload(snap)
	assert.Equal(t, []string{"heat"}, payload.Modes)
	assert.Equal(t, b.stateTopic(snap.Account, snap.ID, model.CodeSetTemp), payload.TemperatureStateTopic)
	assert.Equal(t, b.commandTopic(snap.Account, snap.ID, model.CodeSetTemp), payload.TemperatureCommandTopic)
	assert.Equal(t, b.stateTopic(snap.Account, snap.ID, model.CodeTemp), payload.CurrentTemperatureTopic)
	require.NotNil(t, payload.MinTemp)
	assert.Equal(t, 5.0, *payload.MinTemp)
}

func TestIsZoneRequiresThermostatRegisters(t *testing.T) {
	snap := zoneSnapshot()
	delete(snap.Registers, model.CodeSetTemp)
	assert.False(t, isZone(snap))
}

func TestParseCommand(t *testing.T) {
	boolReg := model.Register{Type: model.BoolValue}
	numReg := model.Register{Type: model.NumberValue}

	v, err := parseCommand(boolReg, "ON")
	require.NoError(t, err)
	assert.True(t, v.Bool)

	v, err = parseCommand(boolReg, "off")
	require.NoError(t, err)
	assert.False(t, v.Bool)

	_, err = parseCommand(boolReg, "maybe")
	assert.Error(t, err)

	v, err = parseCommand(numReg, "21.5")
	require.NoError(t, err)
	assert.Equal(t, 21.5, v.Number)

	_, err = parseCommand(numReg, "warm")
	assert.Error(t, err)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "ON", formatValue(model.Register{}, model.BoolVal(true)))
	assert.Equal(t, "OFF", formatValue(model.Register{}, model.BoolVal(false)))
	assert.Equal(t, "21.5", formatValue(model.Register{}, model.Float(21.5)))
	assert.Equal(t, "21", formatValue(model.Register{}, model.Float(21)))
	assert.Equal(t, "10.8.0.3", formatValue(model.Register{}, model.TextVal("10.8.0.3")))
}
