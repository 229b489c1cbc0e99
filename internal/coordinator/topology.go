package coordinator

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/gofebos/febos-bridge/internal/febos"
	"github.com/gofebos/febos-bridge/internal/model"
)

// topology is the discovered layout of an account: which installations it
// spans, which input groups to poll, and the register tables behind each
// device. Built from page config on the first successful poll and rebuilt
// after a device disappears.
type topology struct {
	installations []int
	groups        map[int][]string
	devices       map[int][]deviceMeta
	registers     map[model.DeviceID]map[string]model.Register
	identity      map[model.DeviceID]deviceIdentity
}

type deviceMeta struct {
	id           int
	model        string
	manufacturer string
	code         string
}

type deviceIdentity struct {
	name         string
	model        string
	manufacturer string
}

func discoverTopology(ctx context.Context, client Client) (*topology, error) {
	installations, err := client.Installations(ctx)
	if err != nil {
		return nil, err
	}
	if len(installations) == 0 {
		return nil, fmt.Errorf("account has no installations")
	}

	topo := &topology{
		installations: installations,
		groups:        make(map[int][]string),
		devices:       make(map[int][]deviceMeta),
		registers:     make(map[model.DeviceID]map[string]model.Register),
		identity:      make(map[model.DeviceID]deviceIdentity),
	}

	for _, installationID := range installations {
		page, err := client.PageConfig(ctx, installationID)
		if err != nil {
			return nil, err
		}
		topo.addInstallation(installationID, page)
	}
	return topo, nil
}

func (t *topology) addInstallation(installationID int, page febos.PageConfig) {
	for _, dev := range page.DeviceMap {
		t.devices[installationID] = append(t.devices[installationID], deviceMeta{
			id:           dev.ID,
			model:        dev.ModelName,
			manufacturer: dev.TenantName,
			code:         dev.Code,
		})
	}
	sort.Slice(t.devices[installationID], func(i, j int) bool {
		return t.devices[installationID][i].id < t.devices[installationID][j].id
	})

	groups := make(map[string]bool)
	for _, p := range page.PageMap {
		for _, code := range p.InputGroupGetCodeList {
			groups[code] = true
		}
		for _, tab := range p.TabList {
			for _, codes := range tab.InputGroupGetCodeMap {
				for _, code := range codes {
					groups[code] = true
				}
			}
			for _, widget := range tab.WidgetList {
				for _, code := range widget.InputGroupGetCodeList {
					groups[code] = true
				}
				for _, group := range widget.WidgetInputGroupList {
					groups[group.InputGroupGetCode] = true
					for _, input := range group.InputList {
						t.addInput(installationID, page, input)
					}
				}
			}
		}
	}
	list := make([]string, 0, len(groups))
	for code := range groups {
		list = append(list, code)
	}
	sort.Strings(list)
	t.groups[installationID] = list
}

func (t *topology) addInput(installationID int, page febos.PageConfig, input febos.Input) {
	id := model.DeviceID{Installation: installationID, Device: input.DeviceID, Thing: input.ThingID}
	regs := t.registers[id]
	if regs == nil {
		regs = make(map[string]model.Register)
		t.registers[id] = regs
	}
	if _, ok := regs[input.Code]; ok {
		return
	}
	regs[input.Code] = registerFromInput(input)

	if _, ok := t.identity[id]; !ok {
		t.identity[id] = identityFor(page, input.DeviceID, input.ThingID)
	}
}

func identityFor(page febos.PageConfig, deviceID, thingID int) deviceIdentity {
	ident := deviceIdentity{name: fmt.Sprintf("Device %d/%d", deviceID, thingID)}
	if dev, ok := page.DeviceMap[strconv.Itoa(deviceID)]; ok {
		ident.model = fmt.Sprintf("%s: %s", dev.Code, dev.ModelName)
		ident.manufacturer = dev.TenantName
	}
	if thing, ok := page.ThingMap[strconv.Itoa(thingID)]; ok {
		ident.name = fmt.Sprintf("%s-%d: %s", thing.ModelCode, thing.ID, thing.ModelName)
	}
	return ident
}

// registerFromInput maps a webapp input onto an entity kind. Booleans become
// binary sensors or switches, numerics become sensors or numbers, depending
// on writability.
func registerFromInput(input febos.Input) model.Register {
	reg := model.Register{
		Code:     input.Code,
		Label:    input.Label,
		Unit:     input.MeasUnit,
		Writable: input.Writable,
	}
	if reg.Label == "" {
		reg.Label = input.Code
	}
	if input.Min != nil {
		v := febos.NormalizeValue(input.Code, int64(*input.Min))
		reg.Min = &v
	}
	if input.Max != nil {
		v := febos.NormalizeValue(input.Code, int64(*input.Max))
		reg.Max = &v
	}

	switch input.InputType {
	case "BOOL":
		reg.Type = model.BoolValue
		reg.Kind = model.KindBinarySensor
		if input.Writable {
			reg.Kind = model.KindSwitch
		}
	case "STRING":
		reg.Type = model.TextValue
		reg.Kind = model.KindSensor
	default: // INT, FLOAT
		reg.Type = model.NumberValue
		reg.Kind = model.KindSensor
		if input.Writable {
			reg.Kind = model.KindNumber
		}
	}
	return reg
}

// cronoRegisters is the fixed register table of a Crono thermostat zone.
// The setpoint is the single writable register.
func cronoRegisters() map[string]model.Register {
	minSet, maxSet := 5.0, 35.0
	return map[string]model.Register{
		model.CodeHeatCall: {
			Code: model.CodeHeatCall, Label: "Chiamata Temperatura",
			Kind: model.KindBinarySensor, Type: model.BoolValue,
		},
		model.CodeHumidityCall: {
			Code: model.CodeHumidityCall, Label: "Chiamata Umidità",
			Kind: model.KindBinarySensor, Type: model.BoolValue,
		},
		model.CodeSeason: {
			Code: model.CodeSeason, Label: "Stagione",
			Kind: model.KindBinarySensor, Type: model.BoolValue, Inverted: true,
		},
		model.CodeSetTemp: {
			Code: model.CodeSetTemp, Label: "Set Temperatura", Unit: "°C",
			Kind: model.KindNumber, Type: model.NumberValue,
			Writable: true, Min: &minSet, Max: &maxSet,
		},
		model.CodeTemp: {
			Code: model.CodeTemp, Label: "Temperatura", Unit: "°C",
			Kind: model.KindSensor, Type: model.NumberValue,
		},
		model.CodeHumidity: {
			Code: model.CodeHumidity, Label: "Umidità", Unit: "%",
			Kind: model.KindSensor, Type: model.NumberValue,
		},
		model.CodeComfort: {
			Code: model.CodeComfort, Label: "Comfort",
			Kind: model.KindBinarySensor, Type: model.BoolValue, Inverted: true,
		},
	}
}
