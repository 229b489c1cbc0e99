package febos

import (
	"encoding/json"
	"strconv"
)

// envelope wraps every Febos response. errCode 0 means success.
type envelope struct {
	ErrCode int    `json:"errCode"`
	Msg     string `json:"msg"`
}

type loginResponse struct {
	envelope
	Token              string `json:"token"`
	ExpiresIn          int    `json:"expiresIn"`
	InstallationIDList []int  `json:"installationIdList"`
}

// PageConfig describes the webapp layout of one installation: the devices,
// the things (boards) behind them, and the pages whose widgets reference the
// realtime input groups.
type PageConfig struct {
	envelope
	DeviceMap map[string]DeviceInfo `json:"deviceMap"`
	ThingMap  map[string]Thing      `json:"thingMap"`
	PageMap   map[string]Page       `json:"pageMap"`
}

// DeviceInfo is a physical Febos unit registered under an installation.
type DeviceInfo struct {
	ID         int    `json:"id"`
	Code       string `json:"code"`
	ModelName  string `json:"modelName"`
	TenantName string `json:"tenantName"`
}

// Thing is a logical board inside a device.
type Thing struct {
	ID        int    `json:"id"`
	DeviceID  int    `json:"deviceId"`
	ModelID   int    `json:"modelId"`
	ModelCode string `json:"modelCode"`
	ModelName string `json:"modelName"`
	Name      string `json:"name"`
}

type Page struct {
	InputGroupGetCodeList []string `json:"inputGroupGetCodeList"`
	TabList               []Tab    `json:"tabList"`
}

type Tab struct {
	InputGroupGetCodeMap map[string][]string `json:"inputGroupGetCodeMap"`
	WidgetList           []Widget            `json:"widgetList"`
}

type Widget struct {
	InputGroupGetCodeList []string     `json:"inputGroupGetCodeList"`
	WidgetInputGroupList  []InputGroup `json:"widgetInputGroupList"`
}

type InputGroup struct {
	InputGroupGetCode string  `json:"inputGroupGetCode"`
	InputList         []Input `json:"inputList"`
}

// Input is one addressable register exposed by the webapp.
type Input struct {
	Code      string `json:"code"`
	Label     string `json:"label"`
	InputType string `json:"inputType"`
	MeasUnit  string `json:"measUnit"`
	DeviceID  int    `json:"deviceId"`
	ThingID   int    `json:"thingId"`
	Min       *int   `json:"min"`
	Max       *int   `json:"max"`
	Writable  bool   `json:"writable"`
}

// RawValue is the wire representation of a register value. Most registers
// carry integers; a few diagnostic ones carry strings.
type RawValue struct {
	I json.RawMessage `json:"i"`
}

// NumberRaw builds the wire form of an integer register value.
func NumberRaw(v int64) RawValue {
	return RawValue{I: json.RawMessage(strconv.FormatInt(v, 10))}
}

// Int64 decodes the value as an integer register reading.
func (v RawValue) Int64() (int64, error) {
	var n json.Number
	if err := json.Unmarshal(v.I, &n); err != nil {
		return 0, err
	}
	i, err := n.Int64()
	if err != nil {
		// Some firmware reports whole numbers as floats.
		f, ferr := n.Float64()
		if ferr != nil {
			return 0, err
		}
		return int64(f), nil
	}
	return i, nil
}

// Float64 decodes the value as a numeric register reading, keeping any
// fractional part the firmware reports.
func (v RawValue) Float64() (float64, error) {
	var n json.Number
	if err := json.Unmarshal(v.I, &n); err != nil {
		return 0, err
	}
	return n.Float64()
}

// Text decodes the value as a string register reading.
func (v RawValue) Text() (string, error) {
	var s string
	if err := json.Unmarshal(v.I, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(v.I, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// RealtimeEntry carries the current values of one thing's registers.
type RealtimeEntry struct {
	DeviceID int                 `json:"deviceId"`
	ThingID  int                 `json:"thingId"`
	Data     map[string]RawValue `json:"data"`
}

type realtimeResponse struct {
	envelope
	Data []RealtimeEntry `json:"data"`
}

// Slave is a Febos Crono thermostat zone attached to a device over the slave
// bus. Temperatures are raw tenths of a degree.
type Slave struct {
	Address   int  `json:"indirizzoSlave"`
	CallTemp  int  `json:"callTemp"`
	CallHumid int  `json:"callHumid"`
	Season    int  `json:"stagione"`
	SetTemp   *int `json:"setTemp"`
	Temp      *int `json:"temp"`
	Humid     *int `json:"humid"`
	Comfort   int  `json:"confort"`
}

type slavesResponse struct {
	envelope
	Data []Slave `json:"data"`
}

// writeRequest mirrors the realtime entry shape for parameter writes.
type writeRequest struct {
	DeviceID int                 `json:"deviceId"`
	ThingID  int                 `json:"thingId"`
	Data     map[string]RawValue `json:"data"`
}
