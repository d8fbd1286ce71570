package provisioning

import (
	"strconv"

	"canairio/station-agent/internal/model"
)

// FieldKind enumerates the form field variants the portal can render.
type FieldKind int

const (
	TextField FieldKind = iota
	RadioField
)

func (k FieldKind) String() string {
	if k == RadioField {
		return "radio"
	}
	return "text"
}

// Field ids shared with the portal form.
const (
	FieldServer     = "server"
	FieldPort       = "port"
	FieldDatabase   = "influxdb"
	FieldDeviceName = "devicename"
	FieldGeohash    = "geohash"
	FieldSampleTime = "stime"
	FieldSensorType = "stype"
	FieldLatitude   = "lat"
	FieldLongitude  = "lon"
	FieldSSID       = "ssid"
	FieldPassword   = "password"
)

// Choice is one option of a RadioField.
type Choice struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Field is one editable portal parameter. Capacity bounds Value in bytes.
type Field struct {
	Kind     FieldKind `json:"-"`
	ID       string    `json:"id"`
	Label    string    `json:"label"`
	Capacity int       `json:"capacity"`
	Value    string    `json:"value"`
	Choices  []Choice  `json:"choices,omitempty"`
	Secret   bool      `json:"secret,omitempty"`
}

// Set stores v truncated to the field capacity. RadioField values outside
// the offered choices are ignored.
func (f *Field) Set(v string) {
	if f.Kind == RadioField {
		for _, c := range f.Choices {
			if c.Value == v {
				f.Value = v
				return
			}
		}
		return
	}
	f.Value = model.Truncate(v, f.Capacity)
}

// SensorChoices are the sensor families selectable on the portal.
var SensorChoices = []Choice{
	{Value: strconv.Itoa(model.SensorAuto), Label: "Auto detect"},
	{Value: strconv.Itoa(model.SensorPMS), Label: "Panasonic/Plantower"},
	{Value: strconv.Itoa(model.SensorSPS), Label: "Sensirion"},
}

// BuildFields returns the portal parameter set pre-populated from cfg.
// It is built once; later edits go through Field.Set.
func BuildFields(cfg model.Config) []Field {
	return []Field{
		{Kind: TextField, ID: FieldDeviceName, Label: "device name", Capacity: model.DeviceNameCap, Value: cfg.DeviceName},
		{Kind: TextField, ID: FieldServer, Label: "influx server", Capacity: model.ServerHostCap, Value: cfg.ServerHost},
		{Kind: TextField, ID: FieldDatabase, Label: "database", Capacity: model.DatabaseNameCap, Value: cfg.DatabaseName},
		{Kind: TextField, ID: FieldPort, Label: "influx port", Capacity: model.ServerPortCap, Value: cfg.ServerPort},
		{Kind: TextField, ID: FieldGeohash, Label: "geohash", Capacity: model.LocationTagCap, Value: cfg.LocationTag},
		{Kind: TextField, ID: FieldSampleTime, Label: "sample time (s)", Capacity: model.SampleTimeCap, Value: strconv.Itoa(cfg.SampleIntervalSeconds)},
		{Kind: RadioField, ID: FieldSensorType, Label: "sensor type", Capacity: model.SensorTypeCap, Value: strconv.Itoa(cfg.SensorType), Choices: SensorChoices},
		{Kind: TextField, ID: FieldLatitude, Label: "latitude", Capacity: model.CoordinateCap, Value: cfg.Latitude},
		{Kind: TextField, ID: FieldLongitude, Label: "longitude", Capacity: model.CoordinateCap, Value: cfg.Longitude},
		{Kind: TextField, ID: FieldSSID, Label: "wifi network", Capacity: 32},
		{Kind: TextField, ID: FieldPassword, Label: "wifi password", Capacity: 64, Secret: true},
	}
}

// fieldSet is the live parameter set owned by the controller.
type fieldSet []Field

func (fs fieldSet) get(id string) string {
	for _, f := range fs {
		if f.ID == id {
			return f.Value
		}
	}
	return ""
}

// read copies every submitted value into the set, clamped to capacities.
func (fs fieldSet) read(values map[string]string) {
	for i := range fs {
		if v, ok := values[fs[i].ID]; ok {
			fs[i].Set(v)
		}
	}
}

// refresh re-populates the configuration fields from cfg. Credential fields are cleared.
func (fs fieldSet) refresh(cfg model.Config) {
	fresh := BuildFields(cfg)
	for i := range fs {
		for _, f := range fresh {
			if f.ID == fs[i].ID {
				fs[i].Value = f.Value
			}
		}
	}
}

// apply writes the configuration fields onto cfg. Unparsable numbers keep cfg's value.
func (fs fieldSet) apply(cfg model.Config) model.Config {
	cfg.DeviceName = fs.get(FieldDeviceName)
	cfg.ServerHost = fs.get(FieldServer)
	cfg.DatabaseName = fs.get(FieldDatabase)
	cfg.ServerPort = fs.get(FieldPort)
	cfg.LocationTag = fs.get(FieldGeohash)
	cfg.Latitude = fs.get(FieldLatitude)
	cfg.Longitude = fs.get(FieldLongitude)
	if n, err := strconv.Atoi(fs.get(FieldSampleTime)); err == nil {
		cfg.SampleIntervalSeconds = n
	}
	if n, err := strconv.Atoi(fs.get(FieldSensorType)); err == nil {
		cfg.SensorType = n
	}
	return cfg
}

func (fs fieldSet) credentials() model.Credentials {
	return model.Credentials{SSID: fs.get(FieldSSID), Password: fs.get(FieldPassword)}
}

func (fs fieldSet) clone() []Field {
	out := make([]Field, len(fs))
	copy(out, fs)
	return out
}
