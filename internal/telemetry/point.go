package telemetry

import (
	"strconv"
	"time"

	"canairio/station-agent/internal/model"
)

// Measurement is the series every station writes to.
const Measurement = "fixed_stations_01"

// Identity are the per-station tags attached to every point.
type Identity struct {
	DeviceID    string
	StationName string
	Revision    string
	Flavor      string
}

// Point is one timestamped telemetry record.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]any
	Time        time.Time
}

// BuildPoint assembles the point for one sample. Humidity and temperature
// fall back to the CO2 sensor readings when the main sensor reports zero.
func BuildPoint(sample model.Sample, cfg model.Config, id Identity, ts time.Time) Point {
	tags := map[string]string{
		"mac":  id.DeviceID,
		"name": id.StationName,
	}
	if id.Revision != "" {
		tags["rev"] = id.Revision
	}
	if id.Flavor != "" {
		tags["flavor"] = id.Flavor
	}

	fields := map[string]any{
		"pm1":    sample.PM1,
		"pm25":   sample.PM25,
		"pm10":   sample.PM10,
		"co2":    sample.CO2,
		"co2hum": sample.CO2Humidity,
		"co2tmp": sample.CO2Temperature,
		"tmp":    sample.EffectiveTemperature(),
		"hum":    sample.EffectiveHumidity(),
		"prs":    sample.Pressure,
		"gas":    sample.Gas,
		"alt":    sample.Altitude,
		"name":   id.StationName,
	}
	if cfg.HasLocation() {
		if lat, err := strconv.ParseFloat(cfg.Latitude, 64); err == nil {
			fields["lat"] = lat
		}
		if lon, err := strconv.ParseFloat(cfg.Longitude, 64); err == nil {
			fields["lon"] = lon
		}
	}
	if cfg.LocationTag != "" {
		fields["geo"] = cfg.LocationTag
	}

	return Point{Measurement: Measurement, Tags: tags, Fields: fields, Time: ts}
}
