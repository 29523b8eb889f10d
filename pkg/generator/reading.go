package generator

import (
	"math"
	"math/rand"
	"time"

	"agrosensorhub.dev/hub/pkg/telemetry"
)

const (
	// Ground moisture below which a channel's bed gets irrigated.
	irrigationThreshold = 25.0
	// Probability that a channel misses a sample.
	dropoutChance = 0.01
)

// ReadingGenerator produces correlated readings for one device. Ground
// channels dry out between samples, faster when it is hot, and jump back up
// when their bed is irrigated.
//
// A ReadingGenerator is not safe for concurrent use.
type ReadingGenerator struct {
	device           *Device
	baselineTemp     float64
	baselineHumidity float64
	noise            float64
	dryRate          float64
	ground           [telemetry.GroundSensorCount]float64
}

// NewReadingGenerator creates a generator with random baselines for device.
// Note: Uses math/rand which is acceptable for simulation data.
func NewReadingGenerator(device *Device) *ReadingGenerator {
	g := &ReadingGenerator{
		device:           device,
		baselineTemp:     18.0 + rand.Float64()*10, // #nosec G404 -- 18-28°C
		baselineHumidity: 50.0 + rand.Float64()*25, // #nosec G404 -- 50-75%
		noise:            rand.Float64() * 2,       // #nosec G404
		dryRate:          0.5 + rand.Float64(),     // #nosec G404 -- points per sample at baseline temperature
	}
	for i := range g.ground {
		g.ground[i] = 40.0 + rand.Float64()*50 // #nosec G404 -- 40-90%
	}
	return g
}

// Temperature returns the environment temperature with a daily cycle peaking
// in the afternoon.
func (g *ReadingGenerator) Temperature(t time.Time) float64 {
	hour := float64(t.Hour())
	dailyCycle := 5 * math.Sin((hour-6)*math.Pi/12)
	noise := (rand.Float64() - 0.5) * g.noise // #nosec G404

	// Occasional anomalies (5% chance), e.g. the vents opening.
	anomaly := 0.0
	if rand.Float64() < 0.05 { // #nosec G404
		anomaly = (rand.Float64() - 0.5) * 10 // #nosec G404
	}

	return g.baselineTemp + dailyCycle + noise + anomaly
}

// Humidity returns the environment humidity, inversely correlated with
// temperature and clamped to 20-95%.
func (g *ReadingGenerator) Humidity(t time.Time, temperature float64) float64 {
	hour := float64(t.Hour())
	dailyCycle := -3 * math.Sin((hour-6)*math.Pi/12)
	tempEffect := -(temperature - g.baselineTemp) * 1.5
	noise := (rand.Float64() - 0.5) * g.noise * 0.5 // #nosec G404

	humidity := g.baselineHumidity + dailyCycle + tempEffect + noise
	return math.Max(20, math.Min(95, humidity))
}

// GroundMoisture advances every ground channel by one sample and returns the
// new values.
func (g *ReadingGenerator) GroundMoisture(temperature float64) [telemetry.GroundSensorCount]float64 {
	heat := math.Max(0.2, 1+(temperature-g.baselineTemp)/10)
	for i := range g.ground {
		if g.ground[i] < irrigationThreshold {
			g.ground[i] = 85.0 + rand.Float64()*10 // #nosec G404
			continue
		}
		drying := g.dryRate * heat * (0.5 + rand.Float64()) // #nosec G404
		g.ground[i] = math.Max(0, g.ground[i]-drying)
	}
	return g.ground
}

// Reading generates the next sample at time t. A channel occasionally drops
// out and is reported as absent.
func (g *ReadingGenerator) Reading(t time.Time) *telemetry.Reading {
	temperature := g.Temperature(t)
	humidity := g.Humidity(t, temperature)
	ground := g.GroundMoisture(temperature)

	var channels [telemetry.GroundSensorCount]*float64
	for i, v := range ground {
		if rand.Float64() < dropoutChance { // #nosec G404
			continue
		}
		channels[i] = value(v)
	}

	zone := g.device.Zone
	return &telemetry.Reading{
		MACAddress:     g.device.MACAddress,
		Zone:           &zone,
		EnvHumidity:    value(humidity),
		EnvTemperature: value(temperature),
		GroundSensor1:  channels[0],
		GroundSensor2:  channels[1],
		GroundSensor3:  channels[2],
		GroundSensor4:  channels[3],
		GroundSensor5:  channels[4],
		GroundSensor6:  channels[5],
	}
}

// value rounds v to the two decimals an ESP32 sends.
func value(v float64) *float64 {
	r := math.Round(v*100) / 100
	return &r
}
