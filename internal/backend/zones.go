package backend

import (
	"context"
	"fmt"
	"time"
)

// Device statuses reported in zone summaries.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// ActiveWindow is how recent a device's latest reading must be for the device
// to count as active. The bound is inclusive.
const ActiveWindow = 10 * time.Minute

// PlantingBoxCount is the number of ground channels surfaced per zone.
const PlantingBoxCount = 4

// PlantingBox is one planting box of a zone and the moisture of its ground channel.
type PlantingBox struct {
	Name           string  `json:"name"`
	GroundHumidity float64 `json:"ground_humidity"`
}

// ZoneSummary is the dashboard view of a device and its latest reading.
type ZoneSummary struct {
	LatestReading          time.Time     `json:"latest_reading"`
	MACAddress             string        `json:"mac_address"`
	Name                   string        `json:"name"`
	Status                 string        `json:"status"`
	PlantingBoxes          []PlantingBox `json:"planting_boxes"`
	EnvironmentTemperature float64       `json:"environment_temperature"`
	EnvironmentHumidity    float64       `json:"environment_humidity"`
}

// Zones summarizes the latest reading of every device that has one, newest
// first. No readings yields an empty list, not an error.
func (s *SensorActivityService) Zones(ctx context.Context) ([]ZoneSummary, error) {
	latest, err := s.stores.SensorActivities.LatestPerDevice(ctx)
	if err != nil {
		return nil, NewInternalError("Error retrieving latest sensor activities", err)
	}

	now := s.now()
	zones := make([]ZoneSummary, 0, len(latest))
	counts := map[string]int{StatusActive: 0, StatusInactive: 0}
	for i := range latest {
		zone := summarize(&latest[i], now)
		counts[zone.Status]++
		zones = append(zones, zone)
	}

	if s.metrics != nil {
		for status, n := range counts {
			s.metrics.ZoneStatus.WithLabelValues(status).Set(float64(n))
		}
	}

	return zones, nil
}

func summarize(a *SensorActivity, now time.Time) ZoneSummary {
	status := StatusInactive
	if now.Sub(a.CreatedAt) <= ActiveWindow {
		status = StatusActive
	}

	ground := a.GroundSensors()
	boxes := make([]PlantingBox, PlantingBoxCount)
	for i := range boxes {
		boxes[i] = PlantingBox{
			Name:           fmt.Sprintf("Cajón %d", i+1),
			GroundHumidity: round2(max(valueOrZero(ground[i]), 0)),
		}
	}

	return ZoneSummary{
		MACAddress:             a.DeviceID,
		Name:                   zoneName(a),
		Status:                 status,
		LatestReading:          a.CreatedAt,
		EnvironmentTemperature: round2(valueOrZero(a.EnvTemperature)),
		EnvironmentHumidity:    round2(valueOrZero(a.EnvHumidity)),
		PlantingBoxes:          boxes,
	}
}

// zoneName prefers the device name, then the reading zone, then the MAC.
func zoneName(a *SensorActivity) string {
	if a.Device != nil && a.Device.Name != "" {
		return a.Device.Name
	}
	if a.Zone != nil && *a.Zone != "" {
		return *a.Zone
	}
	return a.DeviceID
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
