package backend

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"agrosensorhub.dev/hub/pkg/metrics"
	"agrosensorhub.dev/hub/pkg/telemetry"
)

// Ingestion sources, used as the "source" metric label.
const (
	SourceHTTP = "http"
	SourceAMQP = "amqp"
	SourceMQTT = "mqtt"
)

// SensorActivityServiceConfig holds the configuration for the SensorActivityService.
type SensorActivityServiceConfig struct {
	Logger     *slog.Logger
	Stores     Stores
	Transactor Transactor
	Metrics    *metrics.BackendMetrics // Optional metrics
	// Location is used to render export timestamps. Defaults to time.Local.
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

// SensorActivityService ingests readings and serves the read-side views.
type SensorActivityService struct {
	logger     *slog.Logger
	stores     Stores
	transactor Transactor
	metrics    *metrics.BackendMetrics
	location   *time.Location
	now        func() time.Time
}

// NewSensorActivityService creates a new SensorActivityService instance.
func NewSensorActivityService(cfg *SensorActivityServiceConfig) (*SensorActivityService, error) {
	if cfg == nil {
		return nil, errors.New("sensor activity service config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Stores.Devices == nil || cfg.Stores.SensorActivities == nil {
		return nil, errors.New("device and sensor activity stores cannot be nil")
	}

	if cfg.Transactor == nil {
		return nil, errors.New("transactor cannot be nil")
	}

	location := cfg.Location
	if location == nil {
		location = time.Local
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &SensorActivityService{
		logger:     cfg.Logger,
		stores:     cfg.Stores,
		transactor: cfg.Transactor,
		metrics:    cfg.Metrics,
		location:   location,
		now:        now,
	}, nil
}

// Create stores a reading. The owning device is registered on first sight,
// named after the reading zone or its MAC, and renamed when a later reading
// reports a different zone. All three steps share one transaction.
func (s *SensorActivityService) Create(ctx context.Context, reading *telemetry.Reading, source string) (*SensorActivity, error) {
	var (
		activity *SensorActivity
		renamed  bool
	)

	err := s.transactor.WithinTx(ctx, func(stores Stores) error {
		zone := reading.ZoneName()
		initialName := zone
		if initialName == "" {
			initialName = reading.MACAddress
		}

		device, err := stores.Devices.Ensure(ctx, reading.MACAddress, initialName)
		if err != nil {
			return err
		}

		if zone != "" && zone != device.Name {
			device.Name = zone
			if err := stores.Devices.Update(ctx, device); err != nil {
				return err
			}
			renamed = true
		}

		activity = &SensorActivity{
			DeviceID:       device.MACAddress,
			Zone:           reading.Zone,
			EnvHumidity:    reading.EnvHumidity,
			EnvTemperature: reading.EnvTemperature,
			GroundSensor1:  reading.GroundSensor1,
			GroundSensor2:  reading.GroundSensor2,
			GroundSensor3:  reading.GroundSensor3,
			GroundSensor4:  reading.GroundSensor4,
			GroundSensor5:  reading.GroundSensor5,
			GroundSensor6:  reading.GroundSensor6,
		}
		if err := stores.SensorActivities.Create(ctx, activity); err != nil {
			return err
		}
		activity.Device = device
		return nil
	})
	if err != nil {
		s.recordIngestion(source, "error")
		return nil, NewInternalError("Error creating sensor activity", err)
	}

	s.recordIngestion(source, "success")
	if renamed {
		s.logger.Info("device renamed from reading zone",
			"mac_address", reading.MACAddress,
			"zone", reading.ZoneName(),
		)
		if s.metrics != nil {
			s.metrics.DevicesRenamedTotal.Inc()
		}
	}

	s.logger.Debug("sensor activity stored",
		"id", activity.ID,
		"mac_address", activity.DeviceID,
		"source", source,
	)
	return activity, nil
}

func (s *SensorActivityService) recordIngestion(source, status string) {
	if s.metrics != nil {
		s.metrics.IngestionsTotal.WithLabelValues(source, status).Inc()
	}
}

// List returns a rounded page of readings, newest first.
func (s *SensorActivityService) List(ctx context.Context, filter ActivityFilter) ([]SensorActivity, error) {
	activities, err := s.stores.SensorActivities.List(ctx, filter)
	if err != nil {
		return nil, NewInternalError("Error retrieving sensor activities", err)
	}
	if len(activities) == 0 {
		return nil, NewNotFoundError("No sensor activities found")
	}

	for i := range activities {
		roundActivity(&activities[i])
	}
	return activities, nil
}

// Get returns one rounded reading.
func (s *SensorActivityService) Get(ctx context.Context, id uint) (*SensorActivity, error) {
	activity, err := s.stores.SensorActivities.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NewNotFoundError("Sensor activity with id %d not found", id)
		}
		return nil, NewInternalError("Error retrieving sensor activity", err)
	}

	roundActivity(activity)
	return activity, nil
}

// LatestByMAC returns the newest rounded reading of a device.
func (s *SensorActivityService) LatestByMAC(ctx context.Context, mac string) (*SensorActivity, error) {
	activity, err := s.stores.SensorActivities.LatestByDevice(ctx, mac)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NewNotFoundError("No sensor activity found for device with MAC address %s", mac)
		}
		return nil, NewInternalError("Error retrieving latest sensor activity", err)
	}

	roundActivity(activity)
	return activity, nil
}

// round2 rounds half away from zero to two decimals.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// roundActivity rounds every present measurement of a in place.
func roundActivity(a *SensorActivity) {
	for _, field := range a.measurements() {
		if *field == nil {
			continue
		}
		rounded := round2(**field)
		*field = &rounded
	}
}
