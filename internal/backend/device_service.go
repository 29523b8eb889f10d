package backend

import (
	"context"
	"errors"
	"log/slog"
)

// DeviceService enforces device uniqueness and default naming.
type DeviceService struct {
	logger  *slog.Logger
	devices DeviceStore
}

// NewDeviceService creates a new DeviceService instance.
func NewDeviceService(logger *slog.Logger, devices DeviceStore) (*DeviceService, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if devices == nil {
		return nil, errors.New("device store cannot be nil")
	}

	return &DeviceService{
		logger:  logger,
		devices: devices,
	}, nil
}

// deviceName returns name, or mac when name is absent.
func deviceName(mac string, name *string) string {
	if name == nil || *name == "" {
		return mac
	}
	return *name
}

// Create registers a new device. It fails with a conflict if mac is taken.
func (s *DeviceService) Create(ctx context.Context, mac string, name *string) (*Device, error) {
	_, err := s.devices.Get(ctx, mac)
	switch {
	case err == nil:
		return nil, NewConflictError("Device already exists")
	case !errors.Is(err, ErrRecordNotFound):
		return nil, NewInternalError("Error creating device", err)
	}

	device := &Device{MACAddress: mac, Name: deviceName(mac, name)}
	if err := s.devices.Create(ctx, device); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return nil, NewConflictError("Device already exists")
		}
		return nil, NewInternalError("Error creating device", err)
	}

	s.logger.Info("device created", "mac_address", device.MACAddress, "name", device.Name)
	return device, nil
}

// Update renames an existing device.
func (s *DeviceService) Update(ctx context.Context, mac string, name *string) (*Device, error) {
	device, err := s.Get(ctx, mac)
	if err != nil {
		return nil, err
	}

	device.Name = deviceName(mac, name)
	if err := s.devices.Update(ctx, device); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NewNotFoundError("Device not found")
		}
		return nil, NewInternalError("Error updating device", err)
	}

	s.logger.Info("device updated", "mac_address", device.MACAddress, "name", device.Name)
	return device, nil
}

// Get returns the device registered under mac.
func (s *DeviceService) Get(ctx context.Context, mac string) (*Device, error) {
	device, err := s.devices.Get(ctx, mac)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NewNotFoundError("Device not found")
		}
		return nil, NewInternalError("Error retrieving device", err)
	}
	return device, nil
}

// List returns every device ordered by name. An empty registry is reported
// as not found.
func (s *DeviceService) List(ctx context.Context) ([]Device, error) {
	devices, err := s.devices.List(ctx)
	if err != nil {
		return nil, NewInternalError("Error retrieving devices", err)
	}
	if len(devices) == 0 {
		return nil, NewNotFoundError("No devices found")
	}
	return devices, nil
}
