package backend

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"
)

// GormDeviceStore implements DeviceStore on PostgreSQL.
type GormDeviceStore struct {
	gormStore
}

// Create implements DeviceStore.
func (s *GormDeviceStore) Create(ctx context.Context, device *Device) (err error) {
	done := s.track("insert", "devices")
	defer func() { done(err) }()

	if err := s.db.WithContext(ctx).Create(device).Error; err != nil {
		return fmt.Errorf("failed to create device: %w", translate(err))
	}
	return nil
}

// Update implements DeviceStore. Only the name is mutable.
func (s *GormDeviceStore) Update(ctx context.Context, device *Device) (err error) {
	done := s.track("update", "devices")
	defer func() { done(err) }()

	result := s.db.WithContext(ctx).
		Model(&Device{MACAddress: device.MACAddress}).
		Update("name", device.Name)
	if result.Error != nil {
		return fmt.Errorf("failed to update device: %w", translate(result.Error))
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}

	if err := s.db.WithContext(ctx).First(device, "mac_address = ?", device.MACAddress).Error; err != nil {
		return fmt.Errorf("failed to reload device: %w", translate(err))
	}
	return nil
}

// Get implements DeviceStore.
func (s *GormDeviceStore) Get(ctx context.Context, mac string) (_ *Device, err error) {
	done := s.track("select", "devices")
	defer func() { done(err) }()

	var device Device
	if err := s.db.WithContext(ctx).First(&device, "mac_address = ?", mac).Error; err != nil {
		return nil, translate(err)
	}
	return &device, nil
}

// List implements DeviceStore.
func (s *GormDeviceStore) List(ctx context.Context) (_ []Device, err error) {
	done := s.track("select", "devices")
	defer func() { done(err) }()

	var devices []Device
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

// Ensure implements DeviceStore. Concurrent callers for the same MAC insert
// at most one row and all observe it.
func (s *GormDeviceStore) Ensure(ctx context.Context, mac, name string) (_ *Device, err error) {
	done := s.track("upsert", "devices")
	defer func() { done(err) }()

	candidate := Device{MACAddress: mac, Name: name}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&candidate).Error; err != nil {
		return nil, fmt.Errorf("failed to insert device: %w", translate(err))
	}

	var device Device
	if err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&device, "mac_address = ?", mac).Error; err != nil {
		return nil, fmt.Errorf("failed to lock device: %w", translate(err))
	}
	return &device, nil
}
