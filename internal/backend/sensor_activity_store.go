package backend

import (
	"context"
	"fmt"
)

// GormSensorActivityStore implements SensorActivityStore on PostgreSQL.
type GormSensorActivityStore struct {
	gormStore
}

// Create implements SensorActivityStore.
func (s *GormSensorActivityStore) Create(ctx context.Context, activity *SensorActivity) (err error) {
	done := s.track("insert", "sensor_activities")
	defer func() { done(err) }()

	if err := s.db.WithContext(ctx).Omit("Device").Create(activity).Error; err != nil {
		return fmt.Errorf("failed to create sensor activity: %w", translate(err))
	}
	return nil
}

// List implements SensorActivityStore.
func (s *GormSensorActivityStore) List(ctx context.Context, filter ActivityFilter) (_ []SensorActivity, err error) {
	done := s.track("select", "sensor_activities")
	defer func() { done(err) }()

	query := s.db.WithContext(ctx).Model(&SensorActivity{})
	if filter.Start != nil {
		query = query.Where("created_at >= ?", *filter.Start)
	}
	if filter.End != nil {
		query = query.Where("created_at <= ?", *filter.End)
	}

	var activities []SensorActivity
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Offset(filter.Skip).
		Limit(filter.Limit).
		Find(&activities).Error; err != nil {
		return nil, fmt.Errorf("failed to list sensor activities: %w", err)
	}
	return activities, nil
}

// Get implements SensorActivityStore.
func (s *GormSensorActivityStore) Get(ctx context.Context, id uint) (_ *SensorActivity, err error) {
	done := s.track("select", "sensor_activities")
	defer func() { done(err) }()

	var activity SensorActivity
	if err := s.db.WithContext(ctx).First(&activity, id).Error; err != nil {
		return nil, translate(err)
	}
	return &activity, nil
}

// LatestByDevice implements SensorActivityStore.
func (s *GormSensorActivityStore) LatestByDevice(ctx context.Context, mac string) (_ *SensorActivity, err error) {
	done := s.track("select", "sensor_activities")
	defer func() { done(err) }()

	var activity SensorActivity
	if err := s.db.WithContext(ctx).
		Where("device_id = ?", mac).
		Order("created_at DESC").
		Order("id DESC").
		First(&activity).Error; err != nil {
		return nil, translate(err)
	}
	return &activity, nil
}

// LatestPerDevice implements SensorActivityStore using DISTINCT ON, so each
// device contributes exactly one row even when timestamps collide.
func (s *GormSensorActivityStore) LatestPerDevice(ctx context.Context) (_ []SensorActivity, err error) {
	done := s.track("select", "sensor_activities")
	defer func() { done(err) }()

	db := s.db.WithContext(ctx)
	latest := db.Model(&SensorActivity{}).
		Select("DISTINCT ON (device_id) id").
		Order("device_id, created_at DESC, id DESC")

	var activities []SensorActivity
	if err := db.
		Preload("Device").
		Where("id IN (?)", latest).
		Order("created_at DESC").
		Order("id DESC").
		Find(&activities).Error; err != nil {
		return nil, fmt.Errorf("failed to load latest sensor activities: %w", err)
	}
	return activities, nil
}
