// Package backend implements the Agro Sensor Hub backend: device registry,
// sensor activity ingestion and aggregation, notifications, and the HTTP,
// gRPC, AMQP and MQTT surfaces in front of them.
package backend

import (
	"time"
)

// Device is a field controller identified by its MAC address. Its name is the
// zone label it last reported.
type Device struct {
	MACAddress string    `gorm:"column:mac_address;primaryKey;size:17"`
	Name       string    `gorm:"size:100;not null;index"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for Device model.
func (Device) TableName() string {
	return "devices"
}

// SensorActivity is one stored telemetry sample. Rows are immutable.
type SensorActivity struct {
	CreatedAt      time.Time `gorm:"autoCreateTime;index:idx_sensor_activities_created_at"`
	Device         *Device   `gorm:"foreignKey:DeviceID;references:MACAddress;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	Zone           *string   `gorm:"size:100"`
	EnvHumidity    *float64
	EnvTemperature *float64
	GroundSensor1  *float64 `gorm:"column:ground_sensor_1"`
	GroundSensor2  *float64 `gorm:"column:ground_sensor_2"`
	GroundSensor3  *float64 `gorm:"column:ground_sensor_3"`
	GroundSensor4  *float64 `gorm:"column:ground_sensor_4"`
	GroundSensor5  *float64 `gorm:"column:ground_sensor_5"`
	GroundSensor6  *float64 `gorm:"column:ground_sensor_6"`
	DeviceID       string   `gorm:"size:17;not null;index:idx_sensor_activities_device_id"`
	ID             uint     `gorm:"primaryKey"`
}

// TableName specifies the table name for SensorActivity model.
func (SensorActivity) TableName() string {
	return "sensor_activities"
}

// GroundSensors returns the six ground channels, 1 through 6.
func (a *SensorActivity) GroundSensors() [6]*float64 {
	return [6]*float64{
		a.GroundSensor1, a.GroundSensor2, a.GroundSensor3,
		a.GroundSensor4, a.GroundSensor5, a.GroundSensor6,
	}
}

// measurements lists every optional numeric field so they can be processed uniformly.
func (a *SensorActivity) measurements() []**float64 {
	return []**float64{
		&a.EnvHumidity, &a.EnvTemperature,
		&a.GroundSensor1, &a.GroundSensor2, &a.GroundSensor3,
		&a.GroundSensor4, &a.GroundSensor5, &a.GroundSensor6,
	}
}

// Notification is an alert addressed to a device. DeviceID is not a foreign key.
type Notification struct {
	CreatedAt   time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
	Description *string   `gorm:"type:text"`
	DeviceID    string    `gorm:"size:17;not null;index"`
	Type        string    `gorm:"size:50;not null"`
	Title       string    `gorm:"size:200;not null"`
	ID          uint      `gorm:"primaryKey"`
	IsRead      bool      `gorm:"not null;default:false;index"`
}

// TableName specifies the table name for Notification model.
func (Notification) TableName() string {
	return "notifications"
}
