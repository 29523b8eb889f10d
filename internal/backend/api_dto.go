package backend

import "time"

type healthResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

type deviceResponse struct {
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	MACAddress string    `json:"mac_address"`
	Name       string    `json:"name"`
}

func newDeviceResponse(d *Device) deviceResponse {
	return deviceResponse{
		MACAddress: d.MACAddress,
		Name:       d.Name,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

// sensorActivityResponse exposes the owning device MAC as "device_id".
type sensorActivityResponse struct {
	CreatedAt      time.Time `json:"created_at"`
	Zone           *string   `json:"zone"`
	EnvHumidity    *float64  `json:"env_humidity"`
	EnvTemperature *float64  `json:"env_temperature"`
	GroundSensor1  *float64  `json:"ground_sensor_1"`
	GroundSensor2  *float64  `json:"ground_sensor_2"`
	GroundSensor3  *float64  `json:"ground_sensor_3"`
	GroundSensor4  *float64  `json:"ground_sensor_4"`
	GroundSensor5  *float64  `json:"ground_sensor_5"`
	GroundSensor6  *float64  `json:"ground_sensor_6"`
	DeviceID       string    `json:"device_id"`
	ID             uint      `json:"id"`
}

func newSensorActivityResponse(a *SensorActivity) sensorActivityResponse {
	return sensorActivityResponse{
		ID:             a.ID,
		DeviceID:       a.DeviceID,
		Zone:           a.Zone,
		EnvHumidity:    a.EnvHumidity,
		EnvTemperature: a.EnvTemperature,
		GroundSensor1:  a.GroundSensor1,
		GroundSensor2:  a.GroundSensor2,
		GroundSensor3:  a.GroundSensor3,
		GroundSensor4:  a.GroundSensor4,
		GroundSensor5:  a.GroundSensor5,
		GroundSensor6:  a.GroundSensor6,
		CreatedAt:      a.CreatedAt,
	}
}

type notificationRequest struct {
	Description *string `json:"description"`
	DeviceID    string  `json:"device_id" binding:"required,max=17"`
	Type        string  `json:"type" binding:"required,max=50"`
	Title       string  `json:"title" binding:"required,max=200"`
}

type notificationResponse struct {
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Description *string   `json:"description"`
	DeviceID    string    `json:"device_id"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	ID          uint      `json:"id"`
	IsRead      bool      `json:"is_read"`
}

func newNotificationResponse(n *Notification) notificationResponse {
	return notificationResponse{
		ID:          n.ID,
		DeviceID:    n.DeviceID,
		Type:        n.Type,
		Title:       n.Title,
		Description: n.Description,
		IsRead:      n.IsRead,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
	}
}

// pageQuery is the skip/limit pair shared by the paginated list routes.
type pageQuery struct {
	Skip  int `form:"skip,default=0" json:"skip" binding:"gte=0"`
	Limit int `form:"limit,default=10" json:"limit" binding:"gte=1,lte=100"`
}

type activityQuery struct {
	StartDate *time.Time `form:"start_date" json:"start_date" time_format:"2006-01-02T15:04:05Z07:00"`
	EndDate   *time.Time `form:"end_date" json:"end_date" time_format:"2006-01-02T15:04:05Z07:00"`
	pageQuery
}

type unreadQuery struct {
	Limit int `form:"limit,default=20" json:"limit" binding:"gte=1,lte=100"`
}

type readQuery struct {
	IsRead bool `form:"is_read,default=true" json:"is_read"`
}
