// Package telemetry defines the messages field devices send to the hub and
// their JSON and protobuf encodings.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"agrosensorhub.dev/hub/pkg/mq"
)

// GroundSensorCount is the number of ground-moisture channels per device.
const GroundSensorCount = 6

// ErrUnsupportedContentType is returned for payloads in an unknown encoding.
var ErrUnsupportedContentType = errors.New("unsupported content type")

// Reading is one telemetry sample from a device.
type Reading struct {
	MACAddress     string   `json:"mac_address" binding:"required,macaddr"`
	Zone           *string  `json:"zone,omitempty" binding:"omitempty,max=100"`
	EnvHumidity    *float64 `json:"env_humidity,omitempty" binding:"omitempty,gte=0,lte=100"`
	EnvTemperature *float64 `json:"env_temperature,omitempty"`
	GroundSensor1  *float64 `json:"ground_sensor_1,omitempty"`
	GroundSensor2  *float64 `json:"ground_sensor_2,omitempty"`
	GroundSensor3  *float64 `json:"ground_sensor_3,omitempty"`
	GroundSensor4  *float64 `json:"ground_sensor_4,omitempty"`
	GroundSensor5  *float64 `json:"ground_sensor_5,omitempty"`
	GroundSensor6  *float64 `json:"ground_sensor_6,omitempty"`
}

// GroundSensors returns the ground channels in order, 1 through 6.
func (r *Reading) GroundSensors() [GroundSensorCount]*float64 {
	return [GroundSensorCount]*float64{
		r.GroundSensor1, r.GroundSensor2, r.GroundSensor3,
		r.GroundSensor4, r.GroundSensor5, r.GroundSensor6,
	}
}

// ZoneName returns the zone label, or "" when the reading carries none.
func (r *Reading) ZoneName() string {
	if r.Zone == nil {
		return ""
	}
	return *r.Zone
}

// DeviceAnnouncement registers or renames a device.
type DeviceAnnouncement struct {
	MACAddress string  `json:"mac_address" binding:"required,macaddr"`
	Name       *string `json:"name,omitempty" binding:"omitempty,min=1,max=100"`
}

// Encode serializes v for the given content type. Protobuf payloads are a
// google.protobuf.Struct carrying the same fields as the JSON form.
func Encode(v any, contentType string) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json: %w", err)
	}

	switch contentType {
	case mq.ContentTypeJSON, "":
		return raw, nil
	case mq.ContentTypeProtobuf:
		s := &structpb.Struct{}
		if err := protojson.Unmarshal(raw, s); err != nil {
			return nil, fmt.Errorf("failed to build struct: %w", err)
		}
		out, err := proto.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal protobuf: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContentType, contentType)
	}
}

// Decode parses body according to contentType into v. An empty content type
// is treated as JSON.
func Decode(body []byte, contentType string, v any) error {
	switch contentType {
	case mq.ContentTypeJSON, "", "text/plain":
		if err := json.Unmarshal(body, v); err != nil {
			return fmt.Errorf("failed to unmarshal json: %w", err)
		}
		return nil
	case mq.ContentTypeProtobuf:
		s := &structpb.Struct{}
		if err := proto.Unmarshal(body, s); err != nil {
			return fmt.Errorf("failed to unmarshal protobuf: %w", err)
		}
		raw, err := protojson.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to convert struct: %w", err)
		}
		if err := json.Unmarshal(raw, v); err != nil {
			return fmt.Errorf("failed to unmarshal struct: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedContentType, contentType)
	}
}

// DecodeReading parses and validates a reading.
func DecodeReading(body []byte, contentType string) (*Reading, error) {
	var r Reading
	if err := Decode(body, contentType, &r); err != nil {
		return nil, err
	}
	if err := Validate(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// DecodeDeviceAnnouncement parses and validates a device announcement.
func DecodeDeviceAnnouncement(body []byte, contentType string) (*DeviceAnnouncement, error) {
	var d DeviceAnnouncement
	if err := Decode(body, contentType, &d); err != nil {
		return nil, err
	}
	if err := Validate(&d); err != nil {
		return nil, err
	}
	return &d, nil
}
