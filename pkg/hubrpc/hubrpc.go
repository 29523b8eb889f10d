// Package hubrpc describes the SensorHub gRPC service. Messages are protobuf
// well-known types carrying the same JSON documents the HTTP API serves, so no
// generated code is required on either side.
package hubrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "agrosensorhub.v1.SensorHub"

// Full method names.
const (
	ListZonesMethod         = "/" + ServiceName + "/ListZones"
	ListActivitiesMethod    = "/" + ServiceName + "/ListActivities"
	GetLatestActivityMethod = "/" + ServiceName + "/GetLatestActivity"
)

// PlantingBox is one planting box of a zone.
type PlantingBox struct {
	Name           string  `json:"name"`
	GroundHumidity float64 `json:"ground_humidity"`
}

// Zone is the summary of a device and its latest reading.
type Zone struct {
	LatestReading          time.Time     `json:"latest_reading"`
	MACAddress             string        `json:"mac_address"`
	Name                   string        `json:"name"`
	Status                 string        `json:"status"`
	PlantingBoxes          []PlantingBox `json:"planting_boxes"`
	EnvironmentTemperature float64       `json:"environment_temperature"`
	EnvironmentHumidity    float64       `json:"environment_humidity"`
}

// Activity is one stored reading.
type Activity struct {
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

// GroundSensors returns the six ground channels in order.
func (a *Activity) GroundSensors() []*float64 {
	return []*float64{
		a.GroundSensor1, a.GroundSensor2, a.GroundSensor3,
		a.GroundSensor4, a.GroundSensor5, a.GroundSensor6,
	}
}

// PageRequest builds the ListActivities request.
func PageRequest(skip, limit int) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"skip":  structpb.NewNumberValue(float64(skip)),
		"limit": structpb.NewNumberValue(float64(limit)),
	}}
}

// SensorHubServer is the server API for the SensorHub service.
type SensorHubServer interface {
	// ListZones returns one Zone document per device that has readings.
	ListZones(ctx context.Context, in *emptypb.Empty) (*structpb.ListValue, error)
	// ListActivities returns a page of Activity documents. The request carries
	// optional "skip" and "limit" numbers.
	ListActivities(ctx context.Context, in *structpb.Struct) (*structpb.ListValue, error)
	// GetLatestActivity returns the newest Activity document of the MAC in the request.
	GetLatestActivity(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error)
}

// RegisterSensorHubServer registers srv on s.
func RegisterSensorHubServer(s grpc.ServiceRegistrar, srv SensorHubServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc is the grpc.ServiceDesc for the SensorHub service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SensorHubServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListZones",
			Handler: unaryHandler(ListZonesMethod, func(srv SensorHubServer, ctx context.Context, in *emptypb.Empty) (any, error) {
				return srv.ListZones(ctx, in)
			}),
		},
		{
			MethodName: "ListActivities",
			Handler: unaryHandler(ListActivitiesMethod, func(srv SensorHubServer, ctx context.Context, in *structpb.Struct) (any, error) {
				return srv.ListActivities(ctx, in)
			}),
		},
		{
			MethodName: "GetLatestActivity",
			Handler: unaryHandler(GetLatestActivityMethod, func(srv SensorHubServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
				return srv.GetLatestActivity(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "agrosensorhub/v1/sensor_hub.proto",
}

// unaryHandler adapts a typed method to grpc.MethodHandler.
func unaryHandler[Req any](fullMethod string, call func(SensorHubServer, context.Context, *Req) (any, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SensorHubServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SensorHubServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// SensorHubClient is the client API for the SensorHub service.
type SensorHubClient interface {
	ListZones(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error)
	ListActivities(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.ListValue, error)
	GetLatestActivity(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type sensorHubClient struct {
	cc grpc.ClientConnInterface
}

// NewSensorHubClient creates a client over cc.
func NewSensorHubClient(cc grpc.ClientConnInterface) SensorHubClient {
	return &sensorHubClient{cc: cc}
}

func (c *sensorHubClient) ListZones(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, ListZonesMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sensorHubClient) ListActivities(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, ListActivitiesMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sensorHubClient) GetLatestActivity(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetLatestActivityMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeList converts a JSON-serializable slice into a ListValue.
func EncodeList(v any) (*structpb.ListValue, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal list: %w", err)
	}
	out := &structpb.ListValue{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("failed to build list value: %w", err)
	}
	return out, nil
}

// EncodeStruct converts a JSON-serializable object into a Struct.
func EncodeStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal struct: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("failed to build struct: %w", err)
	}
	return out, nil
}

// DecodeList unmarshals a ListValue into v, a pointer to a slice.
func DecodeList(l *structpb.ListValue, v any) error {
	raw, err := protojson.Marshal(l)
	if err != nil {
		return fmt.Errorf("failed to marshal list value: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode list: %w", err)
	}
	return nil
}

// DecodeStruct unmarshals a Struct into v.
func DecodeStruct(s *structpb.Struct, v any) error {
	raw, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal struct: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode struct: %w", err)
	}
	return nil
}
