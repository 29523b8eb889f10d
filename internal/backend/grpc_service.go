package backend

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"agrosensorhub.dev/hub/pkg/hubrpc"
	"agrosensorhub.dev/hub/pkg/metrics"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// SensorHubService implements the SensorHub gRPC service over the sensor
// activity service.
type SensorHubService struct {
	logger           *slog.Logger
	sensorActivities *SensorActivityService
	metrics          *metrics.BackendMetrics // Optional metrics
}

var _ hubrpc.SensorHubServer = (*SensorHubService)(nil)

// NewSensorHubService creates a new SensorHubService instance.
func NewSensorHubService(logger *slog.Logger, sensorActivities *SensorActivityService, m *metrics.BackendMetrics) (*SensorHubService, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if sensorActivities == nil {
		return nil, errors.New("sensor activity service cannot be nil")
	}

	return &SensorHubService{
		logger:           logger,
		sensorActivities: sensorActivities,
		metrics:          m,
	}, nil
}

// observe starts timing method. The returned func records the outcome.
func (s *SensorHubService) observe(method string) func(err error) {
	var timer *prometheus.Timer
	if s.metrics != nil {
		timer = prometheus.NewTimer(s.metrics.GRPCRequestDuration.WithLabelValues(method))
	}
	return func(err error) {
		if s.metrics == nil {
			return
		}
		timer.ObserveDuration()
		result := "success"
		if err != nil {
			result = "error"
		}
		s.metrics.GRPCRequestsTotal.WithLabelValues(method, result).Inc()
	}
}

// ListZones returns the zone summary of every device with readings.
func (s *SensorHubService) ListZones(ctx context.Context, _ *emptypb.Empty) (_ *structpb.ListValue, err error) {
	done := s.observe("ListZones")
	defer func() { done(err) }()

	zones, err := s.sensorActivities.Zones(ctx)
	if err != nil {
		return nil, s.toStatus("ListZones", err)
	}

	out, err := hubrpc.EncodeList(zones)
	if err != nil {
		s.logger.Error("failed to encode zones", "error", err)
		return nil, status.Error(codes.Internal, "failed to encode zones")
	}

	s.logger.Debug("listed zones", "count", len(zones))
	return out, nil
}

// ListActivities returns a page of readings, newest first.
func (s *SensorHubService) ListActivities(ctx context.Context, req *structpb.Struct) (_ *structpb.ListValue, err error) {
	done := s.observe("ListActivities")
	defer func() { done(err) }()

	skip, limit, err := pageFromStruct(req)
	if err != nil {
		return nil, err
	}

	activities, err := s.sensorActivities.List(ctx, ActivityFilter{Skip: skip, Limit: limit})
	if err != nil {
		return nil, s.toStatus("ListActivities", err)
	}

	out, err := hubrpc.EncodeList(activityResponses(activities))
	if err != nil {
		s.logger.Error("failed to encode sensor activities", "error", err)
		return nil, status.Error(codes.Internal, "failed to encode sensor activities")
	}
	return out, nil
}

// GetLatestActivity returns the newest reading of the requested device.
func (s *SensorHubService) GetLatestActivity(ctx context.Context, req *wrapperspb.StringValue) (_ *structpb.Struct, err error) {
	done := s.observe("GetLatestActivity")
	defer func() { done(err) }()

	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "mac_address cannot be empty")
	}

	activity, err := s.sensorActivities.LatestByMAC(ctx, req.GetValue())
	if err != nil {
		return nil, s.toStatus("GetLatestActivity", err)
	}

	out, err := hubrpc.EncodeStruct(newSensorActivityResponse(activity))
	if err != nil {
		s.logger.Error("failed to encode sensor activity", "error", err)
		return nil, status.Error(codes.Internal, "failed to encode sensor activity")
	}
	return out, nil
}

// pageFromStruct reads "skip" and "limit" from req, applying the HTTP defaults.
func pageFromStruct(req *structpb.Struct) (skip, limit int, err error) {
	skip, limit = 0, defaultPageLimit
	fields := req.GetFields()

	if v, ok := fields["skip"]; ok {
		skip = int(v.GetNumberValue())
	}
	if v, ok := fields["limit"]; ok {
		limit = int(v.GetNumberValue())
	}

	if skip < 0 {
		return 0, 0, status.Error(codes.InvalidArgument, "skip must be greater than or equal to 0")
	}
	if limit < 1 || limit > maxPageLimit {
		return 0, 0, status.Errorf(codes.InvalidArgument, "limit must be between 1 and %d", maxPageLimit)
	}
	return skip, limit, nil
}

// toStatus maps a domain error onto a gRPC status.
func (s *SensorHubService) toStatus(method string, err error) error {
	switch KindOf(err) {
	case KindNotFound:
		return status.Error(codes.NotFound, PublicMessage(err))
	case KindValidation:
		return status.Error(codes.InvalidArgument, PublicMessage(err))
	case KindConflict:
		return status.Error(codes.AlreadyExists, PublicMessage(err))
	default:
		s.logger.Error("grpc request failed", "method", method, "error", err)
		return status.Error(codes.Internal, PublicMessage(err))
	}
}
