package frontend

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"agrosensorhub.dev/hub/pkg/hubrpc"
	"agrosensorhub.dev/hub/pkg/metrics"
)

const (
	breakerName     = "sensor-hub"
	breakerFailures = 5
	breakerTimeout  = 30 * time.Second
	callTimeout     = 5 * time.Second
)

// errNotFound is returned when the backend has no data for the request.
var errNotFound = errors.New("not found")

// hubClient calls the backend SensorHub service through a circuit breaker.
type hubClient struct {
	logger  *slog.Logger
	rpc     hubrpc.SensorHubClient
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.FrontendMetrics
}

func newHubClient(logger *slog.Logger, rpc hubrpc.SensorHubClient, m *metrics.FrontendMetrics) *hubClient {
	c := &hubClient{
		logger:  logger,
		rpc:     rpc,
		metrics: m,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    breakerName,
		Timeout: breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		// An empty result is an answer, not a backend failure.
		IsSuccessful: func(err error) bool {
			return err == nil || status.Code(err) == codes.NotFound
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			if c.metrics != nil {
				c.metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return c
}

// call runs fn through the breaker and records the outcome.
func (c *hubClient) call(ctx context.Context, method string, fn func(ctx context.Context) (any, error)) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var timer *prometheus.Timer
	if c.metrics != nil {
		timer = prometheus.NewTimer(c.metrics.GRPCClientDuration.WithLabelValues(method))
	}

	out, err := c.breaker.Execute(func() (any, error) {
		return fn(ctx)
	})

	if c.metrics != nil {
		timer.ObserveDuration()
		result := "success"
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			result = "rejected"
		case err != nil:
			result = "error"
		}
		c.metrics.GRPCClientCalls.WithLabelValues(method, result).Inc()
	}

	if status.Code(err) == codes.NotFound {
		return nil, errNotFound
	}
	return out, err
}

func (c *hubClient) zones(ctx context.Context) ([]hubrpc.Zone, error) {
	out, err := c.call(ctx, "ListZones", func(ctx context.Context) (any, error) {
		return c.rpc.ListZones(ctx, &emptypb.Empty{})
	})
	if err != nil {
		return nil, err
	}

	var zones []hubrpc.Zone
	if err := hubrpc.DecodeList(out.(*structpb.ListValue), &zones); err != nil {
		return nil, err
	}
	return zones, nil
}

func (c *hubClient) activities(ctx context.Context, skip, limit int) ([]hubrpc.Activity, error) {
	out, err := c.call(ctx, "ListActivities", func(ctx context.Context) (any, error) {
		return c.rpc.ListActivities(ctx, hubrpc.PageRequest(skip, limit))
	})
	if err != nil {
		return nil, err
	}

	var activities []hubrpc.Activity
	if err := hubrpc.DecodeList(out.(*structpb.ListValue), &activities); err != nil {
		return nil, err
	}
	return activities, nil
}

func (c *hubClient) latest(ctx context.Context, mac string) (*hubrpc.Activity, error) {
	out, err := c.call(ctx, "GetLatestActivity", func(ctx context.Context) (any, error) {
		return c.rpc.GetLatestActivity(ctx, wrapperspb.String(mac))
	})
	if err != nil {
		return nil, err
	}

	var activity hubrpc.Activity
	if err := hubrpc.DecodeStruct(out.(*structpb.Struct), &activity); err != nil {
		return nil, err
	}
	return &activity, nil
}

// unavailable reports whether err means the breaker refused the call.
func unavailable(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
