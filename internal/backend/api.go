package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"agrosensorhub.dev/hub/pkg/metrics"
	"agrosensorhub.dev/hub/pkg/telemetry"
)

// DefaultAPIPrefix is the versioned prefix every API route lives under.
const DefaultAPIPrefix = "/agro-sensor-hub/api/v1"

// APIConfig holds the configuration for the HTTP API.
type APIConfig struct {
	Logger           *slog.Logger
	Devices          *DeviceService
	SensorActivities *SensorActivityService
	Notifications    *NotificationService
	Metrics          *metrics.BackendMetrics // Optional metrics
	Prefix           string
	AllowedOrigins   []string
	// Now defaults to time.Now. It stamps health responses and export filenames.
	Now func() time.Time
}

// API is the gin-based HTTP interface of the backend.
type API struct {
	logger           *slog.Logger
	engine           *gin.Engine
	devices          *DeviceService
	sensorActivities *SensorActivityService
	notifications    *NotificationService
	metrics          *metrics.BackendMetrics
	now              func() time.Time
}

// NewAPI creates the router and registers every route.
func NewAPI(cfg *APIConfig) (*API, error) {
	if cfg == nil {
		return nil, errors.New("api config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Devices == nil || cfg.SensorActivities == nil || cfg.Notifications == nil {
		return nil, errors.New("services cannot be nil")
	}

	if err := registerBindingValidations(); err != nil {
		return nil, err
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultAPIPrefix
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	a := &API{
		logger:           cfg.Logger,
		engine:           engine,
		devices:          cfg.Devices,
		sensorActivities: cfg.SensorActivities,
		notifications:    cfg.Notifications,
		metrics:          cfg.Metrics,
		now:              now,
	}

	engine.Use(gin.CustomRecovery(a.recover), requestID(), a.accessLog())
	if a.metrics != nil {
		engine.Use(a.instrument())
	}
	if len(cfg.AllowedOrigins) > 0 {
		engine.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch},
			AllowHeaders:     []string{"Content-Type", requestIDHeader},
			ExposeHeaders:    []string{"Content-Disposition", requestIDHeader},
			AllowCredentials: true,
		}))
	}

	engine.GET("/health", a.health)
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := engine.Group(prefix)
	api.GET("/health", a.health)

	devices := api.Group("/devices")
	devices.POST("", a.createDevice)
	devices.PUT("", a.updateDevice)
	devices.GET("", a.listDevices)
	devices.GET("/:mac", a.getDevice)

	activities := api.Group("/sensor-activities")
	activities.POST("", a.createSensorActivity)
	activities.GET("", a.listSensorActivities)
	activities.GET("/:id", a.getSensorActivity)
	activities.GET("/device/:mac/latest", a.latestSensorActivity)
	activities.GET("/all/latest", a.zones)
	activities.GET("/download/last-three-months", a.export(ExportCSV))
	activities.GET("/download/last-three-months.xlsx", a.export(ExportXLSX))
	activities.GET("/download/last-three-months.pdf", a.export(ExportPDF))

	notifications := api.Group("/notifications")
	notifications.POST("", a.createNotification)
	notifications.GET("", a.listNotifications)
	notifications.GET("/unread", a.unreadNotifications)
	notifications.PATCH("/:id/read", a.setNotificationRead)
	notifications.GET("/device/:mac", a.deviceNotifications)

	return a, nil
}

// Handler returns the HTTP handler serving the API.
func (a *API) Handler() http.Handler {
	return a.engine
}

// registerBindingValidations installs the telemetry rules on gin's validator.
func registerBindingValidations() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("unexpected binding validator engine")
	}
	if err := telemetry.RegisterValidations(v); err != nil {
		return fmt.Errorf("failed to register validations: %w", err)
	}
	return nil
}

func (a *API) health(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{Status: "ok", Timestamp: a.now().UTC()})
}

// fail writes err as a {"detail": ...} body with the status for its kind.
func (a *API) fail(c *gin.Context, err error) {
	kind := KindOf(err)
	if kind == KindInternal {
		a.logger.Error("request failed",
			"method", c.Request.Method,
			"route", c.FullPath(),
			"request_id", c.GetString(requestIDKey),
			"error", err,
		)
	}

	body := gin.H{"detail": PublicMessage(err)}
	var classified *Error
	if errors.As(err, &classified) && len(classified.Fields) > 0 {
		body["errors"] = classified.Fields
	}
	c.AbortWithStatusJSON(statusFor(kind), body)
}

func statusFor(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindConflict:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// bindingError converts a gin binding failure into a validation error.
func bindingError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
		}
		return NewValidationError("Validation error", fields...)
	}
	return NewValidationError("Validation error", FieldError{Field: "body", Message: err.Error()})
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field required"
	case "macaddr":
		return "must be a MAC address in format XX:XX:XX:XX:XX:XX"
	case "min":
		return "must have at least " + fe.Param() + " characters"
	case "max":
		return "must have at most " + fe.Param() + " characters"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	default:
		return "failed on the '" + fe.Tag() + "' rule"
	}
}
