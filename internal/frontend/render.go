package frontend

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"agrosensorhub.dev/hub/pkg/hubrpc"
	"agrosensorhub.dev/hub/pkg/metrics"
)

func renderZones(ctx context.Context, w http.ResponseWriter, zones []hubrpc.Zone, now time.Time, m *metrics.FrontendMetrics) error {
	return trackTemplateRender(m, "zones", func() error {
		return page("Zonas", zonesView(zones, now)).Render(ctx, w)
	})
}

func renderZone(ctx context.Context, w http.ResponseWriter, activity *hubrpc.Activity, m *metrics.FrontendMetrics) error {
	return trackTemplateRender(m, "zone", func() error {
		return page(activity.DeviceID, zoneView(activity)).Render(ctx, w)
	})
}

func renderHistory(ctx context.Context, w http.ResponseWriter, activities []hubrpc.Activity, pageNumber int, hasNext bool, m *metrics.FrontendMetrics) error {
	return trackTemplateRender(m, "history", func() error {
		return page("Historial", historyView(activities, pageNumber, hasNext)).Render(ctx, w)
	})
}

// trackTemplateRender wraps template rendering with metrics tracking.
func trackTemplateRender(m *metrics.FrontendMetrics, templateName string, renderFunc func() error) error {
	if m == nil {
		return renderFunc()
	}

	timer := prometheus.NewTimer(m.TemplateRenderTime.WithLabelValues(templateName))
	defer timer.ObserveDuration()

	if err := renderFunc(); err != nil {
		m.TemplateRenderErrors.WithLabelValues(templateName).Inc()
		return err
	}
	return nil
}
