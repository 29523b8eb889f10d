// Package metrics holds the Prometheus collectors of every hub service and the
// registry they are exposed from.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is shared by all services of the process.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves Registry in the Prometheus and OpenMetrics formats.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		Registry:          Registry,
		EnableOpenMetrics: true,
	})
}

// MustRegister registers collectors with Registry. It panics if a collector
// is already registered.
func MustRegister(collectors ...prometheus.Collector) {
	Registry.MustRegister(collectors...)
}

// RegisterBuildInfo exports a constant 1 labeled with the running service
// and release, e.g. agro_sensor_hub_build_info{service="backend",version="1.0.0"}.
func RegisterBuildInfo(namespace, service, version string) {
	MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "build_info",
			Help:        "Build information of the running service",
			ConstLabels: prometheus.Labels{"service": service, "version": version},
		},
		func() float64 { return 1 },
	))
}
