// Package metrics provides Prometheus metrics for kelvinfs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every kelvinfs metric name.
const Namespace = "kelvinfs"

var (
	// BuildInfo carries the build version as labels on a constant gauge.
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "build_info",
		Help:      "Build information (constant 1, labeled with version and Go version).",
	}, []string{"version", "go_version"})

	// ConnectionsActive is the number of currently active connections.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "connections_active",
		Help:      "Number of active remote connections.",
	})

	// ConnectionsPending is the number of in-flight connection creations.
	ConnectionsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "connections_pending",
		Help:      "Number of connection creations currently in flight.",
	})

	// ConnectionsCreatedTotal counts successful connection creations.
	ConnectionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "connections_created_total",
		Help:      "Total number of connections successfully created.",
	})

	// ConnectionsClosedTotal counts closed connections by close reason.
	ConnectionsClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "connections_closed_total",
		Help:      "Total number of connections closed, by reason.",
	}, []string{"reason"})

	// CommandLinesTotal counts protocol lines seen on command channels.
	CommandLinesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "command_channel_lines_total",
		Help:      "Total number of protocol lines handled on command channels, by kind.",
	}, []string{"kind"})
)

// SetBuildInfo records the build version labels.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}
