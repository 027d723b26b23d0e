package worldmap

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	axisLabel = "axis"
	kindLabel = "kind"
)

var (
	worldmapElements = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "worldmap_elements",
		Help: "The number of registered elements.",
	})

	worldmapLines = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "worldmap_lines",
		Help: "The number of non-sentinel lines per axis.",
	}, []string{axisLabel})

	worldmapAreas = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "worldmap_areas",
		Help: "The number of open areas.",
	})

	worldmapAreaNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worldmap_area_notifications_total",
		Help: "The number of area events emitted.",
	}, []string{kindLabel})

	worldmapResizeScannedLines = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "worldmap_resize_scanned_lines",
		Help:    "The number of lines scanned by an area resize.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})
)

func instrumentElements(delta float64) {
	worldmapElements.Add(delta)
}

func instrumentLines(axis string, delta float64) {
	worldmapLines.
		With(prometheus.Labels{axisLabel: axis}).
		Add(delta)
}

func instrumentAreas(delta float64) {
	worldmapAreas.Add(delta)
}

func instrumentNotification(k Kind) {
	worldmapAreaNotifications.
		With(prometheus.Labels{kindLabel: k.String()}).
		Inc()
}

func instrumentScannedLines(n int) {
	worldmapResizeScannedLines.Observe(float64(n))
}
