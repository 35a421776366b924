// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesPresented counts frames handed to the preview controller.
	FramesPresented = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camview_frames_presented_total",
		Help: "Frames handed to the preview controller",
	})

	// FramesDropped counts frames superseded before the display picked them up.
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camview_frames_dropped_total",
		Help: "Frames released without being rendered because a newer frame arrived",
	})

	// BuffersReleased counts leases returned to the capture device.
	BuffersReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camview_buffers_released_total",
		Help: "Capture buffers returned to the device",
	})

	// LeasesAbandoned counts leases discarded by a device restart.
	LeasesAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camview_leases_abandoned_total",
		Help: "Outstanding leases abandoned by a device restart",
	})

	// DeviceRestarts counts stop/start cycles after a device timeout.
	DeviceRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camview_device_restarts_total",
		Help: "Device restarts after a capture timeout, by result",
	}, []string{"result"})

	// BackendImports counts backend resources created for buffer ids.
	BackendImports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camview_backend_imports_total",
		Help: "Backend resources imported for capture buffers, by backend and result",
	}, []string{"backend", "result"})

	// RenderDuration tracks time spent inside backend Render.
	RenderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "camview_render_duration_seconds",
		Help:    "Time spent rendering one frame, including display-link waits",
		Buckets: []float64{0.001, 0.004, 0.008, 0.016, 0.033, 0.066, 0.1, 0.25, 0.5},
	}, []string{"backend"})

	// PipelineState is 1 for the current state and 0 for all others.
	PipelineState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "camview_pipeline_state",
		Help: "Current capture pipeline state",
	}, []string{"state"})

	// RemoteClients tracks connected remote preview clients.
	RemoteClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "camview_remote_clients",
		Help: "Connected remote preview clients, by transport",
	}, []string{"transport"})
)

// SetState marks state as current among all known states.
func SetState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		PipelineState.WithLabelValues(s).Set(v)
	}
}

// IncRestart records a device restart outcome.
func IncRestart(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	DeviceRestarts.WithLabelValues(result).Inc()
}

// IncImport records a backend import outcome.
func IncImport(backend string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	BackendImports.WithLabelValues(backend, result).Inc()
}

// ObserveRender records a render duration.
func ObserveRender(backend string, d time.Duration) {
	RenderDuration.WithLabelValues(backend).Observe(d.Seconds())
}
