// Package metrics exposes the prometheus counters every stage binary
// registers for its debug HTTP surface.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Stage bundles the per-component counters one worker process registers.
// Nothing in the stage runtime or the router increments them, so they
// are exported at zero.
type Stage struct {
	BatchesReceived prometheus.Counter
	BatchesEmitted  prometheus.Counter
	EOFsReceived    prometheus.Counter
	EOFsEmitted     prometheus.Counter
	SessionsFlushed prometheus.Counter
	DecodeErrors    prometheus.Counter
}

// NewStage registers a Stage's counters, labeled by component, on reg.
func NewStage(reg *prometheus.Registry, component string) *Stage {
	s := &Stage{
		BatchesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streampipe_batches_received_total", Help: "Batches consumed by this stage.",
			ConstLabels: prometheus.Labels{"component": component},
		}),
		BatchesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streampipe_batches_emitted_total", Help: "Batches emitted by this stage.",
			ConstLabels: prometheus.Labels{"component": component},
		}),
		EOFsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streampipe_eofs_received_total", Help: "EOF frames consumed by this stage.",
			ConstLabels: prometheus.Labels{"component": component},
		}),
		EOFsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streampipe_eofs_emitted_total", Help: "EOF frames emitted by this stage.",
			ConstLabels: prometheus.Labels{"component": component},
		}),
		SessionsFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streampipe_sessions_flushed_total", Help: "Sessions whose EOF barrier has closed.",
			ConstLabels: prometheus.Labels{"component": component},
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streampipe_decode_errors_total", Help: "Frames that failed to decode.",
			ConstLabels: prometheus.Labels{"component": component},
		}),
	}
	reg.MustRegister(s.BatchesReceived, s.BatchesEmitted, s.EOFsReceived, s.EOFsEmitted, s.SessionsFlushed, s.DecodeErrors)
	return s
}
