package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Rotation metrics
	rotationStartedTotal   *prometheus.CounterVec
	rotationCompletedTotal *prometheus.CounterVec
	rotationStepDuration   *prometheus.HistogramVec

	// Propagation metrics
	propagationPairsTotal *prometheus.CounterVec

	// Deletion workflow metrics
	workflowTransitionsTotal *prometheus.CounterVec

	// Registration guard
	metricsOnce       sync.Once
	metricsRegistered bool
)

// Recorder records rotation, propagation and workflow events. Metrics are
// no-ops until Init is called, so library users who never enable the
// Prometheus endpoint pay nothing.
type Recorder struct{}

// NewRecorder creates a Recorder. Call Init once at startup to register
// the underlying collectors.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Init registers all Prometheus collectors. Safe to call more than once.
func Init() {
	metricsOnce.Do(func() {
		rotationStartedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credrotate_rotation_started_total",
				Help: "Total number of rotation runs started",
			},
			[]string{"credential"},
		)

		rotationCompletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credrotate_rotation_completed_total",
				Help: "Total number of rotation runs completed",
			},
			[]string{"credential", "status"},
		)

		rotationStepDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credrotate_rotation_step_duration_seconds",
				Help:    "Duration of individual rotation steps in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"credential", "step"},
		)

		propagationPairsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credrotate_propagation_pairs_total",
				Help: "Total number of source/destination pairs processed",
			},
			[]string{"source_type", "destination_type", "status"},
		)

		workflowTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credrotate_workflow_transitions_total",
				Help: "Total number of deletion workflow state transitions",
			},
			[]string{"state"},
		)

		metricsRegistered = true
	})
}

// RecordRotationStarted records the start of a rotation run.
func (r *Recorder) RecordRotationStarted(credential string) {
	if !metricsRegistered || rotationStartedTotal == nil {
		return
	}
	rotationStartedTotal.WithLabelValues(credential).Inc()
}

// RecordRotationCompleted records the terminal status of a rotation run.
func (r *Recorder) RecordRotationCompleted(credential, status string) {
	if !metricsRegistered || rotationCompletedTotal == nil {
		return
	}
	rotationCompletedTotal.WithLabelValues(credential, status).Inc()
}

// RecordRotationStep records the duration of one rotation step.
func (r *Recorder) RecordRotationStep(credential, step string, durationSeconds float64) {
	if !metricsRegistered || rotationStepDuration == nil {
		return
	}
	rotationStepDuration.WithLabelValues(credential, step).Observe(durationSeconds)
}

// RecordPropagationPair records the outcome of one source/destination pair.
func (r *Recorder) RecordPropagationPair(sourceType, destinationType, status string) {
	if !metricsRegistered || propagationPairsTotal == nil {
		return
	}
	propagationPairsTotal.WithLabelValues(sourceType, destinationType, status).Inc()
}

// RecordWorkflowTransition records a deletion workflow entering a state.
func (r *Recorder) RecordWorkflowTransition(state string) {
	if !metricsRegistered || workflowTransitionsTotal == nil {
		return
	}
	workflowTransitionsTotal.WithLabelValues(state).Inc()
}
