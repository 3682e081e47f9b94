// Package speed maintains a sliding window of per-node global-step
// samples and fires the one-shot auto-scale trigger (spec section
// 4.9).
package speed

import (
	"sync"
	"time"

	"github.com/Ind1x1/dlock/pkg/log"
	"github.com/rs/zerolog"
)

// Sample is one (global_step, timestamp, elapsed_per_step) report from
// a node.
type Sample struct {
	NodeID         int64
	GlobalStep     int64
	Timestamp      int64
	ElapsedPerStep float64
}

// AutoScaler is the one method the aggregator calls once its trigger
// conditions are met. The Job Manager implements it; this package only
// depends on the method, not the concrete type, to avoid an import
// cycle (spec section 9, cyclic reference redesign).
type AutoScaler interface {
	StartAutoScaling()
}

// Aggregator accumulates samples and decides when to auto-scale.
type Aggregator struct {
	mu      sync.Mutex
	samples []Sample

	sampleCountToAdjust    int
	secondsToAutoscale     time.Duration
	trainingStart          time.Time
	completedGlobalStep    int64
	triggered              bool

	scaler AutoScaler
	logger zerolog.Logger
}

// NewAggregator builds an Aggregator. sampleCountToAdjust and
// secondsToAutoscale are the two independent trigger thresholds (spec
// section 4.9); trainingStart anchors the elapsed-time threshold.
func NewAggregator(sampleCountToAdjust int, secondsToAutoscale time.Duration, trainingStart time.Time, scaler AutoScaler) *Aggregator {
	return &Aggregator{
		sampleCountToAdjust: sampleCountToAdjust,
		secondsToAutoscale:  secondsToAutoscale,
		trainingStart:       trainingStart,
		scaler:              scaler,
		logger:              log.WithComponent("speed_aggregator"),
	}
}

// Report records a sample and checks both trigger conditions. Trigger
// (a): sample count has reached the configured threshold. Trigger (b):
// elapsed time since training start exceeds the configured threshold
// while completed_global_step is still zero (a non-training job that
// never advances). Auto-scale fires at most once.
func (a *Aggregator) Report(s Sample) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.samples = append(a.samples, s)
	if s.GlobalStep > a.completedGlobalStep {
		a.completedGlobalStep = s.GlobalStep
	}

	if a.triggered {
		return
	}

	triggerByCount := a.sampleCountToAdjust > 0 && len(a.samples) >= a.sampleCountToAdjust
	triggerByIdleTime := a.completedGlobalStep == 0 &&
		a.secondsToAutoscale > 0 &&
		!a.trainingStart.IsZero() &&
		time.Since(a.trainingStart) > a.secondsToAutoscale

	if triggerByCount || triggerByIdleTime {
		a.triggered = true
		a.logger.Info().
			Bool("by_sample_count", triggerByCount).
			Bool("by_idle_time", triggerByIdleTime).
			Msg("auto-scale trigger fired")
		if a.scaler != nil {
			a.scaler.StartAutoScaling()
		}
	}
}

// Triggered reports whether the one-shot auto-scale latch has fired.
func (a *Aggregator) Triggered() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.triggered
}

// SampleCount returns the number of samples recorded so far.
func (a *Aggregator) SampleCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.samples)
}
