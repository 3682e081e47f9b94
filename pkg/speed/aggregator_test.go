package speed

import (
	"testing"
	"time"
)

type fakeScaler struct {
	calls int
}

func (f *fakeScaler) StartAutoScaling() { f.calls++ }

func TestTriggerBySampleCount(t *testing.T) {
	scaler := &fakeScaler{}
	a := NewAggregator(3, time.Hour, time.Now(), scaler)

	a.Report(Sample{NodeID: 1, GlobalStep: 1})
	if a.Triggered() {
		t.Fatal("must not trigger before sample_count_to_adjust_worker is reached")
	}
	a.Report(Sample{NodeID: 1, GlobalStep: 2})
	a.Report(Sample{NodeID: 1, GlobalStep: 3})

	if !a.Triggered() {
		t.Fatal("must trigger once sample count reaches the threshold")
	}
	if scaler.calls != 1 {
		t.Fatalf("StartAutoScaling called %d times, want 1", scaler.calls)
	}
}

func TestTriggerIsOneShot(t *testing.T) {
	scaler := &fakeScaler{}
	a := NewAggregator(1, time.Hour, time.Now(), scaler)

	a.Report(Sample{NodeID: 1, GlobalStep: 1})
	a.Report(Sample{NodeID: 1, GlobalStep: 2})
	a.Report(Sample{NodeID: 1, GlobalStep: 3})

	if scaler.calls != 1 {
		t.Fatalf("StartAutoScaling called %d times, want exactly 1 (one-shot latch)", scaler.calls)
	}
}

func TestTriggerByIdleTimeWithoutProgress(t *testing.T) {
	scaler := &fakeScaler{}
	start := time.Now().Add(-time.Hour)
	a := NewAggregator(1000, time.Minute, start, scaler)

	// GlobalStep stays zero: a non-training job that never advances.
	a.Report(Sample{NodeID: 1, GlobalStep: 0})

	if !a.Triggered() {
		t.Fatal("must trigger on idle-time threshold when completed_global_step is still zero")
	}
}

func TestNoTriggerWhenProgressing(t *testing.T) {
	scaler := &fakeScaler{}
	start := time.Now().Add(-time.Hour)
	a := NewAggregator(1000, time.Minute, start, scaler)

	a.Report(Sample{NodeID: 1, GlobalStep: 5})

	if a.Triggered() {
		t.Fatal("must not trigger on idle-time threshold once global_step has advanced")
	}
}
