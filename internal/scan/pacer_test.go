package scan

import (
	"math/rand"
	"testing"
	"time"
)

func TestProbePacerDelaysWithoutJitter(t *testing.T) {
	pacer := newProbePacer(PacingConfig{BaseDelay: 75 * time.Millisecond})

	for attempt := 0; attempt < 3; attempt++ {
		delayDuration, restDuration := pacer.NextWaits()
		if delayDuration != 75*time.Millisecond {
			t.Fatalf("expected fixed 75ms delay, got %s", delayDuration)
		}
		if restDuration != 0 {
			t.Fatalf("expected no rest without burst configuration, got %s", restDuration)
		}
	}
}

func TestProbePacerJitterStaysWithinBounds(t *testing.T) {
	pacer := newProbePacer(PacingConfig{
		BaseDelay:       50 * time.Millisecond,
		Jitter:          25 * time.Millisecond,
		RandomGenerator: rand.New(rand.NewSource(42)),
	})

	for attempt := 0; attempt < 100; attempt++ {
		delayDuration, _ := pacer.NextWaits()
		if delayDuration < 25*time.Millisecond || delayDuration > 75*time.Millisecond {
			t.Fatalf("expected delay within [25ms, 75ms], got %s", delayDuration)
		}
	}
}

func TestProbePacerRestsAtBurstBoundary(t *testing.T) {
	pacer := newProbePacer(PacingConfig{
		BaseDelay: 10 * time.Millisecond,
		BurstSize: 3,
		BurstRest: 200 * time.Millisecond,
	})

	expectedRests := []time.Duration{0, 0, 200 * time.Millisecond, 0, 0, 200 * time.Millisecond}
	for attempt, expectedRest := range expectedRests {
		_, restDuration := pacer.NextWaits()
		if restDuration != expectedRest {
			t.Fatalf("expected rest %s at attempt %d, got %s", expectedRest, attempt+1, restDuration)
		}
	}
}

func TestPacingConfigEnabled(t *testing.T) {
	if (PacingConfig{}).enabled() {
		t.Fatalf("expected zero configuration to be disabled")
	}
	if !(PacingConfig{BaseDelay: time.Millisecond}).enabled() {
		t.Fatalf("expected base delay to enable pacing")
	}
	if !(PacingConfig{BurstSize: 5, BurstRest: time.Second}).enabled() {
		t.Fatalf("expected burst configuration to enable pacing")
	}
}
