package scan

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// PacingConfig describes the artificial delays inserted between probe
// attempts to stay inside third-party rate budgets.
type PacingConfig struct {
	BaseDelay       time.Duration
	Jitter          time.Duration
	BurstSize       int
	BurstRest       time.Duration
	BurstRestJitter time.Duration
	RandomGenerator *rand.Rand
}

func (configuration PacingConfig) enabled() bool {
	return configuration.BaseDelay > 0 || configuration.BurstSize > 0
}

type probePacer struct {
	baseDelay       time.Duration
	jitter          time.Duration
	burstSize       int
	burstRest       time.Duration
	burstRestJitter time.Duration

	randomGenerator *rand.Rand
	mutex           sync.Mutex
	processed       int
}

func newProbePacer(configuration PacingConfig) *probePacer {
	baseDelay := configuration.BaseDelay
	if baseDelay < 0 {
		baseDelay = 0
	}
	burstRest := configuration.BurstRest
	if burstRest < 0 {
		burstRest = 0
	}
	randomGenerator := configuration.RandomGenerator
	if randomGenerator == nil {
		randomGenerator = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &probePacer{
		baseDelay:       baseDelay,
		jitter:          configuration.Jitter,
		burstSize:       configuration.BurstSize,
		burstRest:       burstRest,
		burstRestJitter: configuration.BurstRestJitter,
		randomGenerator: randomGenerator,
	}
}

// NextWaits returns the delay before the next probe and an additional rest
// duration that applies when a burst boundary is crossed.
func (pacer *probePacer) NextWaits() (time.Duration, time.Duration) {
	pacer.mutex.Lock()
	defer pacer.mutex.Unlock()

	pacer.processed++

	delayDuration := pacer.sampleDuration(pacer.baseDelay, pacer.jitter)
	var restDuration time.Duration
	if pacer.burstSize > 0 && pacer.processed%pacer.burstSize == 0 {
		restDuration = pacer.sampleDuration(pacer.burstRest, pacer.burstRestJitter)
	}
	return delayDuration, restDuration
}

func (pacer *probePacer) sampleDuration(baseDuration time.Duration, jitter time.Duration) time.Duration {
	if baseDuration < 0 {
		baseDuration = 0
	}
	if jitter <= 0 {
		return baseDuration
	}

	offset := (pacer.randomGenerator.Float64()*2 - 1) * float64(jitter)
	sampled := time.Duration(float64(baseDuration) + offset)
	if sampled < 0 {
		return 0
	}
	return sampled
}

func waitForDuration(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
