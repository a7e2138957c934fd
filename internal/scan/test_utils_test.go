package scan_test

import (
	"context"
	"sync"
	"time"

	"github.com/StraySignal/fediverse-radar/internal/scan"
)

const (
	addressAlice   = "alice@example.social"
	addressBob     = "bob@example.social"
	addressCarol   = "carol@example.social"
	addressDave    = "dave@example.social"
	addressBridged = "erin@bsky.brid.gy"

	derivedAlice = "alice.example.social.ap.brid.gy"
	derivedBob   = "bob.example.social.ap.brid.gy"
	derivedCarol = "carol.example.social.ap.brid.gy"
	derivedDave  = "dave.example.social.ap.brid.gy"
)

// proberStub replays queued results per identifier and falls back to a
// default state, recording every call it receives.
type proberStub struct {
	mutex         sync.Mutex
	calls         []string
	queuedResults map[string][]scan.ExistenceResult
	defaultState  scan.ExistenceState
	probeDelay    time.Duration
	observer      func(identifier string)
}

func (stub *proberStub) Probe(_ context.Context, identifier string) scan.ExistenceResult {
	stub.mutex.Lock()
	stub.calls = append(stub.calls, identifier)
	result, replayed := stub.nextQueuedLocked(identifier)
	observer := stub.observer
	stub.mutex.Unlock()

	if observer != nil {
		observer(identifier)
	}
	if stub.probeDelay > 0 {
		time.Sleep(stub.probeDelay)
	}
	if replayed {
		return result
	}

	state := stub.defaultState
	if state == "" {
		state = scan.StateExists
	}
	return scan.ExistenceResult{Identifier: identifier, State: state}
}

func (stub *proberStub) nextQueuedLocked(identifier string) (scan.ExistenceResult, bool) {
	queued, exists := stub.queuedResults[identifier]
	if !exists || len(queued) == 0 {
		return scan.ExistenceResult{}, false
	}
	stub.queuedResults[identifier] = queued[1:]
	return queued[0], true
}

func (stub *proberStub) callCount(identifier string) int {
	stub.mutex.Lock()
	defer stub.mutex.Unlock()

	count := 0
	for _, called := range stub.calls {
		if called == identifier {
			count++
		}
	}
	return count
}

func (stub *proberStub) recordedCalls() []string {
	stub.mutex.Lock()
	defer stub.mutex.Unlock()
	return append([]string{}, stub.calls...)
}

// rotatorStub counts rotation requests and cycles through instance names.
type rotatorStub struct {
	mutex     sync.Mutex
	rotations int
}

func (stub *rotatorStub) RotateInstance() string {
	stub.mutex.Lock()
	defer stub.mutex.Unlock()
	stub.rotations++
	return "alternate.instance"
}

func (stub *rotatorStub) rotationCount() int {
	stub.mutex.Lock()
	defer stub.mutex.Unlock()
	return stub.rotations
}
