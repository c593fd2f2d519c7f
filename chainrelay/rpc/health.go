package rpc

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whiteflag/relay/chainrelay/chainerr"
)

// SimpleHealthTracker implements HealthTracker with a consecutive-failure
// circuit breaker: failureThreshold consecutive failures opens the circuit,
// successThreshold consecutive successes closes it again. RecordFailure
// weighs failures by chainerr classification rather than treating every
// error as an equal health signal: a NonRetryable error (a malformed
// request the node correctly rejected) says nothing about the endpoint's
// own health and is not counted; a Fatal error opens the circuit
// immediately instead of waiting out failureThreshold.
type SimpleHealthTracker struct {
	mu     sync.RWMutex
	health map[string]*EndpointHealth
	log    *zap.Logger

	failureThreshold  int
	successThreshold  int
	circuitOpenWindow time.Duration
}

// NewSimpleHealthTracker builds a tracker with default thresholds. log may
// be nil.
func NewSimpleHealthTracker(log *zap.Logger) *SimpleHealthTracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &SimpleHealthTracker{
		health:            make(map[string]*EndpointHealth),
		log:               log,
		failureThreshold:  3,
		successThreshold:  2,
		circuitOpenWindow: 30 * time.Second,
	}
}

func (t *SimpleHealthTracker) RecordSuccess(endpoint string, durationMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.getOrCreate(endpoint)
	h.TotalCalls++
	h.SuccessfulCalls++
	h.LastSuccess = time.Now().Unix()

	if h.AvgLatencyMs == 0 {
		h.AvgLatencyMs = durationMs
	} else {
		h.AvgLatencyMs = (h.AvgLatencyMs*9 + durationMs) / 10
	}

	if h.CircuitOpen {
		consecutiveSuccesses := h.SuccessfulCalls - h.FailedCalls
		if consecutiveSuccesses >= int64(t.successThreshold) {
			h.CircuitOpen = false
		}
	}
}

func (t *SimpleHealthTracker) RecordFailure(endpoint string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.getOrCreate(endpoint)
	h.TotalCalls++
	h.LastFailure = time.Now().Unix()

	if chainerr.IsNonRetryable(err) {
		// the node rejected the request itself (bad params, malformed
		// payload); that says nothing about the endpoint's own health, so
		// it doesn't count toward the circuit breaker.
		return
	}
	h.FailedCalls++

	if chainerr.IsFatal(err) {
		t.log.Warn("rpc endpoint failed fatally, opening circuit", zap.String("endpoint", endpoint), zap.Error(err))
		h.CircuitOpen = true
		return
	}

	consecutiveFailures := h.FailedCalls - h.SuccessfulCalls
	if consecutiveFailures >= int64(t.failureThreshold) {
		if !h.CircuitOpen {
			t.log.Warn("rpc endpoint circuit opened", zap.String("endpoint", endpoint), zap.Int64("consecutiveFailures", consecutiveFailures))
		}
		h.CircuitOpen = true
	}
}

func (t *SimpleHealthTracker) IsHealthy(endpoint string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.health[endpoint]
	if !ok {
		return true
	}
	if h.CircuitOpen {
		sinceFailure := time.Now().Unix() - h.LastFailure
		if sinceFailure < int64(t.circuitOpenWindow.Seconds()) {
			return false
		}
	}
	return true
}

func (t *SimpleHealthTracker) GetBestEndpoint(endpoints []string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var best string
	var bestScore = -1.0

	for _, endpoint := range endpoints {
		if !t.isHealthyLocked(endpoint) {
			continue
		}
		h, ok := t.health[endpoint]
		if !ok {
			return endpoint
		}
		successRate := float64(h.SuccessfulCalls) / float64(h.TotalCalls)
		latencyFactor := 1.0 / (float64(h.AvgLatencyMs) + 1.0)
		score := successRate*0.7 + latencyFactor*0.3
		if score > bestScore {
			bestScore = score
			best = endpoint
		}
	}

	if best == "" && len(endpoints) > 0 {
		return endpoints[0]
	}
	return best
}

func (t *SimpleHealthTracker) isHealthyLocked(endpoint string) bool {
	h, ok := t.health[endpoint]
	if !ok {
		return true
	}
	if h.CircuitOpen {
		sinceFailure := time.Now().Unix() - h.LastFailure
		return sinceFailure >= int64(t.circuitOpenWindow.Seconds())
	}
	return true
}

func (t *SimpleHealthTracker) Reset(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.health, endpoint)
}

// Snapshot returns a copy of an endpoint's health for metrics reporting.
func (t *SimpleHealthTracker) Snapshot(endpoint string) EndpointHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.health[endpoint]
	if !ok {
		return EndpointHealth{Endpoint: endpoint}
	}
	return *h
}

func (t *SimpleHealthTracker) getOrCreate(endpoint string) *EndpointHealth {
	h, ok := t.health[endpoint]
	if !ok {
		h = &EndpointHealth{Endpoint: endpoint}
		t.health[endpoint] = h
	}
	return h
}
