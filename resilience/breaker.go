// Package resilience isolates failing upstream hosts behind circuit breakers.
package resilience

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"

	"github.com/willibrandon/composer-prefetch/observability"
)

// ErrCircuitOpen is returned when a host's breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// errServerStatus marks a 5xx response as a breaker failure without
// hiding the response from the caller.
var errServerStatus = errors.New("server error status")

// BreakerConfig holds circuit breaker configuration.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before a breaker trips.
	MaxFailures int64

	// InitialBackoff is how long a tripped breaker waits before letting a probe through.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between probes.
	MaxBackoff time.Duration
}

// DefaultBreakerConfig returns default configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:    5,
		InitialBackoff: 30 * time.Second,
		MaxBackoff:     5 * time.Minute,
	}
}

// HostBreakers keeps one breaker per host so a dead mirror does not
// slow down requests to healthy ones.
type HostBreakers struct {
	config   BreakerConfig
	mu       sync.RWMutex
	breakers map[string]*circuit.Breaker
}

// NewHostBreakers creates an empty breaker set.
func NewHostBreakers(config BreakerConfig) *HostBreakers {
	return &HostBreakers{
		config:   config,
		breakers: make(map[string]*circuit.Breaker),
	}
}

func (h *HostBreakers) breaker(host string) *circuit.Breaker {
	h.mu.RLock()
	b, ok := h.breakers[host]
	h.mu.RUnlock()
	if ok {
		return b
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.breakers[host]; ok {
		return b
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = h.config.InitialBackoff
	expBackoff.MaxInterval = h.config.MaxBackoff
	expBackoff.Multiplier = 2.0
	expBackoff.MaxElapsedTime = 0
	expBackoff.Reset()

	b = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ConsecutiveTripFunc(h.config.MaxFailures),
	})
	h.breakers[host] = b
	return b
}

// Do runs op under the host's breaker. Transport errors and 5xx responses
// count as failures; a 5xx response is still returned to the caller.
func (h *HostBreakers) Do(host string, op func() (*http.Response, error)) (*http.Response, error) {
	b := h.breaker(host)
	if !b.Ready() {
		return nil, ErrCircuitOpen
	}

	wasTripped := b.Tripped()
	var resp *http.Response
	err := b.Call(func() error {
		r, err := op()
		if err != nil {
			return err
		}
		resp = r
		if r.StatusCode >= 500 {
			return errServerStatus
		}
		return nil
	}, 0)

	if !wasTripped && b.Tripped() {
		observability.CircuitBreakerTrips.WithLabelValues(host).Inc()
	}

	switch {
	case errors.Is(err, errServerStatus):
		return resp, nil
	case errors.Is(err, circuit.ErrBreakerOpen):
		return nil, ErrCircuitOpen
	case err != nil:
		return nil, err
	}
	return resp, nil
}

// Tripped reports whether the host's breaker is currently open.
func (h *HostBreakers) Tripped(host string) bool {
	return h.breaker(host).Tripped()
}

// Reset closes the host's breaker.
func (h *HostBreakers) Reset(host string) {
	h.breaker(host).Reset()
}
