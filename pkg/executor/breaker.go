package executor

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Breakers hands out one circuit breaker per remote host. Only executions
// that end in RetryExhaustedError count against a host; ordinary command
// failures say nothing about reachability.
type Breakers struct {
	mu       sync.Mutex
	settings gobreaker.Settings
	byHost   map[string]*gobreaker.CircuitBreaker
}

func DefaultBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
}

// NewBreakers uses settings as a template; Name is set per host and a nil
// IsSuccessful is replaced by the reachability check described on Breakers.
func NewBreakers(settings gobreaker.Settings) *Breakers {
	if settings.IsSuccessful == nil {
		settings.IsSuccessful = func(err error) bool {
			var exhausted *RetryExhaustedError
			return !errors.As(err, &exhausted)
		}
	}
	return &Breakers{
		settings: settings,
		byHost:   make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (b *Breakers) For(host string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.byHost[host]
	if !ok {
		s := b.settings
		s.Name = "ssh-" + host
		cb = gobreaker.NewCircuitBreaker(s)
		b.byHost[host] = cb
	}
	return cb
}

// State reports the breaker state of host; hosts never seen are closed.
func (b *Breakers) State(host string) gobreaker.State {
	b.mu.Lock()
	cb, ok := b.byHost[host]
	b.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}
