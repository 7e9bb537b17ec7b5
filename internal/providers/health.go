package providers

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"
	"resty.dev/v3"
)

// HealthChecker is an optional interface adapters implement so the chain can
// skip a tier that is known to be down instead of burning its timeout on it.
type HealthChecker interface {
	IsHealthy(ctx context.Context) bool
}

// newVerifyBreaker builds the circuit breaker that backs an adapter's health
// signal. The breaker opens after a run of consecutive failures and lets a
// probe request through after the cooldown.
func newVerifyBreaker(name string, maxFailures uint32) *gobreaker.CircuitBreaker[*resty.Response] {
	if maxFailures == 0 {
		maxFailures = 5
	}
	return gobreaker.NewCircuitBreaker[*resty.Response](gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	})
}
