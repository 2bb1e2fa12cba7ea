package listener

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffPolicy computes reconnect delays. Delay is a pure function of the
// attempt number so the schedule is testable; jitter is applied separately
// at the call site.
type BackoffPolicy struct {
	Initial time.Duration // delay after the first failure
	Max     time.Duration // cap for the deterministic part
	Factor  float64       // multiplier per consecutive failure
	Jitter  float64       // fraction of the delay randomized both ways, 0..1
}

// DefaultBackoff matches the provider's recommended reconnect pacing:
// 10s doubling to a 5 minute cap, with 20% jitter.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Initial: 10 * time.Second,
		Max:     5 * time.Minute,
		Factor:  2,
		Jitter:  0.2,
	}
}

// Delay returns the deterministic delay before reconnect attempt number
// attempt (zero-based). Strictly increasing until it reaches Max, then
// constant.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.Initial) * math.Pow(p.Factor, float64(attempt))
	if d > float64(p.Max) || d < 0 { // overflow guard
		return p.Max
	}
	return time.Duration(d)
}

// Jittered randomizes d by ±Jitter to avoid reconnect stampedes after a
// provider outage. The result never exceeds Max.
func (p BackoffPolicy) Jittered(d time.Duration) time.Duration {
	if p.Jitter <= 0 {
		return d
	}
	spread := p.Jitter * float64(d)
	jittered := float64(d) + (rand.Float64()*2-1)*spread
	if jittered < 0 {
		return 0
	}
	if jittered > float64(p.Max) {
		return p.Max
	}
	return time.Duration(jittered)
}
