// Package backoff computes retry delays.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy returns the delay before retry attempt n (1-indexed).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Geometric grows by Factor each attempt: Delay(n) = Base * Factor^n.
// Attempt 0 returns Base.
type Geometric struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

func (g Geometric) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := time.Duration(float64(g.Base) * math.Pow(g.Factor, float64(attempt)))
	if g.Max > 0 && d > g.Max {
		return g.Max
	}
	return d
}

// Requeue is the schedule for nacked jobs measured from job creation:
// 2s, 8s, 32s for attempts 0, 1, 2.
func Requeue() Strategy {
	return Geometric{Base: 2 * time.Second, Factor: 4, Max: 32 * time.Second}
}

// Jitter applies full jitter on top of another strategy.
type Jitter struct {
	Strategy Strategy
}

func (j Jitter) Delay(attempt int) time.Duration {
	base := j.Strategy.Delay(attempt)
	if base <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(base)) + 1)
}

// ReadyAt returns the instant a job created at created becomes eligible
// again after attempts failed executions, never earlier than now.
func ReadyAt(s Strategy, created, now time.Time, attempts int) time.Time {
	at := created.Add(s.Delay(attempts))
	if at.Before(now) {
		return now
	}
	return at
}
