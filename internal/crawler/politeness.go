package crawler

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// pauseController abstracts how the loop waits between pages.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauseController struct{}

func (p *timerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Politeness describes the pause taken between pages and before a job's first request.
type Politeness struct {
	Delay          time.Duration
	Jitter         time.Duration
	StartJitterMin time.Duration
	StartJitterMax time.Duration
}

// BetweenPages returns Delay plus a random jitter in [0, Jitter).
func (p Politeness) BetweenPages() time.Duration {
	return p.Delay + randomJitter(p.Jitter)
}

// BeforeStart returns a random duration in [StartJitterMin, StartJitterMax).
func (p Politeness) BeforeStart() time.Duration {
	if p.StartJitterMax <= p.StartJitterMin {
		return p.StartJitterMin
	}
	return p.StartJitterMin + randomJitter(p.StartJitterMax-p.StartJitterMin)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
