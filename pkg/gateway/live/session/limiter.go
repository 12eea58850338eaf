package session

import (
	"time"

	"golang.org/x/time/rate"
)

// inboundLimiter bounds how many client messages one connection may send.
// A nil limiter allows everything.
type inboundLimiter struct {
	now      func() time.Time
	messages *rate.Limiter
}

func newInboundLimiter(now func() time.Time, perSecond float64, burst int) *inboundLimiter {
	if perSecond <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burst <= 0 {
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &inboundLimiter{
		now:      now,
		messages: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (l *inboundLimiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.messages.AllowN(l.now(), 1)
}
