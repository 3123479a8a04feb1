package echoapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// resendLimiter allows one OTP per phone every `interval`.
type resendLimiter struct {
	interval time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newResendLimiter(interval time.Duration) *resendLimiter {
	return &resendLimiter{interval: interval, limiters: make(map[string]*rate.Limiter)}
}

func (l *resendLimiter) allow(phone string, now time.Time) bool {
	if l.interval <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[phone]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.interval), 1)
		l.limiters[phone] = lim
	}
	return lim.AllowN(now, 1)
}
