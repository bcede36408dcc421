package logging

import (
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited drops the warnings and errors exceeding the rate. Info and
// debug entries are passed through.
type RateLimited struct {
	log     Logger
	limiter *rate.Limiter
	dropped atomic.Int64
}

// NewRateLimited wraps log, letting through n warnings or errors per
// interval, with bursts of up to n.
func NewRateLimited(log Logger, n int, interval time.Duration) *RateLimited {
	if n <= 0 {
		n = 1
	}

	return &RateLimited{
		log:     log,
		limiter: rate.NewLimiter(rate.Every(interval/time.Duration(n)), n),
	}
}

// Dropped returns the number of entries dropped since the last one let
// through.
func (rl *RateLimited) Dropped() int64 { return rl.dropped.Load() }

func (rl *RateLimited) allow() (string, bool) {
	if !rl.limiter.Allow() {
		rl.dropped.Add(1)
		return "", false
	}

	if n := rl.dropped.Swap(0); n > 0 {
		return fmt.Sprintf(" (%d similar entries dropped)", n), true
	}

	return "", true
}

func (rl *RateLimited) Error(a ...any) {
	if suffix, ok := rl.allow(); ok {
		rl.log.Error(fmt.Sprint(a...) + suffix)
	}
}

func (rl *RateLimited) Errorf(f string, a ...any) {
	if suffix, ok := rl.allow(); ok {
		rl.log.Error(fmt.Sprintf(f, a...) + suffix)
	}
}

func (rl *RateLimited) Warn(a ...any) {
	if suffix, ok := rl.allow(); ok {
		rl.log.Warn(fmt.Sprint(a...) + suffix)
	}
}

func (rl *RateLimited) Warnf(f string, a ...any) {
	if suffix, ok := rl.allow(); ok {
		rl.log.Warn(fmt.Sprintf(f, a...) + suffix)
	}
}

func (rl *RateLimited) Info(a ...any)             { rl.log.Info(a...) }
func (rl *RateLimited) Infof(f string, a ...any)  { rl.log.Infof(f, a...) }
func (rl *RateLimited) Debug(a ...any)            { rl.log.Debug(a...) }
func (rl *RateLimited) Debugf(f string, a ...any) { rl.log.Debugf(f, a...) }
