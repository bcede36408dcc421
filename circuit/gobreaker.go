package circuit

import (
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// wrapper for changing interface:
type gobreakerWrap struct {
	gb *gobreaker.TwoStepCircuitBreaker
}

func newGobreaker(s BreakerSettings) gobreakerWrap {
	return gobreakerWrap{gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        s.Store,
		MaxRequests: uint32(s.HalfOpenRequests),
		Timeout:     s.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return int(c.ConsecutiveFailures) >= s.Failures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Infof("circuit breaker of store %v went from %v to %v", name, from.String(), to.String())
		},
	})}
}

func (w gobreakerWrap) Allow() (func(bool), bool) {
	done, err := w.gb.Allow()

	// this error can only indicate that the breaker is not closed
	if err != nil {
		return nil, false
	}

	return done, true
}
