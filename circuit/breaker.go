package circuit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrOpen is returned by Do when the breaker does not allow the call.
var ErrOpen = errors.New("circuit breaker open")

// BreakerType defines the type of the used breaker: consecutive or disabled.
type BreakerType int

func (b *BreakerType) UnmarshalYAML(unmarshal func(any) error) error {
	var value string
	if err := unmarshal(&value); err != nil {
		return err
	}

	t, err := ParseType(value)
	if err != nil {
		return err
	}

	*b = t
	return nil
}

// ParseType parses the name of a breaker type.
func ParseType(value string) (BreakerType, error) {
	switch value {
	case "consecutive":
		return ConsecutiveFailures, nil
	case "disabled":
		return BreakerDisabled, nil
	default:
		return BreakerNone, fmt.Errorf("invalid breaker type %v (allowed values are: consecutive or disabled)", value)
	}
}

const (
	BreakerNone BreakerType = iota
	ConsecutiveFailures
	BreakerDisabled
)

// BreakerSettings contains the settings of the breaker of a store.
type BreakerSettings struct {
	Type             BreakerType   `yaml:"type"`
	Store            string        `yaml:"store"`
	Failures         int           `yaml:"failures"`
	Timeout          time.Duration `yaml:"timeout"`
	HalfOpenRequests int           `yaml:"half-open-requests"`
}

type breakerImplementation interface {
	Allow() (func(bool), bool)
}

type voidBreaker struct{}

// Breaker represents the circuit breaker of a single store.
//
// Use the Get() method of the Registry to request fully initialized breakers.
type Breaker struct {
	settings BreakerSettings
	impl     breakerImplementation
}

func (to BreakerSettings) mergeSettings(from BreakerSettings) BreakerSettings {
	if to.Type == BreakerNone {
		to.Type = from.Type
		if from.Type == ConsecutiveFailures && to.Failures == 0 {
			to.Failures = from.Failures
		}
	}

	if to.Failures == 0 {
		to.Failures = from.Failures
	}

	if to.Timeout == 0 {
		to.Timeout = from.Timeout
	}

	if to.HalfOpenRequests == 0 {
		to.HalfOpenRequests = from.HalfOpenRequests
	}

	return to
}

// String returns the string representation of a particular set of settings.
//
//lint:ignore ST1016 "s" makes sense here and mergeSettings has "to"
func (s BreakerSettings) String() string {
	var ss []string

	switch s.Type {
	case ConsecutiveFailures:
		ss = append(ss, "type=consecutive")
	case BreakerDisabled:
		return "disabled"
	default:
		return "none"
	}

	if s.Store != "" {
		ss = append(ss, "store="+s.Store)
	}

	if s.Failures > 0 {
		ss = append(ss, "failures="+strconv.Itoa(s.Failures))
	}

	if s.Timeout > 0 {
		ss = append(ss, "timeout="+s.Timeout.String())
	}

	if s.HalfOpenRequests > 0 {
		ss = append(ss, "half-open-requests="+strconv.Itoa(s.HalfOpenRequests))
	}

	return strings.Join(ss, ",")
}

func (b voidBreaker) Allow() (func(bool), bool) {
	return func(bool) {}, true
}

func newBreaker(s BreakerSettings) *Breaker {
	var impl breakerImplementation
	switch s.Type {
	case ConsecutiveFailures:
		impl = newGobreaker(s)
	default:
		impl = voidBreaker{}
	}

	return &Breaker{
		settings: s,
		impl:     impl,
	}
}

// Allow returns true if the breaker is in the closed state and a callback function for reporting the outcome of
// the operation. The callback expects true values if the outcome of the request was successful. Allow may not
// return a callback function when the state is open.
//
// A nil breaker always allows.
func (b *Breaker) Allow() (func(bool), bool) {
	if b == nil {
		return func(bool) {}, true
	}

	return b.impl.Allow()
}

// Settings returns the effective settings of the breaker.
func (b *Breaker) Settings() BreakerSettings {
	if b == nil {
		return BreakerSettings{Type: BreakerDisabled}
	}

	return b.settings
}

// Do calls f when the breaker allows it and reports its outcome. It
// returns ErrOpen without calling f when the breaker is open. Context
// cancellation of the caller does not count as failure.
func (b *Breaker) Do(f func() error) error {
	done, ok := b.Allow()
	if !ok {
		return ErrOpen
	}

	err := f()
	done(err == nil || errors.Is(err, context.Canceled))
	return err
}
