package config

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/zalando/edgerender/circuit"
)

// breakerFlags collects the circuit breaker settings of the stores.
// The flag can be repeated, one occurrence per store:
//
//	-store-breaker type=consecutive,store=cache,failures=5,timeout=10s
type breakerFlags []circuit.BreakerSettings

var errInvalidBreakerConfig = errors.New("invalid breaker config")

func (b breakerFlags) String() string {
	s := make([]string, len(b))
	for i, bi := range b {
		s[i] = bi.String()
	}

	return strings.Join(s, "\n")
}

func (b *breakerFlags) Set(value string) error {
	var s circuit.BreakerSettings
	for _, kv := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return errInvalidBreakerConfig
		}

		var err error
		switch k {
		case "type":
			s.Type, err = circuit.ParseType(v)
			if err != nil {
				return errInvalidBreakerConfig
			}
		case "store":
			s.Store = v
		case "failures":
			s.Failures, err = strconv.Atoi(v)
		case "timeout":
			s.Timeout, err = time.ParseDuration(v)
		case "half-open-requests":
			s.HalfOpenRequests, err = strconv.Atoi(v)
		default:
			return errInvalidBreakerConfig
		}

		if err != nil {
			return err
		}
	}

	if s.Type == circuit.BreakerNone {
		s.Type = circuit.ConsecutiveFailures
	}

	*b = append(*b, s)
	return nil
}

func (b *breakerFlags) UnmarshalYAML(unmarshal func(any) error) error {
	var settings []circuit.BreakerSettings
	if err := unmarshal(&settings); err != nil {
		return err
	}

	*b = settings
	return nil
}
