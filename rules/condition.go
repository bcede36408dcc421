package rules

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/zalando/edgerender/event"
	"github.com/zalando/edgerender/routing"
)

// ConditionType tells which part of the request a condition inspects.
type ConditionType string

const (
	Header ConditionType = "header"
	Cookie ConditionType = "cookie"
	Query  ConditionType = "query"
	Host   ConditionType = "host"
)

// Condition is a has or missing matcher of a rule.
type Condition struct {
	Type ConditionType `json:"type"`

	// Key is the header, cookie or query name. Not used for host.
	Key string `json:"key,omitempty"`

	// Value is an optional regular expression the whole value has to
	// match. Named groups are captured as destination parameters.
	Value string `json:"value,omitempty"`
}

type condition struct {
	Condition
	value *regexp.Regexp
}

var nonLetters = regexp.MustCompile(`[^a-zA-Z]`)

func compileCondition(c Condition) (*condition, error) {
	switch c.Type {
	case Header, Cookie, Query:
		if c.Key == "" {
			return nil, fmt.Errorf("%w: %s condition without key", ErrInvalidRule, c.Type)
		}
	case Host:
		if c.Value == "" {
			return nil, fmt.Errorf("%w: host condition without value", ErrInvalidRule)
		}
	default:
		return nil, fmt.Errorf("%w: unknown condition type %q", ErrInvalidRule, c.Type)
	}

	cc := &condition{Condition: c}
	if c.Value != "" {
		rx, err := regexp.Compile("^(?:" + c.Value + ")$")
		if err != nil {
			return nil, fmt.Errorf("%w: %s condition %q: %v", ErrInvalidRule, c.Type, c.Key, err)
		}

		cc.value = rx
	}

	return cc, nil
}

// captureNames returns the parameter names the condition can provide.
func (c *condition) captureNames() []string {
	var names []string
	if c.value != nil {
		for _, n := range c.value.SubexpNames() {
			if n != "" {
				names = append(names, n)
			}
		}
	}

	if c.Type != Host && c.value == nil {
		names = append(names, nonLetters.ReplaceAllString(c.Key, ""))
	}

	return names
}

func hostname(h string) string {
	if host, _, err := net.SplitHostPort(h); err == nil {
		return host
	}

	return h
}

func (c *condition) lookup(e *event.Event) (string, bool) {
	switch c.Type {
	case Header:
		if !e.Header.Has(c.Key) {
			return "", false
		}

		return strings.Join(e.Header.Values(c.Key), ", "), true
	case Cookie:
		v, ok := e.Cookies[c.Key]
		return v, ok
	case Query:
		if !e.Query.Has(c.Key) {
			return "", false
		}

		return e.Query.Get(c.Key), true
	default:
		return hostname(e.Host()), true
	}
}

// match checks the condition and returns the captured values.
func (c *condition) match(e *event.Event) (routing.Params, bool) {
	v, ok := c.lookup(e)
	if !ok {
		return nil, false
	}

	params := make(routing.Params)
	if c.value == nil {
		if c.Type != Host {
			params[nonLetters.ReplaceAllString(c.Key, "")] = v
		}

		return params, true
	}

	m := c.value.FindStringSubmatch(v)
	if m == nil {
		return nil, false
	}

	for i, name := range c.value.SubexpNames() {
		if name != "" && m[i] != "" {
			params[name] = m[i]
		}
	}

	return params, true
}
