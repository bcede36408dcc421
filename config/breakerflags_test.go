package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"

	"github.com/zalando/edgerender/circuit"
)

func TestBreakerFlagsSet(t *testing.T) {
	for _, tt := range []struct {
		name    string
		args    string
		want    circuit.BreakerSettings
		wantErr string
	}{{
		name: "full settings",
		args: "type=consecutive,store=cache,failures=5,timeout=3s,half-open-requests=2",
		want: circuit.BreakerSettings{
			Type:             circuit.ConsecutiveFailures,
			Store:            "cache",
			Failures:         5,
			Timeout:          3 * time.Second,
			HalfOpenRequests: 2,
		},
	}, {
		name: "type defaults to consecutive",
		args: "store=tags,failures=1",
		want: circuit.BreakerSettings{Type: circuit.ConsecutiveFailures, Store: "tags", Failures: 1},
	}, {
		name: "disabled",
		args: "type=disabled,store=renderer",
		want: circuit.BreakerSettings{Type: circuit.BreakerDisabled, Store: "renderer"},
	}, {
		name:    "invalid type",
		args:    "type=rate,store=cache",
		wantErr: errInvalidBreakerConfig.Error(),
	}, {
		name:    "unknown key",
		args:    "type=consecutive,host=example.org",
		wantErr: errInvalidBreakerConfig.Error(),
	}, {
		name:    "missing value",
		args:    "consecutive",
		wantErr: errInvalidBreakerConfig.Error(),
	}, {
		name:    "invalid failures",
		args:    "failures=n",
		wantErr: `strconv.Atoi: parsing "n": invalid syntax`,
	}, {
		name:    "invalid timeout",
		args:    "timeout=3n",
		wantErr: `time: unknown unit "n" in duration "3n"`,
	}} {
		t.Run(tt.name, func(t *testing.T) {
			var b breakerFlags
			err := b.Set(tt.args)
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			require.Len(t, b, 1)
			if d := cmp.Diff(tt.want, b[0]); d != "" {
				t.Errorf("settings mismatch (-want +got):\n%s", d)
			}
		})
	}
}

func TestBreakerFlagsString(t *testing.T) {
	var b breakerFlags
	require.NoError(t, b.Set("type=consecutive,store=cache,failures=5,timeout=3s"))
	require.NoError(t, b.Set("type=disabled,store=tags"))
	assert.Equal(t, "type=consecutive,store=cache,failures=5,timeout=3s\ndisabled", b.String())
}

func TestBreakerFlagsYAML(t *testing.T) {
	const doc = `- type: consecutive
  store: cache
  failures: 4
  timeout: 10s
  half-open-requests: 1
- type: disabled
  store: tags`

	var b breakerFlags
	require.NoError(t, yaml.Unmarshal([]byte(doc), &b))

	want := breakerFlags{{
		Type:             circuit.ConsecutiveFailures,
		Store:            "cache",
		Failures:         4,
		Timeout:          10 * time.Second,
		HalfOpenRequests: 1,
	}, {
		Type:  circuit.BreakerDisabled,
		Store: "tags",
	}}

	if d := cmp.Diff(want, b); d != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", d)
	}

	assert.Error(t, yaml.Unmarshal([]byte("- type: unknown"), &b))
}
