package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomOutputForApplicationLog(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{ApplicationLogOutput: &buf, AccessLogDisabled: true})
	msg := "Hello, world!"
	log.Info(msg)
	assert.Contains(t, buf.String(), msg)
}

func TestCustomPrefixForApplicationLog(t *testing.T) {
	var buf bytes.Buffer
	prefix := "[TEST_PREFIX]"
	Init(Options{
		ApplicationLogOutput: &buf,
		ApplicationLogPrefix: prefix,
		AccessLogDisabled:    true,
	})
	log.Info("Hello, world!")
	got := buf.String()
	assert.True(t, strings.HasPrefix(got, prefix))
	assert.Contains(t, got, "Hello, world!")
}

func TestApplicationLogLevelAndJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{
		ApplicationLogOutput:      &buf,
		ApplicationLogLevel:       log.WarnLevel,
		ApplicationLogJSONEnabled: true,
		AccessLogDisabled:         true,
	})
	defer log.SetLevel(log.InfoLevel)

	log.Info("dropped")
	log.Warn("kept")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "warning", entry["level"])
}
