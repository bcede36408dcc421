package logging_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/zalando/edgerender/logging"
)

func TestLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logrus.SetOutput(buf)
	logrus.SetLevel(logrus.DebugLevel)
	logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	defer logrus.SetLevel(logrus.InfoLevel)

	log := logging.New(map[string]any{"store": "cache"})

	for _, tt := range []struct {
		log      func()
		expected string
	}{
		{func() { log.Error("error") }, `level=error msg=error store=cache`},
		{func() { log.Errorf("errorf: %s", "foo") }, `level=error msg="errorf: foo" store=cache`},
		{func() { log.Warn("warn") }, `level=warning msg=warn store=cache`},
		{func() { log.Warnf("warnf: %s", "foo") }, `level=warning msg="warnf: foo" store=cache`},
		{func() { log.Info("info") }, `level=info msg=info store=cache`},
		{func() { log.Infof("infof: %s", "foo") }, `level=info msg="infof: foo" store=cache`},
		{func() { log.Debug("debug") }, `level=debug msg=debug store=cache`},
		{func() { log.Debugf("debugf: %s", "foo") }, `level=debug msg="debugf: foo" store=cache`},
	} {
		tt.log()
		s := strings.TrimSpace(buf.String())
		buf.Reset()
		if s != tt.expected {
			t.Fatalf("want %q, got %q", tt.expected, s)
		}
	}
}
