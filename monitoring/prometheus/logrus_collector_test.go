package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/gatekit/gatekit/runtime"
)

func TestLogrusCollector(t *testing.T) {
	hook := NewLogrusCollector()
	logger := logrus.New()
	logger.AddHook(hook)

	tests := []struct {
		name   string
		count  int
		prefix string
		level  logrus.Level
	}{
		{"info message with empty prefix", 3, "", logrus.InfoLevel},
		{"warn message with empty prefix", 2, "", logrus.WarnLevel},
		{"error message with empty prefix", 1, "", logrus.ErrorLevel},
		{"error message with prefix", 1, "foo", logrus.ErrorLevel},
		{"info message with prefix", 3, "foo", logrus.InfoLevel},
		{"warn message with prefix", 2, "foo", logrus.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefix := defaultPrefix
			entry := logrus.NewEntry(logger)
			if tt.prefix != "" {
				prefix = tt.prefix
				entry = logger.WithField(prefixKey, tt.prefix)
			}
			counter := counterVec.WithLabelValues(tt.level.String(), prefix)
			before := testutil.ToFloat64(counter)
			for i := 0; i < tt.count; i++ {
				logExampleMessage(entry, tt.level)
			}
			require.Equal(t, float64(tt.count), testutil.ToFloat64(counter)-before)
		})
	}
}

func TestNewServiceInstallsLogHook(t *testing.T) {
	NewService("127.0.0.1:0", runtime.NewServiceRegistry())

	found := false
	for _, hooks := range logrus.StandardLogger().Hooks {
		for _, h := range hooks {
			if _, ok := h.(*LogrusCollector); ok {
				found = true
			}
		}
	}
	require.True(t, found)
}

func logExampleMessage(entry *logrus.Entry, level logrus.Level) {
	switch level {
	case logrus.InfoLevel:
		entry.Info("Info message")
	case logrus.WarnLevel:
		entry.Warn("Warning message!")
	case logrus.ErrorLevel:
		entry.Error("Error message!!")
	}
}
