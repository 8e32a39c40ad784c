package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/nimbus/internal/config"
)

func TestNewWithWriter(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LoggingConfig
		wantLevel logrus.Level
		wantErr   bool
	}{
		{name: "defaults", cfg: config.LoggingConfig{}, wantLevel: logrus.InfoLevel},
		{name: "debug text", cfg: config.LoggingConfig{Level: "debug", Format: "text"}, wantLevel: logrus.DebugLevel},
		{name: "warn json", cfg: config.LoggingConfig{Level: "warn", Format: "json"}, wantLevel: logrus.WarnLevel},
		{name: "bad level", cfg: config.LoggingConfig{Level: "loud"}, wantErr: true},
		{name: "bad format", cfg: config.LoggingConfig{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewWithWriter(tt.cfg, &bytes.Buffer{})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLevel, logger.GetLevel())
		})
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	AddContext(logger, Ctx{"instance": "i-1"}).Info("instance saved")
	logger.Debug("dropped")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "instance saved", entry["msg"])
	assert.Equal(t, "i-1", entry["instance"])
	assert.Equal(t, "info", entry["level"])
}
