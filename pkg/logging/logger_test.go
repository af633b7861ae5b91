package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/ekaya-inc/ekaya-federation/pkg/config"
)

func TestNewLogger_Levels(t *testing.T) {
	logger, err := NewLogger("production", config.LoggingConfig{Level: "warn"})
	require.NoError(t, err)

	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestNewLogger_Invalid(t *testing.T) {
	_, err := NewLogger("local", config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = NewLogger("local", config.LoggingConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
