package logging

import (
	"bytes"
	"testing"

	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/voltseq/config"
)

func TestSetupWritesJSONAtConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := Setup(config.LoggingConfig{Level: "WARN"}, &buf)
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
	logger.Info().Msg("hidden")
	logger.Warn().Str("channel", "P1").Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"channel":"P1"`)
}

func TestSetupTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := Setup(config.LoggingConfig{Format: "text"}, &buf)
	require.NoError(t, err)
	defer cleanup()

	logger.Info().Msg("compiled")
	assert.Contains(t, buf.String(), "compiled")
	assert.NotContains(t, buf.String(), `"message"`)
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	_, _, err := Setup(config.LoggingConfig{Level: "loud"}, nil)
	require.Error(t, err)
}

func TestLokiRequiresURL(t *testing.T) {
	_, _, err := Setup(config.LoggingConfig{Loki: config.LokiConfig{Enabled: true}}, nil)
	require.ErrorContains(t, err, "loki url")
}

func TestLokiLabelsDefault(t *testing.T) {
	assert.Equal(t, model.LabelSet{"app": "voltseq"}, lokiLabels(config.LokiConfig{}))
	assert.Equal(t, model.LabelSet{"lab": "b12"}, lokiLabels(config.LokiConfig{Labels: map[string]string{"lab": "b12"}}))
}
