package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, initTo(&buf, "warn", false))

	Logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	l := Component("engine")
	l.Warn().Str("tx", "tx-1").Msg("shown")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "engine", line["component"])
	assert.Equal(t, "tx-1", line["tx"])
	assert.Equal(t, "warn", line["level"])
}

func TestInitEmptyLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, initTo(&buf, "", false))
	Logger.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())
	Logger.Info().Msg("shown")
	assert.NotZero(t, buf.Len())
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Init("loud", false))
}
