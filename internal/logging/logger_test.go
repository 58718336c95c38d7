package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, levelFromString("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, levelFromString(" warning "))
	assert.Equal(t, zerolog.ErrorLevel, levelFromString("error"))
	assert.Equal(t, zerolog.InfoLevel, levelFromString("chatty"))
}

func TestJSONLoggerCarriesComponent(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, false, "warn", "engine")
	l.Info().Msg("hidden")
	l.Warn().Str("trip_id", "t1").Msg("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "engine", line["component"])
	assert.Equal(t, "t1", line["trip_id"])
	assert.Equal(t, "shown", line["message"])
}
