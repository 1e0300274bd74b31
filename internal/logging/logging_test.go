package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := WithComponent(New(Config{Level: InfoLevel, JSONOutput: true, Output: &buf}), "controller")

	logger.Debug().Msg("hidden")
	logger.Info().Str("ride_id", "r1").Msg("ride adopted")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "controller", entry["component"])
	assert.Equal(t, "r1", entry["ride_id"])
	assert.Equal(t, "ride adopted", entry["message"])
}

func TestForSession(t *testing.T) {
	var buf bytes.Buffer
	logger := ForSession(New(Config{Level: DebugLevel, JSONOutput: true, Output: &buf}), "u1", "driver")
	logger.Debug().Msg("open")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "u1", entry["uid"])
	assert.Equal(t, "driver", entry["role"])
}
