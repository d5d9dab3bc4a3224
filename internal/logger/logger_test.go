package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentAndSampleFields(t *testing.T) {
	var buf bytes.Buffer
	l := Sample(Component(New(&buf, false), "grooming"), "rigid", "N03_L")
	l.Info().Msg("aligned")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "grooming", entry["component"])
	assert.Equal(t, "rigid", entry["stage"])
	assert.Equal(t, "N03_L", entry["sample"])
	assert.Equal(t, "aligned", entry["message"])
}

func TestVerboseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, Level(true))
	assert.Equal(t, zerolog.InfoLevel, Level(false))

	var buf bytes.Buffer
	l := New(&buf, false)
	l.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())
}
