package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/visionrelay/internal/config"
)

func TestNewWithWriter(t *testing.T) {
	t.Run("json output at configured level", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewWithWriter(config.SystemConfig{LogLevel: "warn", LogFormat: "json"}, &buf)

		log.Info().Msg("hidden")
		log.Warn().Str("op", "vision.chat").Msg("shown")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "warn", entry["level"])
		assert.Equal(t, "shown", entry["message"])
		assert.Equal(t, "vision.chat", entry["op"])
		assert.Contains(t, entry, "time")
	})

	t.Run("console output", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewWithWriter(config.SystemConfig{LogLevel: "debug", LogFormat: "console"}, &buf)

		log.Debug().Msg("Worker pool stopped")

		assert.Contains(t, buf.String(), "Worker pool stopped")
		assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		log := NewWithWriter(config.SystemConfig{LogLevel: "loud"}, &bytes.Buffer{})
		assert.Equal(t, zerolog.InfoLevel, log.GetLevel())

		log = NewWithWriter(config.SystemConfig{}, &bytes.Buffer{})
		assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
	})
}

func TestReloadable(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	var buf bytes.Buffer
	log := newReloadable(config.SystemConfig{LogLevel: "info", LogFormat: "json"}, &buf)

	log.Debug().Msg("before")
	assert.Empty(t, buf.String())

	assert.Equal(t, zerolog.DebugLevel, SetLevel("debug"))
	log.Debug().Msg("after")
	assert.Contains(t, buf.String(), `"message":"after"`)

	assert.Equal(t, zerolog.InfoLevel, SetLevel("bogus"))
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
