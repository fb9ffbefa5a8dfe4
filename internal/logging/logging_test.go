package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, false, "warn")
	assert.Equal(t, zerolog.WarnLevel, l.GetLevel())

	l.Info().Msg("dropped")
	l.Warn().Str("k", "v").Msg("kept")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "kept", line["message"])
	assert.Equal(t, "v", line["k"])
}

func TestNewWithWriterDevelopment(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, true, "bogus")
	assert.Equal(t, zerolog.DebugLevel, l.GetLevel())
	l.Debug().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
}
