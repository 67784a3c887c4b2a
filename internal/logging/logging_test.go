package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("warn", "json", &buf)
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Str("path", "a.go").Msg("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "a.go", line["path"])
	assert.Equal(t, "shown", line["message"])
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("DEBUG", "console", &buf)
	require.NoError(t, err)
	logger.Debug().Msg("parsed")
	assert.Contains(t, buf.String(), "parsed")
}

func TestNewErrors(t *testing.T) {
	_, err := New("loud", "json", &bytes.Buffer{})
	assert.Error(t, err)
	_, err = New("info", "xml", &bytes.Buffer{})
	assert.Error(t, err)
}
