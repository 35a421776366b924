package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconfigure_WritesComponent(t *testing.T) {
	var buf bytes.Buffer
	Reconfigure(Config{Level: "debug", Output: &buf, Service: "test"})
	t.Cleanup(func() { Reconfigure(Config{}) })

	l := WithComponent("preview")
	l.Info().Int(FieldBufferID, 7).Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "test", entry["service"])
	assert.Equal(t, "preview", entry[FieldComponent])
	assert.Equal(t, float64(7), entry[FieldBufferID])
	assert.Equal(t, "hello", entry["message"])
}

func TestConfigure_FirstCallWins(t *testing.T) {
	var first, second bytes.Buffer
	Reconfigure(Config{Output: &first})
	t.Cleanup(func() { Reconfigure(Config{}) })

	Configure(Config{Output: &second})
	l := Base()
	l.Info().Msg("x")

	assert.NotZero(t, first.Len())
	assert.Zero(t, second.Len())
}
