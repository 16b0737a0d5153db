package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWithComponentAddsFields(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "tether-test"})
	t.Cleanup(func() { Configure(Config{}) })

	l := WithComponent("stream")
	l.Info().Str(FieldNewState, "open").Msg("transition")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "tether-test", entry[FieldService])
	require.Equal(t, "stream", entry[FieldComponent])
	require.Equal(t, "open", entry[FieldNewState])
	require.Equal(t, "transition", entry["message"])
}

func TestConfigureIgnoresUnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "chatty", Output: &buf})
	t.Cleanup(func() { Configure(Config{}) })

	l := Base()
	l.Debug().Msg("hidden")
	l.Info().Msg("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")
}
