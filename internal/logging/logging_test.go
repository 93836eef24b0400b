package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/kvcore/internal/logging"
)

func TestNew_WritesStructuredJSONLines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	log := logging.New(&buf, logiface.LevelInformational)
	log.Info().Str("component", "engine").Log("opened store")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "opened store", line["msg"])
	require.Equal(t, "engine", line["component"])
}

func TestNoop_DiscardsOutput(t *testing.T) {
	t.Parallel()

	log := logging.Noop()
	log.Info().Str("k", "v").Log("should not panic")
}
