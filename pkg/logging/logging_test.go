package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSeverityHook(t *testing.T) {
	t.Parallel()

	levels := map[zerolog.Level]string{
		zerolog.DebugLevel: "Debug",
		zerolog.InfoLevel:  "Info",
		zerolog.WarnLevel:  "Warning",
		zerolog.ErrorLevel: "Error",
		zerolog.TraceLevel: "Info",
	}
	for level, severity := range levels {
		var buf bytes.Buffer
		logger := zerolog.New(&buf).Level(zerolog.TraceLevel).Hook(severityHook{})
		logger.WithLevel(level).Msg("ping")

		var line struct {
			Severity string `json:"severity"`
		}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		require.Equal(t, severity, line.Severity)
	}
}
