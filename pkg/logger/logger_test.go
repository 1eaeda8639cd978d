package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out), "logger output should be valid JSON")
	return out
}

func TestNewWithWriter_Fields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("info", &buf)

	log.Info().Str("transfer_id", "t-42").Msg("transfer committed")

	out := decodeLine(t, &buf)
	assert.Equal(t, "transfer committed", out["message"])
	assert.Equal(t, "t-42", out["transfer_id"])
	assert.Equal(t, "info", out["level"])
	assert.Equal(t, ServiceName, out["service"])
	assert.Contains(t, out, "time")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level      string
		debugShown bool
		infoShown  bool
	}{
		{"debug", true, true},
		{" INFO ", false, true},
		{"error", false, false},
		{"bogus", false, true},
		{"", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var debugBuf, infoBuf bytes.Buffer
			debugLog := NewWithWriter(tt.level, &debugBuf)
			debugLog.Debug().Msg("d")
			infoLog := NewWithWriter(tt.level, &infoBuf)
			infoLog.Info().Msg("i")

			assert.Equal(t, tt.debugShown, debugBuf.Len() > 0)
			assert.Equal(t, tt.infoShown, infoBuf.Len() > 0)
		})
	}
}

func TestReconciliation_Flagged(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("error", &buf)

	Reconciliation(log).Str("transfer_id", "t-1").Msg("compensation lost")

	out := decodeLine(t, &buf)
	assert.Equal(t, "error", out["level"])
	assert.Equal(t, true, out["reconciliation_required"])
	assert.Equal(t, "t-1", out["transfer_id"])
}

func TestNew_PrettyMode(t *testing.T) {
	// Pretty mode writes to stdout, only check it does not panic.
	log := New("info", true)
	log.Info().Msg("pretty mode test")
}
