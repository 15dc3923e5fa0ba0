package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
		"":      zerolog.InfoLevel,
		"bogus": zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestJSONLogger_Component(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewJSONLogger(&buf, "debug"))
	t.Cleanup(func() { SetLogger(NewConsoleLogger(os.Stdout, "info")) })

	l := WithAccount(Sync, 3, "savings")
	l.Debug().Msg("synced")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "sync", rec["component"])
	assert.Equal(t, "savings", rec["alias"])
	assert.Equal(t, float64(3), rec["account"])
	assert.Equal(t, "synced", rec["message"])
}

func TestInit_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.log")
	closer, err := Init("info", true, path)
	require.NoError(t, err)
	t.Cleanup(func() { SetLogger(NewConsoleLogger(os.Stdout, "info")) })

	Wallet.Info().Msg("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"wallet"`)
}
