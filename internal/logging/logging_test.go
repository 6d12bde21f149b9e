package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	tests := map[string]struct {
		opts    Options
		wantErr bool
	}{
		"JSON":          {opts: Options{Format: FormatJSON, Level: "info"}},
		"Console":       {opts: Options{Format: FormatConsole, Level: "debug"}},
		"Verbosity":     {opts: Options{Format: FormatJSON, Level: "-3"}},
		"UnknownFormat": {opts: Options{Format: "xml", Level: "info"}, wantErr: true},
		"UnknownLevel":  {opts: Options{Format: FormatJSON, Level: "loud"}, wantErr: true},
	}
	for title, tc := range tests {
		t.Run(title, func(t *testing.T) {
			_, err := New(tc.opts)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseLevelVerbosity(t *testing.T) {
	level, err := parseLevel("-2")
	require.NoError(t, err)
	assert.Equal(t, zapcore.Level(-2), level)
}

func TestNewFromZapVerbosity(t *testing.T) {
	core, observed := observer.New(zapcore.Level(-1))
	log := NewFromZap(zap.New(core))

	log.Info("shown")
	log.V(1).Info("also shown", "key", "value")
	log.V(2).Info("hidden")

	entries := observed.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "shown", entries[0].Message)
	assert.Equal(t, "also shown", entries[1].Message)
	assert.Equal(t, "value", entries[1].ContextMap()["key"])
}
