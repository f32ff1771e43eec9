package logger

import (
	"bytes"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want log.Level
	}{
		{"debug", log.DebugLevel},
		{"DEBUG", log.DebugLevel},
		{"warn", log.WarnLevel},
		{"warning", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"info", log.InfoLevel},
		{"", log.InfoLevel},
		{"bogus", log.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestFor_PrefixesOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer Configure("info", "")

	For("scheduler").Info("flushed", "sessions", 2)

	assert.Contains(t, buf.String(), "scheduler")
	assert.Contains(t, buf.String(), "flushed")
	assert.Contains(t, buf.String(), "sessions=2")
}
