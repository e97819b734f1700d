package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestMaskPhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"+250788123456", "***3456"},
		{" 250788123456 ", "***3456"},
		{"123", "***123"},
		{"", "***"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskPhone(tt.in), tt.in)
	}
}

func TestNew_Levels(t *testing.T) {
	assert.True(t, New("debug", "json").Core().Enabled(zapcore.DebugLevel))
	assert.False(t, New("WARN", "console").Core().Enabled(zapcore.InfoLevel))
	assert.True(t, New("nonsense", "json").Core().Enabled(zapcore.InfoLevel), "unknown level falls back to info")
	assert.False(t, New("nonsense", "json").Core().Enabled(zapcore.DebugLevel))
}
