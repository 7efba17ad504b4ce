package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"30s", 30 * time.Second},
		{"720h", 720 * time.Hour},
		{"30d", 30 * Day},
		{"30 days", 30 * Day},
		{"1 day", Day},
		{"2w", 2 * Week},
		{"1 week", Week},
		{"1w2d12h", Week + 2*Day + 12*time.Hour},
		{"1d 30m", Day + 30*time.Minute},
		{"-1d", -Day},
		{" 5m ", 5 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDuration(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDuration_Invalid(t *testing.T) {
	for _, input := range []string{"", "   ", "-", "abc", "10x"} {
		_, err := ParseDuration(input)
		assert.Error(t, err, input)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", FormatDuration(0))
	assert.Equal(t, "30s", FormatDuration(30*time.Second))
	assert.Equal(t, "30d", FormatDuration(30*Day))
	assert.Equal(t, "1d12h0m0s", FormatDuration(Day+12*time.Hour))
	assert.Equal(t, "-2d", FormatDuration(-2*Day))
}

func TestFormatDuration_RoundTrip(t *testing.T) {
	for _, d := range []time.Duration{time.Minute, 3 * Day, Week + 90*time.Minute} {
		got, err := ParseDuration(FormatDuration(d))
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}
}
