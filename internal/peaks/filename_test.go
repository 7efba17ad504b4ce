package peaks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFilename_Default(t *testing.T) {
	tests := []struct {
		output string
		want   string
	}{
		{"output.m4a", "output-peaks.json"},
		{"audio/out/track.mp3", "audio/out/track-peaks.json"},
		{"/srv/media/show.ep1.wav", "/srv/media/show.ep1-peaks.json"},
		{"noext", "noext-peaks.json"},
	}

	for _, tt := range tests {
		t.Run(tt.output, func(t *testing.T) {
			got, err := ResolveFilename(FilenameRule{}, tt.output)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveFilename_Literal(t *testing.T) {
	got, err := ResolveFilename(FilenameRule{Literal: "waveforms/ep-01.json"}, "ignored.m4a")
	require.NoError(t, err)
	assert.Equal(t, "waveforms/ep-01.json", got)
}

func TestResolveFilename_Func(t *testing.T) {
	rule := FilenameRule{Func: func(out string) string { return "peaks/" + out + ".json" }}

	got, err := ResolveFilename(rule, "track.m4a")
	require.NoError(t, err)
	assert.Equal(t, "peaks/track.m4a.json", got)

	rule = FilenameRule{Func: func(out string) string { return "/" + out }}
	_, err = ResolveFilename(rule, "track.m4a")
	assert.Error(t, err)
}

func TestSanitize_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"traversal", "../../etc/passwd"},
		{"inner traversal", "a/../b.json"},
		{"trailing traversal", "a/.."},
		{"absolute", "/etc/passwd"},
		{"null byte", "peaks\x00.json"},
		{"space", "my peaks.json"},
		{"backslash", `dir\peaks.json`},
		{"unicode", "pëaks.json"},
		{"empty", ""},
		{"directory", "peaks/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Sanitize(tt.input)
			require.Error(t, err)
			var naming *NamingError
			assert.ErrorAs(t, err, &naming)
		})
	}
}

func TestSanitize_Accepts(t *testing.T) {
	for _, name := range []string{"peaks.json", "a/b/c_d-e.json", "v1.2..json", "./peaks.json"} {
		got, err := Sanitize(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, got)
	}
}
