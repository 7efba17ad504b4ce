package peaks

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *Result {
	return &Result{
		Version:         ResultVersion,
		Channels:        2,
		SampleRate:      48000,
		SamplesPerPixel: 256,
		Bits:            ResultBits,
		Length:          1,
		Data:            []float64{-10, 12, -3, 4},
	}
}

func TestEncode_Full(t *testing.T) {
	res := sampleResult()

	b, err := Encode(res, FormatFull)
	require.NoError(t, err)

	s := string(b)
	assert.Contains(t, s, `"sample_rate": 48000`)
	assert.Contains(t, s, `"samples_per_pixel": 256`)
	assert.Contains(t, s, "\n    \"version\": 2")

	decoded, err := Decode(b, FormatFull)
	require.NoError(t, err)
	assert.Equal(t, res, decoded)
}

func TestEncode_Simple(t *testing.T) {
	res := sampleResult()

	b, err := Encode(res, FormatSimple)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "["))
	assert.NotContains(t, string(b), "version")

	decoded, err := Decode(b, FormatSimple)
	require.NoError(t, err)
	assert.Equal(t, res.Data, decoded.Data)
}

func TestEncode_EmptyData(t *testing.T) {
	b, err := Encode(&Result{Version: ResultVersion}, FormatSimple)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(b))
}

func TestEncode_Errors(t *testing.T) {
	_, err := Encode(nil, FormatFull)
	assert.Error(t, err)

	_, err = Encode(sampleResult(), Format("xml"))
	assert.Error(t, err)

	_, err = Decode([]byte("{"), FormatFull)
	assert.Error(t, err)
}

func TestBuild(t *testing.T) {
	r, err := NewReducer(1, 8000, 2, nil)
	require.NoError(t, err)
	r.Push(pcm(1, 2, 3))

	res, name, err := Build(r, Config{}, "out/track.m4a")
	require.NoError(t, err)
	assert.Equal(t, "out/track-peaks.json", name)
	assert.Equal(t, 2, res.Length)
}

func TestBuild_NamingErrorBeforeFinalize(t *testing.T) {
	r, err := NewReducer(1, 8000, 2, nil)
	require.NoError(t, err)

	cfg := Config{Filename: FilenameRule{Literal: "../../etc/passwd"}}
	res, _, err := Build(r, cfg, "track.m4a")
	require.Error(t, err)
	assert.Nil(t, res)

	var naming *NamingError
	assert.ErrorAs(t, err, &naming)
}

func TestConfig_DefaultsAndValidate(t *testing.T) {
	cfg := Config{}.WithDefaults()
	assert.Equal(t, DefaultSamplesPerPixel, cfg.SamplesPerPixel)
	assert.Equal(t, FormatSimple, cfg.Format)
	require.NoError(t, cfg.Validate())

	bad := Config{SamplesPerPixel: -1, Normalize: &Range{Lo: 2, Hi: 1}, Format: "bogus"}
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "samples per pixel")
	assert.Contains(t, err.Error(), "normalize range")
	assert.Contains(t, err.Error(), "bogus")
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatSimple, f)

	f, err = ParseFormat("full")
	require.NoError(t, err)
	assert.Equal(t, FormatFull, f)

	_, err = ParseFormat("FULL")
	assert.Error(t, err)
}
