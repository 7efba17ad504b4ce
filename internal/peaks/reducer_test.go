package peaks

import (
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pcm encodes interleaved samples as little-endian s16.
func pcm(samples ...int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

func newReducer(t *testing.T, channels, spp int, norm *Range) *Reducer {
	t.Helper()
	r, err := NewReducer(channels, 44100, spp, norm)
	require.NoError(t, err)
	return r
}

func TestNewReducer_Validation(t *testing.T) {
	_, err := NewReducer(0, 44100, 512, nil)
	assert.Error(t, err)

	_, err = NewReducer(2, 44100, 0, nil)
	assert.Error(t, err)

	_, err = NewReducer(2, 44100, 512, &Range{Lo: 1, Hi: 1})
	assert.Error(t, err)
}

func TestReducer_MonoWindows(t *testing.T) {
	r := newReducer(t, 1, 2, nil)
	r.Push(pcm(-5, 10, 3, -7, 100))

	res, err := r.Finalize()
	require.NoError(t, err)

	assert.Equal(t, 3, res.Length)
	assert.Equal(t, []float64{-5, 10, -7, 3, 100, 100}, res.Data)
	assert.Equal(t, ResultVersion, res.Version)
	assert.Equal(t, ResultBits, res.Bits)
	assert.Equal(t, 1, res.Channels)
	assert.Equal(t, 2, res.SamplesPerPixel)
}

func TestReducer_WindowMajorChannelMinor(t *testing.T) {
	r := newReducer(t, 2, 2, nil)
	// frames: (L,R) = (1,-1) (2,-2) | (3,-3)
	r.Push(pcm(1, -1, 2, -2, 3, -3))

	res, err := r.Finalize()
	require.NoError(t, err)

	require.Equal(t, 2, res.Length)
	assert.Equal(t, []float64{1, 2, -2, -1, 3, 3, -3, -3}, res.Data)

	lo, hi := res.Window(0, 1)
	assert.Equal(t, -2.0, lo)
	assert.Equal(t, -1.0, hi)
}

func TestReducer_StereoSilence(t *testing.T) {
	r := newReducer(t, 2, 512, nil)
	r.Push(make([]byte, 1024*4))

	res, err := r.Finalize()
	require.NoError(t, err)

	assert.Equal(t, 2, res.Length)
	require.Len(t, res.Data, 8)
	for _, v := range res.Data {
		assert.Zero(t, v)
	}
}

func TestReducer_WindowBoundaries(t *testing.T) {
	tests := []struct {
		name   string
		frames int
		want   int
	}{
		{"empty", 0, 0},
		{"one frame", 1, 1},
		{"exact window", 512, 1},
		{"one over", 513, 2},
		{"two windows", 1024, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newReducer(t, 1, 512, nil)
			r.Push(make([]byte, tt.frames*2))

			res, err := r.Finalize()
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Length)
			assert.Len(t, res.Data, tt.want*2)
			assert.EqualValues(t, tt.frames, r.Frames())
		})
	}
}

func TestReducer_ChunkSplitInvariance(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	samples := make([]int16, 3*4000+3)
	for i := range samples {
		samples[i] = int16(rng.IntN(65536) - 32768)
	}
	stream := pcm(samples...)

	whole := newReducer(t, 3, 100, nil)
	whole.Push(stream)
	want, err := whole.Finalize()
	require.NoError(t, err)

	for _, size := range []int{1, 2, 3, 5, 7, 6, 4096, 8192} {
		r := newReducer(t, 3, 100, nil)
		for off := 0; off < len(stream); off += size {
			end := min(off+size, len(stream))
			r.Push(stream[off:end])
		}
		got, err := r.Finalize()
		require.NoError(t, err)
		assert.Equal(t, want.Data, got.Data, "chunk size %d", size)
	}

	r := newReducer(t, 3, 100, nil)
	for off := 0; off < len(stream); {
		end := min(off+1+rng.IntN(37), len(stream))
		r.Push(stream[off:end])
		off = end
	}
	got, err := r.Finalize()
	require.NoError(t, err)
	assert.Equal(t, want.Data, got.Data)
}

func TestReducer_Normalize(t *testing.T) {
	r := newReducer(t, 1, 1, &Range{Lo: 0, Hi: 1})
	r.Push(pcm(-32768, 32767, 0))

	res, err := r.Finalize()
	require.NoError(t, err)

	assert.Equal(t, 0.0, res.Data[0])
	assert.Equal(t, 0.0, res.Data[1])
	assert.Equal(t, 1.0, res.Data[2])
	assert.Equal(t, 1.0, res.Data[3])
	assert.InDelta(t, 0.5, res.Data[4], 0.0001)

	for _, v := range res.Data {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestReducer_NormalizeSymmetricRange(t *testing.T) {
	r := newReducer(t, 1, 1, &Range{Lo: -1, Hi: 1})
	r.Push(pcm(-32768, 32767))

	res, err := r.Finalize()
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, -1, 1, 1}, res.Data)
}

func TestReducer_TruncatedStream(t *testing.T) {
	r := newReducer(t, 2, 2, nil)
	r.Push(pcm(1, 2, 3, 4))
	r.Push([]byte{0x01, 0x00, 0x02})

	res, err := r.Finalize()
	require.Error(t, err)

	var malformed *MalformedPCMError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, 3, malformed.Leftover)
	assert.Equal(t, 4, malformed.FrameSize)

	require.NotNil(t, res)
	assert.Equal(t, 1, res.Length)
}

func TestReducer_FinalizeIdempotent(t *testing.T) {
	r := newReducer(t, 1, 4, nil)
	r.Push(pcm(1, 2, 3))

	first, err := r.Finalize()
	require.NoError(t, err)

	r.Push(pcm(100))
	second, err := r.Finalize()
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, []float64{1, 3}, second.Data)
}
