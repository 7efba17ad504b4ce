package peaks

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	bytesPerSample = 2
	pcmMin         = math.MinInt16
	pcmSpan        = math.MaxInt16 - math.MinInt16
)

// MalformedPCMError reports a PCM stream whose length was not a whole number
// of frames once all input had been consumed.
type MalformedPCMError struct {
	Leftover  int
	FrameSize int
}

// Error implements the error interface.
func (e *MalformedPCMError) Error() string {
	return fmt.Sprintf("malformed pcm: %d trailing bytes do not form a %d-byte frame", e.Leftover, e.FrameSize)
}

// Reducer folds interleaved little-endian s16 PCM into per-channel min/max
// pairs over fixed windows of frames. It is not safe for concurrent use.
type Reducer struct {
	channels        int
	sampleRate      int
	samplesPerPixel int
	normalize       *Range

	frameSize int
	partial   []byte
	mins      []int16
	maxs      []int16
	count     int

	data      []float64
	windows   int
	total     int64
	finalized bool
	result    *Result
	err       error
}

// NewReducer creates a Reducer for the given PCM layout.
func NewReducer(channels, sampleRate, samplesPerPixel int, normalize *Range) (*Reducer, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("channels must be positive, got %d", channels)
	}
	if samplesPerPixel <= 0 {
		return nil, fmt.Errorf("samples per pixel must be positive, got %d", samplesPerPixel)
	}
	if normalize != nil {
		if err := normalize.Validate(); err != nil {
			return nil, err
		}
	}

	r := &Reducer{
		channels:        channels,
		sampleRate:      sampleRate,
		samplesPerPixel: samplesPerPixel,
		normalize:       normalize,
		frameSize:       channels * bytesPerSample,
		partial:         make([]byte, 0, channels*bytesPerSample),
		mins:            make([]int16, channels),
		maxs:            make([]int16, channels),
		data:            []float64{},
	}
	r.resetWindow()
	return r, nil
}

// Push consumes a chunk of PCM. Chunk boundaries may fall anywhere,
// including inside a sample. Push after Finalize is a no-op.
func (r *Reducer) Push(p []byte) {
	if r.finalized || len(p) == 0 {
		return
	}
	r.total += int64(len(p))

	if len(r.partial) > 0 {
		need := r.frameSize - len(r.partial)
		if len(p) < need {
			r.partial = append(r.partial, p...)
			return
		}
		r.partial = append(r.partial, p[:need]...)
		r.frame(r.partial)
		r.partial = r.partial[:0]
		p = p[need:]
	}

	whole := len(p) - len(p)%r.frameSize
	for off := 0; off < whole; off += r.frameSize {
		r.frame(p[off : off+r.frameSize])
	}
	r.partial = append(r.partial, p[whole:]...)
}

func (r *Reducer) frame(f []byte) {
	for ch := 0; ch < r.channels; ch++ {
		v := int16(binary.LittleEndian.Uint16(f[ch*bytesPerSample:]))
		if v < r.mins[ch] {
			r.mins[ch] = v
		}
		if v > r.maxs[ch] {
			r.maxs[ch] = v
		}
	}
	r.count++
	if r.count == r.samplesPerPixel {
		r.emit()
	}
}

func (r *Reducer) emit() {
	for ch := 0; ch < r.channels; ch++ {
		r.data = append(r.data, r.scale(r.mins[ch]), r.scale(r.maxs[ch]))
	}
	r.windows++
	r.resetWindow()
}

func (r *Reducer) resetWindow() {
	for ch := range r.mins {
		r.mins[ch] = math.MaxInt16
		r.maxs[ch] = math.MinInt16
	}
	r.count = 0
}

func (r *Reducer) scale(v int16) float64 {
	if r.normalize == nil {
		return float64(v)
	}
	return r.normalize.Lo + float64(int(v)-pcmMin)*(r.normalize.Hi-r.normalize.Lo)/pcmSpan
}

// Frames returns the number of complete frames consumed so far.
func (r *Reducer) Frames() int64 {
	return (r.total - int64(len(r.partial))) / int64(r.frameSize)
}

// Finalize flushes a trailing partial window and returns the result.
// A stream that ends mid-frame still yields the complete windows together
// with a *MalformedPCMError. Repeated calls return the same values.
func (r *Reducer) Finalize() (*Result, error) {
	if r.finalized {
		return r.result, r.err
	}
	r.finalized = true

	if r.count > 0 {
		r.emit()
	}
	r.result = &Result{
		Version:         ResultVersion,
		Channels:        r.channels,
		SampleRate:      r.sampleRate,
		SamplesPerPixel: r.samplesPerPixel,
		Bits:            ResultBits,
		Length:          r.windows,
		Data:            r.data,
	}
	if len(r.partial) > 0 {
		r.err = &MalformedPCMError{Leftover: len(r.partial), FrameSize: r.frameSize}
	}
	return r.result, r.err
}
