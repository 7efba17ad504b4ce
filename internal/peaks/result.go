package peaks

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Fixed header values of a published Result.
const (
	ResultVersion = 2
	ResultBits    = 16
)

// Result is a finished waveform summary. Data holds Length windows, each
// contributing a min and max value per channel in channel order.
type Result struct {
	Version         int       `json:"version"`
	Channels        int       `json:"channels"`
	SampleRate      int       `json:"sample_rate"`
	SamplesPerPixel int       `json:"samples_per_pixel"`
	Bits            int       `json:"bits"`
	Length          int       `json:"length"`
	Data            []float64 `json:"data"`
}

// Window returns the min and max of channel ch in window w.
func (r *Result) Window(w, ch int) (lo, hi float64) {
	i := (w*r.Channels + ch) * 2
	return r.Data[i], r.Data[i+1]
}

// Encode serializes the result in the given format. FormatSimple emits only
// the data array.
func Encode(r *Result, format Format) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("encoding peaks: nil result")
	}

	var v any
	switch format {
	case FormatFull:
		v = r
	case FormatSimple, "":
		data := r.Data
		if data == nil {
			data = []float64{}
		}
		v = data
	default:
		return nil, fmt.Errorf("encoding peaks: unknown format %q", format)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encoding peaks: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses data produced by Encode. A simple document only restores
// Data and Length; the caller must supply any metadata it needs.
func Decode(b []byte, format Format) (*Result, error) {
	switch format {
	case FormatFull:
		var r Result
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, fmt.Errorf("decoding peaks: %w", err)
		}
		return &r, nil
	case FormatSimple, "":
		var data []float64
		if err := json.Unmarshal(b, &data); err != nil {
			return nil, fmt.Errorf("decoding peaks: %w", err)
		}
		return &Result{Data: data}, nil
	default:
		return nil, fmt.Errorf("decoding peaks: unknown format %q", format)
	}
}

// Build finalizes the reducer and resolves the peaks filename for the
// output path. A naming failure is returned before the result is usable for
// persistence; a *MalformedPCMError is returned together with the result.
func Build(r *Reducer, cfg Config, outputPath string) (*Result, string, error) {
	name, err := ResolveFilename(cfg.Filename, outputPath)
	if err != nil {
		return nil, "", err
	}
	res, err := r.Finalize()
	return res, name, err
}
