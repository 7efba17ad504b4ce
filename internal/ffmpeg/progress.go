package ffmpeg

import (
	"bytes"
	"regexp"
	"strconv"
)

// Progress is a snapshot of transcoding progress.
type Progress struct {
	// TimeProcessed is the media time processed so far, in seconds.
	TimeProcessed float64  `json:"time_processed"`
	FPS           *float64 `json:"fps,omitempty"`
	Speed         *float64 `json:"speed,omitempty"`
}

var (
	progressTimeRe  = regexp.MustCompile(`time=(\d+):(\d+):(\d+\.\d+)`)
	progressFPSRe   = regexp.MustCompile(`fps=\s*(\d+\.?\d*)`)
	progressSpeedRe = regexp.MustCompile(`speed=\s*(\d+\.?\d*)x`)
)

// ParseProgress extracts the most recent progress values from accumulated
// ffmpeg output. It reports false when no time marker is present.
func ParseProgress(buf []byte) (Progress, bool) {
	m := lastSubmatch(progressTimeRe, buf)
	if m == nil {
		return Progress{}, false
	}

	hours, _ := strconv.ParseFloat(string(m[1]), 64)
	mins, _ := strconv.ParseFloat(string(m[2]), 64)
	secs, _ := strconv.ParseFloat(string(m[3]), 64)
	p := Progress{TimeProcessed: hours*3600 + mins*60 + secs}

	if m := lastSubmatch(progressFPSRe, buf); m != nil {
		if v, err := strconv.ParseFloat(string(m[1]), 64); err == nil {
			p.FPS = &v
		}
	}
	if m := lastSubmatch(progressSpeedRe, buf); m != nil {
		if v, err := strconv.ParseFloat(string(m[1]), 64); err == nil {
			p.Speed = &v
		}
	}
	return p, true
}

func lastSubmatch(re *regexp.Regexp, buf []byte) [][]byte {
	all := re.FindAllSubmatch(buf, -1)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

// Equal reports whether two snapshots carry the same values.
func (p Progress) Equal(o Progress) bool {
	return p.TimeProcessed == o.TimeProcessed && optEqual(p.FPS, o.FPS) && optEqual(p.Speed, o.Speed)
}

func optEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

const (
	progressBufferMax  = 64 << 10
	progressBufferKeep = 8 << 10
)

// progressTracker accumulates progress output and yields new snapshots.
// Only text up to the last line terminator is parsed so a marker split
// across reads is never reported half-formed.
type progressTracker struct {
	buf  []byte
	last Progress
	seen bool
}

// write appends p and reports a snapshot when it differs from the previous one.
func (t *progressTracker) write(p []byte) (Progress, bool) {
	t.buf = append(t.buf, p...)

	end := bytes.LastIndexAny(t.buf, "\r\n")
	if end < 0 {
		t.trim()
		return Progress{}, false
	}

	snap, ok := ParseProgress(t.buf[:end+1])
	t.trim()
	if !ok || (t.seen && snap.Equal(t.last)) {
		return Progress{}, false
	}
	t.last, t.seen = snap, true
	return snap, true
}

// latest returns the most recent snapshot.
func (t *progressTracker) latest() (Progress, bool) {
	return t.last, t.seen
}

// trim keeps the buffer bounded, cutting at a line boundary.
func (t *progressTracker) trim() {
	if len(t.buf) <= progressBufferMax {
		return
	}
	cut := len(t.buf) - progressBufferKeep
	if i := bytes.IndexAny(t.buf[cut:], "\r\n"); i >= 0 {
		cut += i + 1
	}
	t.buf = append([]byte(nil), t.buf[cut:]...)
}
