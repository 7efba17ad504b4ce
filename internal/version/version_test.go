package version

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBuild(t *testing.T, v, commit, date string) {
	t.Helper()
	ov, oc, od := Version, Commit, Date
	Version, Commit, Date = v, commit, date
	t.Cleanup(func() { Version, Commit, Date = ov, oc, od })
}

func TestGetInfo(t *testing.T) {
	setBuild(t, "1.2.3", "0123456789abcdef", "2026-01-01T00:00:00Z")

	info := GetInfo()
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "0123456789abcdef", info.Commit)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	assert.Equal(t, "01234567", info.ShortCommit())

	data, err := json.Marshal(info)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"go_version"`)
}

func TestString(t *testing.T) {
	setBuild(t, "1.2.3", "0123456789abcdef", "2026-01-01T00:00:00Z")
	assert.Contains(t, String(), "ffpeaks version 1.2.3 (commit: 01234567")
	assert.Equal(t, "1.2.3 (01234567)", Short())
}

func TestShortCommit_Unknown(t *testing.T) {
	assert.Empty(t, Info{Commit: "unknown"}.ShortCommit())
	assert.Empty(t, Info{Commit: "abc"}.ShortCommit())
}

func TestUserAgent(t *testing.T) {
	setBuild(t, "0.4.0", "unknown", "unknown")
	assert.Equal(t, "ffpeaks/0.4.0", UserAgent())
}

func TestIsSnapshot(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{"dev", true},
		{"1.2.4-SNAPSHOT.abc1234", true},
		{"1.2.3", false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			setBuild(t, tt.version, "unknown", "unknown")
			assert.Equal(t, tt.want, IsSnapshot())
		})
	}
}
