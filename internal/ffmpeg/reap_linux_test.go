//go:build linux

package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pidRecordingScript runs a shell that writes its own pid and the pid of a
// background sleep to path, then blocks on both.
func pidRecordingScript(path string) string {
	return `echo $$ > ` + path + `; sleep 30 & echo $! >> ` + path + `; wait`
}

func readPids(t *testing.T, path string) []int {
	t.Helper()
	var pids []int
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		fields := strings.Fields(string(data))
		if len(fields) < 2 {
			return false
		}
		pids = pids[:0]
		for _, f := range fields {
			pid, err := strconv.Atoi(f)
			if err != nil {
				return false
			}
			pids = append(pids, pid)
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
	return pids
}

// processGone reports whether pid no longer exists or is a zombie.
func processGone(pid int) bool {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return os.IsNotExist(err)
	}
	// The state follows the parenthesised command name.
	i := strings.LastIndexByte(string(data), ')')
	if i < 0 || i+2 >= len(data) {
		return false
	}
	return data[i+2] == 'Z'
}

func assertProcessesGone(t *testing.T, pids []int) {
	t.Helper()
	for _, pid := range pids {
		assert.Eventually(t, func() bool { return processGone(pid) },
			2*time.Second, 10*time.Millisecond, "pid %d still running", pid)
	}
}

func TestSession_TimeoutKillsProcessGroup(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "pids")
	cmd := shellCommand(pidRecordingScript(pidFile), nil, "")

	_, err := NewSession(cmd, SessionOptions{Timeout: 300 * time.Millisecond}).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)

	pids := readPids(t, pidFile)
	require.Len(t, pids, 2)
	assertProcessesGone(t, pids)
}

func TestSession_CancelKillsProcessGroup(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "pids")
	cmd := shellCommand(pidRecordingScript(pidFile), &PCMFormat{Channels: 1, SampleRate: 8000}, "")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)
	defer cancel()

	_, err := NewSession(cmd, SessionOptions{}).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	assertProcessesGone(t, readPids(t, pidFile))
}

func TestRunStandard_TimeoutKillsProcessGroup(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "pids")
	cmd := shellCommand(pidRecordingScript(pidFile), nil, "")

	_, err := RunStandard(context.Background(), cmd, StandardOptions{Timeout: 300 * time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)

	pids := readPids(t, pidFile)
	require.Len(t, pids, 2)
	assertProcessesGone(t, pids)
}
