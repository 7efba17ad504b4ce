//go:build unix

package ffmpeg

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Role identifies what a channel carries.
type Role int

const (
	RoleProgress Role = iota
	RoleErrorLog
	RolePCM
	RoleOutput
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleProgress:
		return "progress"
	case RoleErrorLog:
		return "stderr"
	case RolePCM:
		return "pcm"
	case RoleOutput:
		return "output"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Channel is the parent's non-blocking read end of one child pipe.
type Channel struct {
	Role      Role
	fd        int
	open      bool
	BytesRead int64
}

// IsOpen reports whether the channel can still deliver data.
func (c *Channel) IsOpen() bool { return c.open }

// close releases the descriptor. Later calls are no-ops.
func (c *Channel) close() {
	if !c.open {
		return
	}
	c.open = false
	_ = unix.Close(c.fd)
}

// readResult classifies one non-blocking read.
type readResult int

const (
	readData readResult = iota
	readNone
	readEOF
)

// read performs one non-blocking read into buf.
func (c *Channel) read(buf []byte) (int, readResult, error) {
	if !c.open {
		return 0, readEOF, nil
	}
	for {
		n, err := unix.Read(c.fd, buf)
		switch {
		case err == nil && n > 0:
			c.BytesRead += int64(n)
			return n, readData, nil
		case err == nil:
			return 0, readEOF, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, readNone, nil
		default:
			return 0, readEOF, err
		}
	}
}

// ChannelSet is a running child process and the pipes the parent drains.
type ChannelSet struct {
	cmd      *exec.Cmd
	channels []*Channel
}

type pipePair struct {
	r int
	w *os.File
}

// newPipe creates a pipe with both ends close-on-exec and a non-blocking
// read end.
func newPipe(name string) (pipePair, error) {
	var p [2]int

	syscall.ForkLock.RLock()
	err := unix.Pipe(p[:])
	if err == nil {
		unix.CloseOnExec(p[0])
		unix.CloseOnExec(p[1])
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return pipePair{}, fmt.Errorf("creating %s pipe: %w", name, err)
	}

	if err := unix.SetNonblock(p[0], true); err != nil {
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
		return pipePair{}, fmt.Errorf("setting %s pipe non-blocking: %w", name, err)
	}
	return pipePair{r: p[0], w: os.NewFile(uintptr(p[1]), name)}, nil
}

// openChannels starts cmd with stdout, stderr and the optional pcm (fd 3)
// and output (fd 4) pipes. Stdin is closed right after launch. When pcm is
// not requested fd 3 is closed in the child.
func openChannels(c *Command, env []string) (*ChannelSet, error) {
	roles := []Role{RoleProgress, RoleErrorLog}
	if c.WantsPCM() {
		roles = append(roles, RolePCM)
	}
	if c.WantsOutputPipe() {
		roles = append(roles, RoleOutput)
	}

	set := &ChannelSet{}
	writers := make(map[Role]*os.File, len(roles))
	cleanup := func() {
		for _, w := range writers {
			_ = w.Close()
		}
		set.closeAll()
	}

	for _, role := range roles {
		p, err := newPipe(role.String())
		if err != nil {
			cleanup()
			return nil, &LaunchError{Binary: c.Binary, Err: err}
		}
		writers[role] = p.w
		set.channels = append(set.channels, &Channel{Role: role, fd: p.r, open: true})
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		cleanup()
		return nil, &LaunchError{Binary: c.Binary, Err: fmt.Errorf("creating stdin pipe: %w", err)}
	}

	cmd := exec.Command(c.Binary, c.Args...)
	cmd.Env = env
	cmd.Stdin = stdinR
	cmd.Stdout = writers[RoleProgress]
	cmd.Stderr = writers[RoleErrorLog]
	// ExtraFiles[i] becomes fd 3+i; nil entries are closed in the child.
	cmd.ExtraFiles = []*os.File{writers[RolePCM], writers[RoleOutput]}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	startErr := cmd.Start()

	// The child owns its copies now; the parent only keeps read ends.
	for _, w := range writers {
		_ = w.Close()
	}
	writers = nil
	_ = stdinR.Close()
	_ = stdinW.Close()

	if startErr != nil {
		set.closeAll()
		return nil, &LaunchError{Binary: c.Binary, Err: startErr}
	}

	set.cmd = cmd
	return set, nil
}

// Pid returns the child's process id.
func (s *ChannelSet) Pid() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Channel returns the channel for role, or nil when it was not opened.
func (s *ChannelSet) Channel(role Role) *Channel {
	for _, c := range s.channels {
		if c.Role == role {
			return c
		}
	}
	return nil
}

// open returns the channels that can still deliver data.
func (s *ChannelSet) open() []*Channel {
	out := make([]*Channel, 0, len(s.channels))
	for _, c := range s.channels {
		if c.open {
			out = append(out, c)
		}
	}
	return out
}

func (s *ChannelSet) closeAll() {
	for _, c := range s.channels {
		c.close()
	}
}

// kill sends SIGKILL to the child's process group.
func (s *ChannelSet) kill() error {
	pid := s.Pid()
	if pid <= 0 {
		return nil
	}
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return s.cmd.Process.Kill()
	}
	return nil
}

// poll waits up to timeoutMs for any open channel to become readable and
// returns the ready ones. A negative timeout is not used.
func (s *ChannelSet) poll(timeoutMs int) ([]*Channel, error) {
	open := s.open()
	if len(open) == 0 {
		return nil, nil
	}

	fds := make([]unix.PollFd, len(open))
	for i, c := range open {
		fds[i] = unix.PollFd{Fd: int32(c.fd), Events: unix.POLLIN}
	}

	for {
		n, err := unix.Poll(fds, timeoutMs)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		break
	}

	ready := make([]*Channel, 0, len(open))
	for i, c := range open {
		if fds[i].Revents&unix.POLLNVAL != 0 {
			c.close()
			continue
		}
		if fds[i].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			ready = append(ready, c)
		}
	}
	return ready, nil
}
