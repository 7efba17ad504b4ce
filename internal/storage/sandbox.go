package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sandbox provides file operations restricted to a base directory.
// It prevents path traversal by ensuring all paths resolve within the sandbox.
type Sandbox struct {
	baseDir string
}

// NewSandbox creates a new Sandbox rooted at the given base directory.
// The base directory is created if it doesn't exist.
func NewSandbox(baseDir string) (*Sandbox, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0750); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}

	return &Sandbox{baseDir: absPath}, nil
}

// BaseDir returns the absolute path to the sandbox base directory.
func (s *Sandbox) BaseDir() string {
	return s.baseDir
}

// ResolvePath resolves a path within the sandbox. Relative paths are joined
// to the base directory. Absolute paths are accepted only when they already
// point inside it, since derived names such as "<dir>/<stem>-peaks.json"
// inherit an absolute output path.
func (s *Sandbox) ResolvePath(p string) (string, error) {
	var fullPath string
	if filepath.IsAbs(p) {
		fullPath = filepath.Clean(p)
	} else {
		fullPath = filepath.Join(s.baseDir, filepath.Clean(p))
	}

	if !s.contains(fullPath) {
		return "", fmt.Errorf("path escapes sandbox: %s", p)
	}
	return fullPath, nil
}

func (s *Sandbox) contains(absPath string) bool {
	return absPath == s.baseDir || strings.HasPrefix(absPath, s.baseDir+string(filepath.Separator))
}

// Exists checks if a path exists within the sandbox.
func (s *Sandbox) Exists(p string) (bool, error) {
	path, err := s.ResolvePath(p)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking path: %w", err)
	}
	return true, nil
}

// MkdirAll creates a directory and all parent directories within the sandbox.
func (s *Sandbox) MkdirAll(p string) error {
	path, err := s.ResolvePath(p)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return nil
}

// ReadFile reads a file from within the sandbox.
func (s *Sandbox) ReadFile(p string) ([]byte, error) {
	path, err := s.ResolvePath(p)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Remove removes a file or empty directory within the sandbox.
func (s *Sandbox) Remove(p string) error {
	path, err := s.ResolvePath(p)
	if err != nil {
		return err
	}
	if path == s.baseDir {
		return fmt.Errorf("cannot remove sandbox base directory")
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing path: %w", err)
	}
	return nil
}

// AtomicWrite writes data to a temporary file next to the target and renames
// it into place, so readers see either the old file or the complete new one.
func (s *Sandbox) AtomicWrite(p string, data []byte) error {
	targetPath, err := s.ResolvePath(p)
	if err != nil {
		return err
	}
	if targetPath == s.baseDir {
		return fmt.Errorf("cannot write to sandbox base directory")
	}

	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	tempPath := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(targetPath), randomHex(8)))
	if err := os.WriteFile(tempPath, data, 0640); err != nil {
		return fmt.Errorf("writing temporary file: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming to target: %w", err)
	}
	return nil
}

// randomHex generates a random hex string of the specified length.
func randomHex(n int) string {
	b := make([]byte, n/2+1)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", os.Getpid())
	}
	return hex.EncodeToString(b)[:n]
}
