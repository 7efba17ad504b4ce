package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
)

// LocalStore writes into a sandboxed directory. FFmpeg writes transcoded
// output there directly, so it never takes the upload path.
type LocalStore struct {
	sandbox *Sandbox
	logger  *slog.Logger
}

// NewLocalStore creates a LocalStore rooted at baseDir.
func NewLocalStore(baseDir string, logger *slog.Logger) (*LocalStore, error) {
	sb, err := NewSandbox(baseDir)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalStore{sandbox: sb, logger: logger.With(slog.String("component", "storage"))}, nil
}

// Sandbox returns the underlying sandbox.
func (s *LocalStore) Sandbox() *Sandbox {
	return s.sandbox
}

// SupportsDirectUpload always reports false for local destinations.
func (s *LocalStore) SupportsDirectUpload(string) bool {
	return false
}

// RequestUploadTarget always fails with ErrDirectUploadUnsupported.
func (s *LocalStore) RequestUploadTarget(context.Context, string) (*UploadTarget, error) {
	return nil, ErrDirectUploadUnsupported
}

// WriteBuffer atomically writes data to destination inside the sandbox.
func (s *LocalStore) WriteBuffer(ctx context.Context, destination string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.sandbox.AtomicWrite(destination, data); err != nil {
		return fmt.Errorf("writing %s: %w", destination, err)
	}
	s.logger.DebugContext(ctx, "wrote buffer",
		slog.String("destination", destination),
		slog.String("size", humanize.Bytes(uint64(len(data)))),
	)
	return nil
}

// Resolve returns the absolute local path for destination.
func (s *LocalStore) Resolve(destination string) (string, error) {
	return s.sandbox.ResolvePath(destination)
}

var _ Store = (*LocalStore)(nil)
