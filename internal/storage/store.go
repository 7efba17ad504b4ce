// Package storage persists transcode outputs and peaks files.
//
// A Store is either local (a sandboxed directory the process writes into
// itself) or remote (bytes are buffered in memory and uploaded once the
// process succeeds).
package storage

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDirectUploadUnsupported is returned by RequestUploadTarget on stores
	// that only write locally.
	ErrDirectUploadUnsupported = errors.New("store does not support direct upload")
	// ErrTooLarge is returned when a buffer exceeds the store's size limit.
	ErrTooLarge = errors.New("buffer exceeds upload size limit")
)

// Store is the destination for outputs and peaks files.
type Store interface {
	// SupportsDirectUpload reports whether output for destination should be
	// streamed from the process and uploaded instead of written to a local path.
	SupportsDirectUpload(destination string) bool
	// RequestUploadTarget negotiates a URL the destination bytes can be sent to.
	RequestUploadTarget(ctx context.Context, destination string) (*UploadTarget, error)
	// WriteBuffer commits data to destination in a single operation.
	WriteBuffer(ctx context.Context, destination string, data []byte) error
}

// UploadTarget is a negotiated upload location.
type UploadTarget struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// UploadError reports a non-success response from an upload endpoint.
type UploadError struct {
	Destination string
	Stage       string
	StatusCode  int
	Body        string
}

func (e *UploadError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Stage, e.Destination, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %s: status %d", e.Stage, e.Destination, e.StatusCode)
}
