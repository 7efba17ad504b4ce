package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/ffpeaks/internal/httpclient"
)

// maxErrorBody bounds how much of a failed response is kept for diagnostics.
const maxErrorBody = 4 << 10

// HTTPStoreConfig configures an HTTPStore.
type HTTPStoreConfig struct {
	// Endpoint negotiates upload targets. It receives a JSON body
	// {"path": destination} and answers with an UploadTarget.
	Endpoint string
	// Token is sent as a bearer token to Endpoint.
	Token string
	// MaxSize rejects larger buffers before any request is made. 0 disables it.
	MaxSize int64
	Client  *httpclient.Client
	Logger  *slog.Logger
}

// HTTPStore uploads buffers to URLs negotiated with a signing endpoint.
type HTTPStore struct {
	cfg    HTTPStoreConfig
	client *httpclient.Client
	logger *slog.Logger
}

// NewHTTPStore creates an HTTPStore.
func NewHTTPStore(cfg HTTPStoreConfig) (*HTTPStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("upload endpoint is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		hc := httpclient.DefaultConfig()
		hc.Logger = cfg.Logger
		client = httpclient.New(hc)
	}
	return &HTTPStore{
		cfg:    cfg,
		client: client,
		logger: cfg.Logger.With(slog.String("component", "storage")),
	}, nil
}

// SupportsDirectUpload reports true for every destination.
func (s *HTTPStore) SupportsDirectUpload(string) bool {
	return true
}

type uploadRequest struct {
	Path        string `json:"path"`
	ContentType string `json:"content_type,omitempty"`
}

// RequestUploadTarget asks the signing endpoint where destination should go.
func (s *HTTPStore) RequestUploadTarget(ctx context.Context, destination string) (*UploadTarget, error) {
	body, err := json.Marshal(uploadRequest{Path: destination, ContentType: contentType(destination)})
	if err != nil {
		return nil, fmt.Errorf("encoding upload request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting upload target: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, responseError(resp, "requesting upload target for", destination)
	}

	var target UploadTarget
	if err := json.NewDecoder(resp.Body).Decode(&target); err != nil {
		return nil, fmt.Errorf("decoding upload target: %w", err)
	}
	if target.URL == "" {
		return nil, fmt.Errorf("upload target for %s has no url", destination)
	}
	if target.Method == "" {
		target.Method = http.MethodPut
	}
	return &target, nil
}

// WriteBuffer negotiates a target and sends data to it in one request.
func (s *HTTPStore) WriteBuffer(ctx context.Context, destination string, data []byte) error {
	if s.cfg.MaxSize > 0 && int64(len(data)) > s.cfg.MaxSize {
		return fmt.Errorf("%w: %s is %s, limit %s", ErrTooLarge, destination,
			humanize.Bytes(uint64(len(data))), humanize.Bytes(uint64(s.cfg.MaxSize)))
	}

	target, err := s.RequestUploadTarget(ctx, destination)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, target.Method, target.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating upload: %w", err)
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", contentType(destination))
	for k, v := range target.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("uploading %s: %w", destination, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp, "uploading", destination)
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	s.logger.InfoContext(ctx, "uploaded buffer",
		slog.String("destination", destination),
		slog.String("url", target.URL),
		slog.String("size", humanize.Bytes(uint64(len(data)))),
	)
	return nil
}

func responseError(resp *http.Response, stage, destination string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &UploadError{
		Destination: destination,
		Stage:       stage,
		StatusCode:  resp.StatusCode,
		Body:        string(bytes.TrimSpace(body)),
	}
}

// mediaTypes covers containers the system mime table may not know.
var mediaTypes = map[string]string{
	".json": "application/json",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".flac": "audio/flac",
	".wav":  "audio/wav",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".ts":   "video/mp2t",
}

func contentType(destination string) string {
	ext := strings.ToLower(path.Ext(destination))
	if ct, ok := mediaTypes[ext]; ok {
		return ct
	}
	if ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
	}
	return "application/octet-stream"
}

var _ Store = (*HTTPStore)(nil)
