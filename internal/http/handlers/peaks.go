package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/ffpeaks/internal/executor"
	"github.com/jmylchreest/ffpeaks/internal/ffmpeg"
	"github.com/jmylchreest/ffpeaks/internal/peaks"
	"github.com/jmylchreest/ffpeaks/internal/storage"
)

// Runner executes a transcode request.
type Runner interface {
	Execute(ctx context.Context, req executor.Request) (*executor.Result, error)
}

// PeaksHandler extracts peaks from media files inside the storage sandbox.
type PeaksHandler struct {
	runner     Runner
	store      *storage.LocalStore
	ffmpegPath string
	defaults   peaks.Config
}

// NewPeaksHandler creates a peaks handler. defaults supplies values for
// fields a request leaves unset.
func NewPeaksHandler(runner Runner, store *storage.LocalStore, ffmpegPath string, defaults peaks.Config) *PeaksHandler {
	return &PeaksHandler{
		runner:     runner,
		store:      store,
		ffmpegPath: ffmpegPath,
		defaults:   defaults.WithDefaults(),
	}
}

// Register registers the peaks routes with the API.
func (h *PeaksHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "extractPeaks",
		Method:      "POST",
		Path:        "/api/v1/peaks",
		Summary:     "Extract peaks",
		Description: "Decodes a stored media file and returns its waveform peaks",
		Tags:        []string{"Peaks"},
	}, h.Extract)
}

// ExtractPeaksRequest is the body of a peaks request.
type ExtractPeaksRequest struct {
	Path            string    `json:"path" minLength:"1" doc:"Media path relative to the storage directory"`
	SamplesPerPixel int       `json:"samples_per_pixel,omitempty" minimum:"0" doc:"Frames per window; 0 uses the configured default"`
	Normalize       []float64 `json:"normalize,omitempty" minItems:"2" maxItems:"2" doc:"Output range [lo, hi]"`
	Format          string    `json:"format,omitempty" enum:"simple,full" doc:"Structure of the saved file"`
	Filename        string    `json:"filename,omitempty" doc:"Literal peaks filename; defaults to <stem>-peaks.json beside the media"`
	Save            bool      `json:"save,omitempty" doc:"Write the peaks file to storage"`
}

// ExtractPeaksInput is the input for extracting peaks.
type ExtractPeaksInput struct {
	Body ExtractPeaksRequest
}

// PeaksResponse is the result of a peaks request.
type PeaksResponse struct {
	JobID      string        `json:"job_id"`
	DurationMs int64         `json:"duration_ms"`
	Peaks      *peaks.Result `json:"peaks"`
	PeaksPath  string        `json:"peaks_path,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
}

// ExtractPeaksOutput is the output for extracting peaks.
type ExtractPeaksOutput struct {
	Body PeaksResponse
}

// Extract runs a peaks-only pass over the requested file.
func (h *PeaksHandler) Extract(ctx context.Context, input *ExtractPeaksInput) (*ExtractPeaksOutput, error) {
	body := input.Body

	path, err := h.store.Resolve(body.Path)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid path", err)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, huma.Error404NotFound(fmt.Sprintf("media %s not found", body.Path))
		}
		return nil, huma.Error500InternalServerError("failed to stat media", err)
	}

	cfg, err := h.config(body)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}

	req := executor.Request{
		Command: ffmpeg.NewCommandBuilder(h.ffmpegPath).
			HideBanner().
			Input(path).
			NoOutput().
			Build(),
		Peaks: &cfg,
	}
	if body.Save {
		req.Store = h.store
	}

	res, err := h.runner.Execute(ctx, req)
	if err != nil {
		if errors.Is(err, ffmpeg.ErrTimeout) {
			return nil, huma.Error504GatewayTimeout("peaks extraction timed out", err)
		}
		if res != nil && res.Diagnostic != "" {
			return nil, huma.Error422UnprocessableEntity("ffmpeg failed: " + res.Diagnostic)
		}
		return nil, huma.Error500InternalServerError("peaks extraction failed", err)
	}
	if res.Peaks == nil {
		return nil, huma.Error422UnprocessableEntity("no peaks produced", warningErrors(res.Warnings)...)
	}

	return &ExtractPeaksOutput{Body: PeaksResponse{
		JobID:      res.JobID,
		DurationMs: res.Duration.Milliseconds(),
		Peaks:      res.Peaks,
		PeaksPath:  res.PeaksPath,
		Warnings:   res.Warnings,
	}}, nil
}

func (h *PeaksHandler) config(body ExtractPeaksRequest) (peaks.Config, error) {
	cfg := h.defaults
	cfg.Only = true
	if body.SamplesPerPixel > 0 {
		cfg.SamplesPerPixel = body.SamplesPerPixel
	}
	if len(body.Normalize) == 2 {
		cfg.Normalize = &peaks.Range{Lo: body.Normalize[0], Hi: body.Normalize[1]}
	}
	if body.Format != "" {
		cfg.Format = peaks.Format(body.Format)
	}
	if body.Filename != "" {
		cfg.Filename = peaks.FilenameRule{Literal: body.Filename}
	}
	return cfg, cfg.Validate()
}

func warningErrors(warnings []string) []error {
	errs := make([]error, 0, len(warnings))
	for _, w := range warnings {
		errs = append(errs, errors.New(w))
	}
	return errs
}
