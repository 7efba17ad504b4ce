// Package handlers provides the HTTP API handlers for ffpeaks.
package handlers

import (
	"time"

	"github.com/jmylchreest/ffpeaks/internal/models"
)

// PaginationMeta describes one page of a list response.
type PaginationMeta struct {
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
	TotalItems  int64 `json:"total_items"`
	TotalPages  int64 `json:"total_pages"`
}

func newPagination(offset, limit int, total int64) PaginationMeta {
	pages := total / int64(limit)
	if total%int64(limit) > 0 {
		pages++
	}
	return PaginationMeta{
		CurrentPage: offset/limit + 1,
		PageSize:    limit,
		TotalItems:  total,
		TotalPages:  pages,
	}
}

// JobResponse is a transcode job in API responses.
type JobResponse struct {
	ID            models.ULID      `json:"id"`
	JobID         string           `json:"job_id"`
	Status        models.JobStatus `json:"status"`
	Mode          string           `json:"mode"`
	Command       string           `json:"command"`
	Inputs        []string         `json:"inputs"`
	Output        string           `json:"output,omitempty"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	DurationMs    int64            `json:"duration_ms"`
	TimeProcessed float64          `json:"time_processed"`
	ExitCode      int              `json:"exit_code"`
	LastError     string           `json:"last_error,omitempty"`
	PeaksPath     string           `json:"peaks_path,omitempty"`
	Warnings      []string         `json:"warnings,omitempty"`
}

// JobFromModel converts a model to its API representation.
func JobFromModel(j *models.TranscodeJob) JobResponse {
	inputs := j.Inputs
	if inputs == nil {
		inputs = []string{}
	}
	return JobResponse{
		ID:            j.ID,
		JobID:         j.JobID,
		Status:        j.Status,
		Mode:          j.Mode,
		Command:       j.Command,
		Inputs:        inputs,
		Output:        j.Output,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
		DurationMs:    j.DurationMs,
		TimeProcessed: j.TimeProcessed,
		ExitCode:      j.ExitCode,
		LastError:     j.LastError,
		PeaksPath:     j.PeaksPath,
		Warnings:      j.Warnings,
	}
}
