package handlers

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/ffpeaks/internal/models"
	"github.com/jmylchreest/ffpeaks/internal/repository"
)

// JobHandler serves the transcode job history.
type JobHandler struct {
	repo repository.TranscodeJobRepository
}

// NewJobHandler creates a new job handler.
func NewJobHandler(repo repository.TranscodeJobRepository) *JobHandler {
	return &JobHandler{repo: repo}
}

// Register registers the job routes with the API.
func (h *JobHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listJobs",
		Method:      "GET",
		Path:        "/api/v1/jobs",
		Summary:     "List jobs",
		Description: "Returns transcode history, newest first",
		Tags:        []string{"Jobs"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getJob",
		Method:      "GET",
		Path:        "/api/v1/jobs/{id}",
		Summary:     "Get job",
		Description: "Returns a job by record ID or executor job ID",
		Tags:        []string{"Jobs"},
	}, h.Get)
}

// ListJobsInput is the input for listing jobs.
type ListJobsInput struct {
	Status string `query:"status" enum:"running,completed,failed" required:"false" doc:"Filter by status"`
	Mode   string `query:"mode" enum:"streaming,standard,peaks_only" required:"false" doc:"Filter by execution mode"`
	Offset int    `query:"offset" default:"0" minimum:"0" doc:"Offset for pagination"`
	Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"500" doc:"Limit for pagination"`
}

// ListJobsOutput is the output for listing jobs.
type ListJobsOutput struct {
	Body struct {
		Jobs       []JobResponse  `json:"jobs"`
		Pagination PaginationMeta `json:"pagination"`
	}
}

// List returns one page of jobs.
func (h *JobHandler) List(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	filter := repository.JobFilter{
		Mode:   input.Mode,
		Offset: input.Offset,
		Limit:  input.Limit,
	}
	if input.Status != "" {
		st := models.JobStatus(input.Status)
		filter.Status = &st
	}

	jobs, total, err := h.repo.List(ctx, filter)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list jobs", err)
	}

	resp := &ListJobsOutput{}
	resp.Body.Jobs = make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp.Body.Jobs = append(resp.Body.Jobs, JobFromModel(j))
	}
	resp.Body.Pagination = newPagination(input.Offset, input.Limit, total)
	return resp, nil
}

// GetJobInput is the input for getting a job.
type GetJobInput struct {
	ID string `path:"id" doc:"Record ID or job ID (ULID)"`
}

// GetJobOutput is the output for getting a job.
type GetJobOutput struct {
	Body JobResponse
}

// Get returns a single job. The executor's job ID is tried before the
// record ID since that is what events and logs carry.
func (h *JobHandler) Get(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	job, err := h.repo.GetByJobID(ctx, id.String())
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get job", err)
	}
	if job == nil {
		job, err = h.repo.GetByID(ctx, id)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to get job", err)
		}
	}
	if job == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("job %s not found", input.ID))
	}
	return &GetJobOutput{Body: JobFromModel(job)}, nil
}
