package api

import (
	"time"
	"unicode/utf8"

	"video-pipeline/internal/models"
)

const previewRunes = 100

// Error codes returned alongside the message in every error body.
const (
	codeValidation   = "VALIDATION_ERROR"
	codeNotFound     = "NOT_FOUND"
	codeNotReady     = "NOT_READY"
	codeRateLimited  = "RATE_LIMITED"
	codeUnavailable  = "SERVICE_UNAVAILABLE"
	codeTooLarge     = "PAYLOAD_TOO_LARGE"
	codeInternal     = "INTERNAL_ERROR"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type GenerateResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type StatusResponse struct {
	JobID       string          `json:"job_id"`
	State       models.State    `json:"state"`
	Progress    models.Progress `json:"progress"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	DownloadURL string          `json:"download_url,omitempty"`
	CaptionsURL string          `json:"captions_url,omitempty"`
	ArtifactURL string          `json:"artifact_url,omitempty"`
}

type JobSummary struct {
	JobID         string          `json:"job_id"`
	State         models.State    `json:"state"`
	Progress      models.Progress `json:"progress"`
	CreatedAt     time.Time       `json:"created_at"`
	ScriptPreview string          `json:"script_preview"`
}

type JobListResponse struct {
	Jobs []JobSummary `json:"jobs"`
}

// StatusFromJob never exposes local filesystem paths.
func StatusFromJob(job models.Job) StatusResponse {
	resp := StatusResponse{
		JobID:     job.ID,
		State:     job.State,
		Progress:  job.Progress,
		Error:     job.Error,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	if job.State == models.StateSucceeded {
		resp.DownloadURL = "/api/download/" + job.ID
		if job.SubtitlesPath != "" {
			resp.CaptionsURL = "/api/captions/" + job.ID
		}
		resp.ArtifactURL = job.ArtifactURL
	}
	return resp
}

func SummaryFromJob(job models.Job) JobSummary {
	return JobSummary{
		JobID:         job.ID,
		State:         job.State,
		Progress:      job.Progress,
		CreatedAt:     job.CreatedAt,
		ScriptPreview: preview(job.Request.Script),
	}
}

func preview(script string) string {
	if utf8.RuneCountInString(script) <= previewRunes {
		return script
	}
	return string([]rune(script)[:previewRunes]) + "..."
}
