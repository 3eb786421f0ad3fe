package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"video-pipeline/internal/jobs"
	"video-pipeline/internal/models"
	"video-pipeline/internal/storage"
	"video-pipeline/internal/telemetry"
	"video-pipeline/internal/vault"
	"video-pipeline/internal/voice"
)

const (
	formOverhead    = 1 << 20
	maxSettingsBody = 64 << 10
)

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Limiter != nil {
		allowed, _, err := s.cfg.Limiter.Allow(r.Context(), clientKey(r))
		switch {
		case err != nil:
			s.logger.Warn().Err(err).Msg("rate limiter unavailable; admitting request")
		case !allowed:
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "too many requests", codeRateLimited)
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+formOverhead)
	if err := parseForm(r, s.cfg.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", codeTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "malformed form body", codeValidation)
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	req, err := requestFromForm(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	// An attached recording always narrates, whatever use_tts says.
	req.VoiceUpload, err = s.saveRecording(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	id, err := s.cfg.Jobs.Submit(r.Context(), req)
	if err != nil {
		if req.VoiceUpload != "" {
			os.Remove(req.VoiceUpload)
		}
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, GenerateResponse{JobID: id, Status: string(models.StateQueued)})
}

// saveRecording stores the voice_recording part. A missing part is left for
// request validation to reject.
func (s *Server) saveRecording(r *http.Request) (string, error) {
	if r.MultipartForm == nil {
		return "", nil
	}
	file, header, err := r.FormFile("voice_recording")
	if errors.Is(err, http.ErrMissingFile) {
		return "", nil
	}
	if err != nil {
		return "", models.Invalid("voice_recording", "unreadable upload")
	}
	defer file.Close()

	if err := voice.ValidateUpload(header.Filename, header.Size, s.cfg.MaxUploadBytes); err != nil {
		return "", err
	}
	path, err := s.cfg.Layout.SaveUpload(file, header.Filename, s.cfg.MaxUploadBytes)
	if errors.Is(err, storage.ErrTooLarge) {
		return "", models.Invalid("voice_recording", "recording exceeds %d bytes", s.cfg.MaxUploadBytes)
	}
	if err != nil {
		return "", fmt.Errorf("save recording: %w", err)
	}
	return path, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.cfg.Jobs.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusFromJob(job))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	job, err := s.finishedJob(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	name := "video_" + job.ID + filepath.Ext(job.ArtifactPath)
	s.serveArtifact(w, r, job.ArtifactPath, name)
}

func (s *Server) handleCaptions(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "srt"
	}
	if format != "srt" && format != "vtt" {
		writeError(w, http.StatusBadRequest, "format must be srt or vtt", codeValidation)
		return
	}
	job, err := s.finishedJob(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if job.SubtitlesPath == "" {
		writeError(w, http.StatusNotFound, "captions were not generated for this job", codeNotFound)
		return
	}
	path := strings.TrimSuffix(job.SubtitlesPath, filepath.Ext(job.SubtitlesPath)) + "." + format
	s.serveArtifact(w, r, path, "video_"+job.ID+"."+format)
}

// finishedJob loads the job named in the URL and requires it to have succeeded.
func (s *Server) finishedJob(r *http.Request) (models.Job, error) {
	job, err := s.cfg.Jobs.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return models.Job{}, err
	}
	if job.State != models.StateSucceeded {
		return models.Job{}, fmt.Errorf("job %s is %s: %w", job.ID, job.State, models.ErrNotReady)
	}
	return job, nil
}

func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, path, name string) {
	if s.cfg.Layout != nil && !s.cfg.Layout.Contains(path) {
		s.logger.Error().Str("path", path).Msg("artifact outside output root")
		writeError(w, http.StatusNotFound, "artifact not found", codeNotFound)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "artifact not found", codeNotFound)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "artifact not found", codeNotFound)
		return
	}

	w.Header().Set("Content-Type", storage.ContentType(name))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", codeValidation)
			return
		}
		limit = n
	}
	list, err := s.cfg.Jobs.ListRecent(r.Context(), limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	resp := JobListResponse{Jobs: make([]JobSummary, 0, len(list))}
	for _, job := range list {
		resp.Jobs = append(resp.Jobs, SummaryFromJob(job))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.configured())
}

// handleSaveSettings accepts {"<provider>_api_key": "..."}. Empty values are
// ignored. The response only ever carries booleans.
func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	v := s.cfg.Credentials.Vault()
	if v == nil || v.Degraded() {
		writeError(w, http.StatusServiceUnavailable, "credential store unavailable", codeUnavailable)
		return
	}

	var body map[string]string
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSettingsBody))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON object of string values", codeValidation)
		return
	}

	updates := map[string]string{}
	for field, key := range body {
		provider, ok := settingsProvider(field)
		if !ok {
			s.respondError(w, models.Invalid(field, "unknown setting"))
			return
		}
		if strings.TrimSpace(key) != "" {
			updates[provider] = key
		}
	}
	for provider, key := range updates {
		if err := v.Set(provider, key); err != nil {
			s.respondError(w, err)
			return
		}
		s.logger.Info().Str("provider", provider).Msg("credential updated")
	}
	writeJSON(w, http.StatusOK, s.configured())
}

func (s *Server) configured() map[string]bool {
	out := make(map[string]bool, len(vault.Providers))
	for provider, ok := range s.cfg.Credentials.Configured() {
		out["has_"+provider] = ok
	}
	return out
}

func settingsProvider(field string) (string, bool) {
	field = strings.ToLower(strings.TrimSpace(field))
	if field == "unsplash_access_key" {
		return "unsplash", true
	}
	provider, found := strings.CutSuffix(field, "_api_key")
	if !found {
		return "", false
	}
	for _, p := range vault.Providers {
		if p == provider {
			return provider, true
		}
	}
	return "", false
}

// respondError maps the error taxonomy onto status codes. Internal error text
// is logged, never returned.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	var v *models.ValidationError
	switch {
	case errors.As(err, &v):
		writeError(w, http.StatusBadRequest, v.Error(), codeValidation)
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found", codeNotFound)
	case errors.Is(err, models.ErrNotReady):
		writeError(w, http.StatusConflict, "video not ready", codeNotReady)
	case errors.Is(err, vault.ErrUnknownProvider):
		writeError(w, http.StatusBadRequest, "unknown provider", codeValidation)
	case errors.Is(err, jobs.ErrShuttingDown), errors.Is(err, vault.ErrVaultUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable", codeUnavailable)
	default:
		s.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal server error", codeInternal)
	}
}

// parseForm accepts multipart and urlencoded bodies. Upload parts beyond
// maxMemory spill to temp files.
func parseForm(r *http.Request, maxMemory int64) error {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" {
		return r.ParseMultipartForm(min(maxMemory, 32<<20))
	}
	return r.ParseForm()
}

func requestFromForm(r *http.Request) (models.Request, error) {
	req := models.Request{
		Script:       r.FormValue("script"),
		Voice:        r.FormValue("voice"),
		CaptionStyle: r.FormValue("caption_style"),
		Mood:         models.Mood(strings.ToLower(strings.TrimSpace(r.FormValue("mood")))),
	}
	var err error
	if req.UseTTS, err = formBool(r, "use_tts", true); err != nil {
		return req, err
	}
	if req.AddCaptions, err = formBool(r, "add_captions", true); err != nil {
		return req, err
	}
	if req.AddMusic, err = formBool(r, "add_music", true); err != nil {
		return req, err
	}
	return req, nil
}

func formBool(r *http.Request, field string, def bool) (bool, error) {
	raw := strings.ToLower(strings.TrimSpace(r.FormValue(field)))
	switch raw {
	case "":
		return def, nil
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, models.Invalid(field, "%q is not a boolean", raw)
	}
	return b, nil
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
