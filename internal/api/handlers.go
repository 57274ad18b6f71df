// Package api exposes the HTTP surface: submission, the progress stream,
// the transcript catalog, exports, live sessions, and auth.
package api

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"scribeflow/internal/auth"
	"scribeflow/internal/config"
	"scribeflow/internal/export"
	"scribeflow/internal/live"
	"scribeflow/internal/models"
	"scribeflow/internal/queue"
	"scribeflow/internal/repository"
	"scribeflow/internal/service"
	"scribeflow/internal/sse"
	"scribeflow/internal/storage"
	"scribeflow/pkg/logger"
)

// JobKiller terminates a running job's engine work; the worker runtime
// implements it.
type JobKiller interface {
	Kill(envelopeID string) bool
}

// Handler carries the wired dependencies for every endpoint.
type Handler struct {
	config      *config.Config
	authService *auth.AuthService
	users       service.UserService
	jobs        repository.JobRepository
	store       storage.ArtifactStore
	queue       queue.Queue
	tailer      *sse.Tailer
	live        *live.Manager
	exports     *export.Service
	files       service.FileService
	killer      JobKiller

	// apiErrors counts unhandled handler failures; process-local.
	apiErrors atomic.Int64
}

// NewHandler wires the handler.
func NewHandler(
	cfg *config.Config,
	authService *auth.AuthService,
	users service.UserService,
	jobs repository.JobRepository,
	store storage.ArtifactStore,
	q queue.Queue,
	liveManager *live.Manager,
	exports *export.Service,
	killer JobKiller,
) *Handler {
	return &Handler{
		config:      cfg,
		authService: authService,
		users:       users,
		jobs:        jobs,
		store:       store,
		queue:       q,
		tailer:      sse.NewTailer(q),
		live:        liveManager,
		exports:     exports,
		files:       service.NewFileService(),
		killer:      killer,
	}
}

// APIErrors reports the unhandled-error count, for tests and diagnostics.
func (h *Handler) APIErrors() int64 { return h.apiErrors.Load() }

// internalError logs, counts, and returns the generic 500 body.
func (h *Handler) internalError(c *gin.Context, err error) {
	h.apiErrors.Add(1)
	logger.Error("Handler failure", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

// ownerID pulls the authenticated owner out of the request context.
func ownerID(c *gin.Context) (uint, bool) {
	v, ok := c.Get("user_id")
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok
}

// HealthCheck godoc
// @Summary Health check
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /healthz [get]
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// --- auth ---

type credentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Signup godoc
// @Summary Create an account
// @Accept json
// @Produce json
// @Param body body credentialsRequest true "Credentials"
// @Success 201 {object} map[string]interface{}
// @Router /auth/signup [post]
func (h *Handler) Signup(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}
	user, err := h.users.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrUsernameTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "username already exists"})
			return
		}
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": user.ID, "username": user.Username})
}

// Token godoc
// @Summary Issue an access token
// @Accept json
// @Produce json
// @Param body body credentialsRequest true "Credentials"
// @Success 200 {object} map[string]interface{}
// @Router /auth/token [post]
func (h *Handler) Token(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}
	token, user, err := h.users.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	refresh, err := h.users.IssueRefreshToken(c.Request.Context(), user)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  token,
		"refresh_token": refresh,
		"token_type":    "bearer",
		"user_id":       user.ID,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh godoc
// @Summary Rotate a refresh token into a new access token
// @Accept json
// @Produce json
// @Param body body refreshRequest true "Refresh token"
// @Success 200 {object} map[string]interface{}
// @Router /auth/refresh [post]
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh_token is required"})
		return
	}
	access, refresh, err := h.users.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRefreshToken) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
			return
		}
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
	})
}

// --- API keys ---

type createAPIKeyRequest struct {
	Name string `json:"name"`
}

// CreateAPIKey godoc
// @Summary Mint a long-lived API key
// @Accept json
// @Produce json
// @Success 201 {object} map[string]interface{}
// @Security BearerAuth
// @Router /api-keys [post]
func (h *Handler) CreateAPIKey(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	var req createAPIKeyRequest
	_ = c.ShouldBindJSON(&req)

	key, err := h.users.CreateAPIKey(c.Request.Context(), owner, req.Name)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": key.ID, "key": key.Key, "name": key.Name})
}

// ListAPIKeys godoc
// @Summary List this account's API keys
// @Produce json
// @Success 200 {array} models.APIKey
// @Security BearerAuth
// @Router /api-keys [get]
func (h *Handler) ListAPIKeys(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	keys, err := h.users.ListAPIKeys(c.Request.Context(), owner)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, keys)
}

// DeleteAPIKey godoc
// @Summary Revoke an API key
// @Param id path int true "Key id"
// @Success 204
// @Security BearerAuth
// @Router /api-keys/{id} [delete]
func (h *Handler) DeleteAPIKey(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key id"})
		return
	}
	if err := h.users.DeleteAPIKey(c.Request.Context(), owner, uint(id)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "api key not found"})
			return
		}
		h.internalError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- submission ---

var mediaExtensions = map[string]bool{
	".wav": true, ".mp3": true, ".m4a": true, ".flac": true, ".ogg": true,
	".opus": true, ".aac": true, ".wma": true, ".webm": true,
	".mp4": true, ".mov": true, ".mkv": true, ".avi": true,
}

// supportedMedia accepts by extension OR by MIME prefix.
func supportedMedia(header *multipart.FileHeader) bool {
	if mediaExtensions[strings.ToLower(filepath.Ext(header.Filename))] {
		return true
	}
	contentType := header.Header.Get("Content-Type")
	return strings.HasPrefix(contentType, "audio/") || strings.HasPrefix(contentType, "video/")
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	clean := unsafeKeyChars.ReplaceAllString(base, "-")
	clean = strings.Trim(clean, "-_.")
	if clean == "" {
		clean = "upload"
	}
	return clean
}

// Submit godoc
// @Summary Submit audio for transcription
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Audio or video file"
// @Param language formData string false "Language hint"
// @Param profile formData string false "Quality profile (fast|balanced|precise)"
// @Param title formData string false "Title"
// @Param tags formData string false "Comma-separated tags"
// @Success 201 {object} map[string]interface{}
// @Security BearerAuth
// @Router /transcribe [post]
func (h *Handler) Submit(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	profile := models.QualityProfile(strings.ToLower(strings.TrimSpace(c.PostForm("profile"))))
	if profile == "" {
		profile = models.QualityProfile(h.config.QualityProfileDefault)
	}
	if !profile.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown quality profile %q", profile)})
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "an audio file is required"})
		return
	}
	if !supportedMedia(header) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only audio or video files are accepted"})
		return
	}
	if header.Size == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uploaded file is empty"})
		return
	}
	maxBytes := int64(h.config.MaxUploadMB) * 1024 * 1024
	if header.Size > maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("file exceeds the %d MB upload limit", h.config.MaxUploadMB),
		})
		return
	}

	language := strings.TrimSpace(c.PostForm("language"))
	title := strings.TrimSpace(c.PostForm("title"))
	if title == "" {
		title = header.Filename
	}
	var tags models.TagList
	if raw := strings.TrimSpace(c.PostForm("tags")); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}

	src, err := header.Open()
	if err != nil {
		h.internalError(c, err)
		return
	}
	defer src.Close()

	ctx := c.Request.Context()
	if err := h.store.EnsureBuckets(ctx); err != nil {
		h.internalError(c, err)
		return
	}

	key := fmt.Sprintf("%d/%s-%s", owner, uuid.New().String(), sanitizeFilename(header.Filename))
	if _, err := h.store.UploadAudio(ctx, src, header.Size, key); err != nil {
		h.internalError(c, err)
		return
	}

	job := &models.Job{
		OwnerID:        owner,
		QualityProfile: profile,
		Language:       language,
		Title:          title,
		Tags:           tags,
		InputKey:       key,
	}
	if err := h.jobs.Create(ctx, job); err != nil {
		h.internalError(c, err)
		return
	}

	timeout := time.Duration(h.config.JobTimeoutSeconds) * time.Second
	env, err := h.queue.Enqueue(ctx, "transcribe_job", []string{key}, queue.Meta{
		queue.MetaUserID:         int(owner),
		queue.MetaTranscriptID:   job.ID,
		queue.MetaLanguage:       language,
		queue.MetaQualityProfile: string(profile),
	}, timeout)
	if err != nil {
		// Roll the catalog row back so a failed enqueue leaves no orphan.
		_ = h.jobs.Delete(ctx, owner, job.ID)
		if errors.Is(err, queue.ErrBrokerUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "job queue is unavailable"})
			return
		}
		h.internalError(c, err)
		return
	}

	if err := h.jobs.SetEnvelopeID(ctx, job.ID, env.ID); err != nil {
		h.internalError(c, err)
		return
	}

	logger.Info("Job submitted", "job_id", env.ID, "owner_id", owner, "profile", string(profile))
	c.JSON(http.StatusCreated, gin.H{
		"job_id":          env.ID,
		"status":          "queued",
		"quality_profile": profile,
	})
}

// --- job snapshot & stream ---

// JobStatus godoc
// @Summary Point-in-time job snapshot
// @Produce json
// @Param job_id path string true "Job id"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /jobs/{job_id} [get]
func (h *Handler) JobStatus(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	envelopeID := c.Param("job_id")

	env, err := h.queue.Fetch(c.Request.Context(), envelopeID)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		h.internalError(c, err)
		return
	}

	meta := env.Meta()
	if _, present := meta[queue.MetaUserID]; present && uint(meta.GetInt(queue.MetaUserID)) != owner {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	body := gin.H{
		"job_id":          envelopeID,
		"status":          meta.GetString(queue.MetaStatus),
		"progress":        meta.GetInt(queue.MetaProgress),
		"segment":         meta.GetInt(queue.MetaSegment),
		"quality_profile": meta.GetString(queue.MetaQualityProfile),
		"updated_at":      meta.GetString(queue.MetaUpdatedAt),
	}
	if id := meta.GetString(queue.MetaTranscriptID); id != "" {
		body["transcript_id"] = id
	}
	if msg := meta.GetString(queue.MetaErrorMessage); msg != "" {
		body["error_message"] = msg
	}
	if key := meta.GetString(queue.MetaTranscriptKey); key != "" {
		ttl := time.Duration(h.config.BlobPresignedTTL) * time.Second
		if url, err := h.store.PresignedURL(c.Request.Context(), key, ttl); err == nil && url != "" {
			body["transcript_url"] = url
		}
	}
	c.JSON(http.StatusOK, body)
}

// Stream godoc
// @Summary Server-sent progress event stream
// @Produce text/event-stream
// @Param job_id path string true "Job id"
// @Security BearerAuth
// @Router /transcribe/{job_id} [get]
func (h *Handler) Stream(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	sse.SetHeaders(c.Writer.Header())
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	events := h.tailer.Tail(c.Request.Context(), c.Param("job_id"), owner)
	for event := range events {
		if err := sse.WriteEvent(c.Writer, event); err != nil {
			return
		}
		if event.Terminal() {
			return
		}
	}
}

// KillJob godoc
// @Summary Forcefully terminate a running job
// @Produce json
// @Param job_id path string true "Job id"
// @Success 202 {object} map[string]interface{}
// @Security BearerAuth
// @Router /jobs/{job_id}/kill [post]
func (h *Handler) KillJob(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	envelopeID := c.Param("job_id")

	env, err := h.queue.Fetch(c.Request.Context(), envelopeID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	meta := env.Meta()
	if _, present := meta[queue.MetaUserID]; present && uint(meta.GetInt(queue.MetaUserID)) != owner {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	if h.killer == nil || !h.killer.Kill(envelopeID) {
		c.JSON(http.StatusConflict, gin.H{"error": "job is not running"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "terminating"})
}

// --- transcript catalog ---

type jobSummary struct {
	ID             string                `json:"id"`
	State          models.JobState       `json:"state"`
	QualityProfile models.QualityProfile `json:"quality_profile"`
	Language       string                `json:"language,omitempty"`
	Title          string                `json:"title,omitempty"`
	Tags           models.TagList        `json:"tags,omitempty"`
	DurationSec    *float64              `json:"duration_seconds,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	CompletedAt    *time.Time            `json:"completed_at,omitempty"`
}

// ListTranscripts godoc
// @Summary List owned jobs
// @Produce json
// @Param search query string false "Substring filter over title, language, tags"
// @Param status query string false "Exact state filter"
// @Success 200 {array} jobSummary
// @Security BearerAuth
// @Router /transcripts [get]
func (h *Handler) ListTranscripts(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	jobs, err := h.jobs.List(c.Request.Context(), owner, repository.JobSearch{
		Search: c.Query("search"),
		State:  models.JobState(c.Query("status")),
	})
	if err != nil {
		h.internalError(c, err)
		return
	}

	out := make([]jobSummary, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, jobSummary{
			ID:             job.ID,
			State:          job.State,
			QualityProfile: job.QualityProfile,
			Language:       job.Language,
			Title:          job.Title,
			Tags:           job.Tags,
			DurationSec:    job.DurationSec,
			CreatedAt:      job.CreatedAt,
			CompletedAt:    job.CompletedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}

// findOwnedJob maps misses and cross-owner reads to a uniform 404.
func (h *Handler) findOwnedJob(c *gin.Context) (*models.Job, bool) {
	owner, ok := ownerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return nil, false
	}
	job, err := h.jobs.FindByID(c.Request.Context(), owner, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "transcript not found"})
			return nil, false
		}
		h.internalError(c, err)
		return nil, false
	}
	return job, true
}

// GetTranscript godoc
// @Summary Full job detail with segments and a presigned transcript URL
// @Produce json
// @Param id path string true "Transcript id"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /transcripts/{id} [get]
func (h *Handler) GetTranscript(c *gin.Context) {
	job, ok := h.findOwnedJob(c)
	if !ok {
		return
	}

	body := gin.H{
		"id":              job.ID,
		"state":           job.State,
		"quality_profile": job.QualityProfile,
		"language":        job.Language,
		"title":           job.Title,
		"tags":            job.Tags,
		"segments":        job.Segments,
		"created_at":      job.CreatedAt,
		"updated_at":      job.UpdatedAt,
	}
	if job.DurationSec != nil {
		body["duration_seconds"] = *job.DurationSec
	}
	if job.CompletedAt != nil {
		body["completed_at"] = *job.CompletedAt
	}
	if job.ErrorMessage != nil {
		body["error_message"] = *job.ErrorMessage
	}
	if job.OutputKey != nil {
		ttl := time.Duration(h.config.BlobPresignedTTL) * time.Second
		if url, err := h.store.PresignedURL(c.Request.Context(), *job.OutputKey, ttl); err == nil && url != "" {
			body["transcript_url"] = url
		}
	}
	c.JSON(http.StatusOK, body)
}

// DownloadTranscript godoc
// @Summary Download the transcript in txt, md, or srt
// @Produce plain
// @Param id path string true "Transcript id"
// @Param format query string false "txt|md|srt (default txt)"
// @Success 200 {string} string
// @Security BearerAuth
// @Router /transcripts/{id}/download [get]
func (h *Handler) DownloadTranscript(c *gin.Context) {
	job, ok := h.findOwnedJob(c)
	if !ok {
		return
	}

	format := c.DefaultQuery("format", export.FormatTXT)
	if !export.ValidFormat(format) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported format %q", format)})
		return
	}
	if job.OutputKey == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "transcript not ready"})
		return
	}

	transcript, err := h.store.DownloadTranscript(c.Request.Context(), *job.OutputKey)
	if err != nil {
		h.internalError(c, err)
		return
	}

	content, err := export.Render(format, job, transcript)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=transcript-%s.%s", job.ID, format))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(content))
}

type exportRequest struct {
	Destination string `json:"destination" binding:"required"`
	Format      string `json:"format"`
	Note        string `json:"note"`
	TargetURL   string `json:"target_url"`
}

// ExportTranscript godoc
// @Summary Export a transcript to an external destination
// @Accept json
// @Produce json
// @Param id path string true "Transcript id"
// @Param body body exportRequest true "Export request"
// @Success 202 {object} map[string]interface{}
// @Security BearerAuth
// @Router /transcripts/{id}/export [post]
func (h *Handler) ExportTranscript(c *gin.Context) {
	job, ok := h.findOwnedJob(c)
	if !ok {
		return
	}

	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "destination is required"})
		return
	}
	if !export.ValidDestination(req.Destination) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported destination %q", req.Destination)})
		return
	}
	if req.Format == "" {
		req.Format = export.FormatTXT
	}
	if !export.ValidFormat(req.Format) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported format %q", req.Format)})
		return
	}
	if job.OutputKey == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "transcript not ready"})
		return
	}

	transcript, err := h.store.DownloadTranscript(c.Request.Context(), *job.OutputKey)
	if err != nil {
		h.internalError(c, err)
		return
	}
	content, err := export.Render(req.Format, job, transcript)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.exports.Dispatch(c.Request.Context(), export.Request{
		JobID:       job.ID,
		Destination: req.Destination,
		Format:      req.Format,
		Note:        req.Note,
		TargetURL:   req.TargetURL,
	}, content); err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "destination": req.Destination})
}

// DeleteTranscript godoc
// @Summary Delete a job and its blobs
// @Param id path string true "Transcript id"
// @Success 204
// @Security BearerAuth
// @Router /transcripts/{id} [delete]
func (h *Handler) DeleteTranscript(c *gin.Context) {
	job, ok := h.findOwnedJob(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := h.store.DeleteAudio(ctx, job.InputKey); err != nil {
		logger.Warn("Could not delete audio blob", "key", job.InputKey, "error", err)
	}
	if job.OutputKey != nil {
		if err := h.store.DeleteTranscript(ctx, *job.OutputKey); err != nil {
			logger.Warn("Could not delete transcript blob", "key", *job.OutputKey, "error", err)
		}
	}
	if err := h.jobs.Delete(ctx, job.OwnerID, job.ID); err != nil {
		h.internalError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- live sessions ---

type liveCreateRequest struct {
	Language string `json:"language"`
	BeamSize int    `json:"beam_size"`
}

// CreateLiveSession godoc
// @Summary Start a live transcription session
// @Accept json
// @Produce json
// @Success 201 {object} map[string]interface{}
// @Security BearerAuth
// @Router /transcriptions/live/sessions [post]
func (h *Handler) CreateLiveSession(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req liveCreateRequest
	_ = c.ShouldBindJSON(&req) // all fields optional

	session, err := h.live.Create(owner, req.Language, req.BeamSize)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session_id": session.ID})
}

// PushLiveChunk godoc
// @Summary Append an audio chunk to a live session
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Session id"
// @Param chunk formData file true "Audio chunk"
// @Success 200 {object} live.Snapshot
// @Security BearerAuth
// @Router /transcriptions/live/sessions/{id}/chunk [post]
func (h *Handler) PushLiveChunk(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	header, err := c.FormFile("chunk")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "an audio chunk is required"})
		return
	}

	tmpPath, err := h.files.SaveUpload(header, filepath.Join(os.TempDir(), "scribeflow-chunks"))
	if err != nil {
		h.internalError(c, err)
		return
	}
	defer func() { _ = h.files.RemoveFile(tmpPath) }()

	snapshot, err := h.live.PushChunk(c.Request.Context(), c.Param("id"), owner, tmpPath)
	if err != nil {
		switch {
		case errors.Is(err, live.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		case errors.Is(err, live.ErrCorruptAudio):
			c.JSON(http.StatusBadRequest, gin.H{"error": "session audio is corrupted; session closed"})
		default:
			h.internalError(c, err)
		}
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

type liveFinalizeRequest struct {
	Title string `json:"title"`
}

// FinalizeLiveSession godoc
// @Summary Finalize a live session into a completed job
// @Accept json
// @Produce json
// @Param id path string true "Session id"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /transcriptions/live/sessions/{id}/finalize [post]
func (h *Handler) FinalizeLiveSession(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req liveFinalizeRequest
	_ = c.ShouldBindJSON(&req)

	job, err := h.live.Finalize(c.Request.Context(), c.Param("id"), owner, req.Title)
	if err != nil {
		if errors.Is(err, live.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		h.internalError(c, err)
		return
	}

	body := gin.H{
		"job_id":   job.ID,
		"state":    job.State,
		"title":    job.Title,
		"language": job.Language,
		"segments": job.Segments,
	}
	if job.DurationSec != nil {
		body["duration_seconds"] = *job.DurationSec
	}
	c.JSON(http.StatusOK, body)
}

// DiscardLiveSession godoc
// @Summary Discard a live session without persisting it
// @Param id path string true "Session id"
// @Success 204
// @Security BearerAuth
// @Router /transcriptions/live/sessions/{id} [delete]
func (h *Handler) DiscardLiveSession(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	if err := h.live.Discard(c.Param("id"), owner); err != nil {
		if errors.Is(err, live.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		h.internalError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
