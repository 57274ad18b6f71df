// Package worker consumes job envelopes, drives the speech engine, and
// persists results: envelope metadata for live progress, the transcript
// blob, and the terminal catalog row.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"scribeflow/internal/audio"
	"scribeflow/internal/engine"
	"scribeflow/internal/models"
	"scribeflow/internal/queue"
	"scribeflow/internal/repository"
	"scribeflow/internal/storage"
	"scribeflow/pkg/logger"
)

// FunctionTranscribe is the envelope function name this worker serves.
const FunctionTranscribe = "transcribe_job"

// tokensPerSecond is the coarse heuristic mapping audio duration to an
// expected token count, used to turn token counts into a progress
// percentage.
const tokensPerSecond = 2.5

// progressFloor is reported while the expected total is unknown; 100 is
// reserved for completion.
const (
	progressFloor = 5
	progressCap   = 99
)

// runningJob pairs the cancel function with the engine subprocess so a
// kill can take down the whole process tree.
type runningJob struct {
	cancel  context.CancelFunc
	process *exec.Cmd
}

// Worker executes transcription envelopes. One Worker serves all queue
// consumers in the process; per-job state lives on the stack.
type Worker struct {
	store    storage.ArtifactStore
	jobs     repository.JobRepository
	registry *engine.Registry
	variant  string
	model    string

	mu      sync.RWMutex
	running map[string]*runningJob
}

// New builds a Worker.
func New(store storage.ArtifactStore, jobs repository.JobRepository, registry *engine.Registry, variant, model string) *Worker {
	return &Worker{
		store:    store,
		jobs:     jobs,
		registry: registry,
		variant:  variant,
		model:    model,
		running:  make(map[string]*runningJob),
	}
}

// Handle is the queue.Handler entry point.
func (w *Worker) Handle(ctx context.Context, env *queue.Envelope) error {
	switch env.Function {
	case FunctionTranscribe:
		return w.transcribeJob(ctx, env)
	default:
		return fmt.Errorf("worker: unknown function %q", env.Function)
	}
}

// Kill terminates a running job's engine subprocess tree and cancels its
// context. Returns false when the job is not running here.
func (w *Worker) Kill(envelopeID string) bool {
	w.mu.Lock()
	job, ok := w.running[envelopeID]
	w.mu.Unlock()
	if !ok {
		return false
	}
	if job.process != nil && job.process.Process != nil {
		if err := killProcessTree(job.process.Process); err != nil {
			logger.Warn("Process tree kill failed, killing pid directly",
				"envelope_id", envelopeID, "error", err)
			_ = job.process.Process.Kill()
		}
	}
	job.cancel()
	return true
}

// IsRunning reports whether the envelope is executing in this process.
func (w *Worker) IsRunning(envelopeID string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.running[envelopeID]
	return ok
}

// tokenSink bridges engine token events onto envelope metadata. It owns
// the running transcript buffer and the token-count-to-percentage
// mapping.
type tokenSink struct {
	ctx        context.Context
	env        *queue.Envelope
	parts      []string
	tokensSeen int
	expected   int
}

func (s *tokenSink) OnToken(t engine.Token) {
	s.tokensSeen++
	s.parts = append(s.parts, t.Text)

	progress := progressFloor
	if s.expected > 0 {
		progress = s.tokensSeen * 100 / s.expected
		if progress > progressCap {
			progress = progressCap
		}
		if progress < 1 {
			progress = 1
		}
	}

	payload, err := json.Marshal(t)
	if err != nil {
		payload = []byte("{}")
	}
	s.env.UpdateMeta(func(m queue.Meta) {
		m[queue.MetaLastToken] = string(payload)
		m[queue.MetaProgress] = progress
		m[queue.MetaSegment] = t.SegmentIndex
		m[queue.MetaTranscriptSoFar] = strings.Join(s.parts, " ")
	})
	if err := s.env.SaveMeta(s.ctx); err != nil {
		logger.Debug("Token meta save failed", "envelope_id", s.env.ID, "error", err)
	}
}

func (s *tokenSink) OnEvent(stage string, fields map[string]interface{}) {
	logger.Debug("Engine event", "envelope_id", s.env.ID, "stage", stage, "fields", fields)
}

// transcribeJob runs one envelope end to end. Argv carries the audio key;
// the rest of the job parameters ride on the seeded metadata.
func (w *Worker) transcribeJob(ctx context.Context, env *queue.Envelope) error {
	if len(env.Argv) < 1 {
		return fmt.Errorf("worker: envelope %s has no audio key", env.ID)
	}
	audioKey := env.Argv[0]

	meta := env.Meta()
	jobID := meta.GetString(queue.MetaTranscriptID)
	language := meta.GetString(queue.MetaLanguage)
	profile := models.QualityProfile(meta.GetString(queue.MetaQualityProfile))
	if !profile.Valid() {
		profile = models.ProfileBalanced
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracked := &runningJob{cancel: cancel}
	w.mu.Lock()
	w.running[env.ID] = tracked
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.running, env.ID)
		w.mu.Unlock()
	}()

	started := time.Now()
	logger.Info("Transcription started", "job_id", jobID, "audio_key", audioKey, "profile", string(profile))

	if err := w.store.EnsureBuckets(jobCtx); err != nil {
		return w.fail(env, jobID, fmt.Errorf("storage not ready: %w", err))
	}

	env.UpdateMeta(func(m queue.Meta) {
		m[queue.MetaStatus] = queue.StatusTranscribing
	})
	if err := env.SaveMeta(jobCtx); err != nil {
		logger.Warn("Could not persist transcribing status", "envelope_id", env.ID, "error", err)
	}
	if jobID != "" {
		if err := w.jobs.MarkRunning(jobCtx, jobID); err != nil {
			return w.fail(env, jobID, fmt.Errorf("mark running: %w", err))
		}
	}

	// Scoped temp dir for the downloaded blob; removed on every exit.
	tmpDir, err := os.MkdirTemp("", "scribeflow-job-")
	if err != nil {
		return w.fail(env, jobID, fmt.Errorf("temp dir: %w", err))
	}
	defer os.RemoveAll(tmpDir)

	audioPath := filepath.Join(tmpDir, filepath.Base(audioKey))
	if err := w.store.DownloadAudio(jobCtx, audioKey, audioPath); err != nil {
		return w.fail(env, jobID, fmt.Errorf("download audio: %w", err))
	}

	adapter, err := w.registry.Get(w.variant, w.model, "")
	if err != nil {
		return w.fail(env, jobID, err)
	}

	sink := &tokenSink{ctx: jobCtx, env: env}
	if dur, durErr := audio.WAVDuration(audioPath); durErr == nil && dur > 0 {
		sink.expected = int(dur * tokensPerSecond)
	}

	result, err := adapter.Transcribe(jobCtx, audioPath, engine.Options{
		Language:     language,
		Quantization: profile.Quantization(),
		VADMode:      w.registry.VADMode(),
		RegisterProcess: func(cmd *exec.Cmd) {
			w.mu.Lock()
			tracked.process = cmd
			w.mu.Unlock()
		},
	}, sink)
	if err != nil {
		if jobCtx.Err() != nil {
			err = fmt.Errorf("timeout")
		}
		return w.fail(env, jobID, err)
	}

	transcriptKey := audioKey + ".txt"
	if _, err := w.store.UploadTranscript(jobCtx, result.Text, transcriptKey); err != nil {
		return w.fail(env, jobID, fmt.Errorf("upload transcript: %w", err))
	}

	segmentsJSON, err := json.Marshal(result.Segments)
	if err != nil {
		segmentsJSON = []byte("[]")
	}
	env.UpdateMeta(func(m queue.Meta) {
		m[queue.MetaStatus] = queue.StatusCompleted
		m[queue.MetaProgress] = 100
		m[queue.MetaTranscriptKey] = transcriptKey
		m[queue.MetaLanguage] = result.Language
		m[queue.MetaDuration] = result.Duration
		m[queue.MetaSegmentsPartial] = string(segmentsJSON)
		m[queue.MetaSegment] = len(result.Segments)
	})
	if err := env.SaveMeta(jobCtx); err != nil {
		logger.Warn("Could not persist completed meta", "envelope_id", env.ID, "error", err)
	}

	if jobID != "" {
		duration := result.Duration
		if err := w.jobs.Complete(jobCtx, jobID, transcriptKey, result.Segments, result.Language, &duration); err != nil {
			return w.fail(env, jobID, fmt.Errorf("finalize catalog row: %w", err))
		}
	}

	logger.Info("Transcription completed",
		"job_id", jobID,
		"duration", time.Since(started).String(),
		"device", result.Device,
		"language", result.Language)
	return nil
}

// fail records the terminal failed state on both the envelope and the
// catalog row. There is no retry at this layer.
func (w *Worker) fail(env *queue.Envelope, jobID string, cause error) error {
	message := summarize(cause)
	env.UpdateMeta(func(m queue.Meta) {
		m[queue.MetaStatus] = queue.StatusFailed
		m[queue.MetaErrorMessage] = message
	})
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.SaveMeta(saveCtx); err != nil {
		logger.Error("Could not persist failed meta", "envelope_id", env.ID, "error", err)
	}

	if jobID != "" {
		if err := w.jobs.Fail(saveCtx, jobID, message); err != nil {
			logger.Error("Could not mark catalog row failed", "job_id", jobID, "error", err)
		}
	}
	logger.Error("Transcription failed", "job_id", jobID, "error", cause)
	return cause
}

// summarize keeps the user-facing error short.
func summarize(err error) string {
	msg := strings.TrimSpace(err.Error())
	if len(msg) > 200 {
		msg = msg[:197] + "..."
	}
	return msg
}
