package live

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"scribeflow/internal/audio"
	"scribeflow/internal/engine"
	"scribeflow/internal/models"
	"scribeflow/internal/repository"
	"scribeflow/internal/storage"
	"scribeflow/pkg/logger"
)

// ErrSessionNotFound covers both unknown session ids and sessions owned
// by someone else.
var ErrSessionNotFound = errors.New("live: session not found")

// ErrCorruptAudio aborts a session whose accumulated WAV can no longer be
// trusted; callers surface it as a validation error.
var ErrCorruptAudio = errors.New("live: corrupt session audio")

// sessionTTL is how long an inactive session survives before any live
// request purges it.
const sessionTTL = 3600 * time.Second

// Config tunes the rolling decode.
type Config struct {
	WindowSeconds        float64
	OverlapSeconds       float64
	RepeatWindowSeconds  float64
	RepeatMaxDuplicates  int
	Root                 string // session directories live here
	EngineVariant        string
	ModelSize            string
}

// Manager owns the live-session table: a process-wide concurrent map
// guarded by its own mutex, never shared across worker processes.
// Per-session work serializes through each session's mutex, not the
// table lock.
type Manager struct {
	cfg      Config
	registry *engine.Registry
	store    storage.ArtifactStore
	jobs     repository.JobRepository

	tableMu  sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewManager builds the live-session subsystem.
func NewManager(cfg Config, registry *engine.Registry, store storage.ArtifactStore, jobs repository.JobRepository) *Manager {
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = 5
	}
	if cfg.OverlapSeconds < 0 {
		cfg.OverlapSeconds = 0
	}
	return &Manager{
		cfg:      cfg,
		registry: registry,
		store:    store,
		jobs:     jobs,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Create opens a session directory and registers the session.
func (m *Manager) Create(ownerID uint, language string, beamSize int) (*Session, error) {
	m.purgeExpired()

	id := uuid.New().String()
	dir := filepath.Join(m.cfg.Root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("live: create session dir: %w", err)
	}

	recentCap := 8
	if c := m.cfg.RepeatMaxDuplicates * 4; c > recentCap {
		recentCap = c
	}

	session := &Session{
		ID:           id,
		OwnerID:      ownerID,
		Language:     language,
		BeamSize:     beamSize,
		dir:          dir,
		audioPath:    filepath.Join(dir, "audio.wav"),
		createdAt:    m.now(),
		lastActivity: m.now(),
		ring:         NewRing(m.cfg.WindowSeconds),
		recentCap:    recentCap,
	}

	m.tableMu.Lock()
	m.sessions[id] = session
	m.tableMu.Unlock()

	logger.Info("Live session created", "session_id", id, "owner_id", ownerID)
	return session, nil
}

// lookup returns the session or ErrSessionNotFound; ownership mismatches
// are indistinguishable from missing ids.
func (m *Manager) lookup(sessionID string, ownerID uint) (*Session, error) {
	m.tableMu.RLock()
	session, ok := m.sessions[sessionID]
	m.tableMu.RUnlock()
	if !ok || session.OwnerID != ownerID {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// PushChunk normalizes and appends one audio chunk, then decodes the
// rolling window and promotes new hypotheses.
func (m *Manager) PushChunk(ctx context.Context, sessionID string, ownerID uint, chunkPath string) (Snapshot, error) {
	m.purgeExpired()

	session, err := m.lookup(sessionID, ownerID)
	if err != nil {
		return Snapshot{}, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	session.lastActivity = m.now()
	session.chunkCount++

	samples, err := audio.DecodeToPCM(ctx, chunkPath)
	if err != nil {
		// Non-decodable chunks are dropped and counted, not fatal.
		session.droppedChunks++
		logger.Warn("Dropped undecodable live chunk", "session_id", sessionID, "error", err)
		return session.snapshot(nil), nil
	}
	if len(samples) == 0 {
		session.droppedChunks++
		return session.snapshot(nil), nil
	}

	if err := audio.AppendWAV(session.audioPath, audio.PCMBytes(samples)); err != nil {
		if errors.Is(err, audio.ErrCorruptHeader) {
			m.remove(session)
			return Snapshot{}, fmt.Errorf("%w: %v", ErrCorruptAudio, err)
		}
		return Snapshot{}, fmt.Errorf("live: append chunk: %w", err)
	}
	session.ring.Append(samples)

	windowStart := session.lastTEnd - m.cfg.OverlapSeconds
	if windowStart < 0 {
		windowStart = 0
	}
	windowPath := filepath.Join(session.dir, "window.wav")
	windowOffset, windowEnd, err := session.ring.ExportWindow(windowStart, windowPath)
	if err != nil {
		session.droppedChunks++
		return session.snapshot(nil), nil
	}
	defer os.Remove(windowPath)

	adapter, err := m.registry.Get(m.cfg.EngineVariant, m.cfg.ModelSize, "")
	if err != nil {
		return Snapshot{}, err
	}
	result, err := adapter.Transcribe(ctx, windowPath, engine.Options{
		Language: session.Language,
		BeamSize: session.BeamSize,
		VADMode:  m.registry.VADMode(),
		Extra: map[string]interface{}{
			"condition_on_previous_text": false,
			"temperature":                0.0,
			"word_timestamps":            false,
		},
	}, engine.NopSink{})
	if err != nil {
		return Snapshot{}, fmt.Errorf("live: window decode: %w", err)
	}

	var accepted models.SegmentList
	for _, seg := range result.Segments {
		absolute := models.Segment{
			Start:   windowOffset + seg.Start,
			End:     windowOffset + seg.End,
			Speaker: seg.Speaker,
			Text:    seg.Text,
		}
		if session.promote(absolute, m.cfg.RepeatWindowSeconds, m.cfg.RepeatMaxDuplicates) {
			accepted = append(accepted, absolute)
		}
	}

	if len(accepted) > 0 {
		session.lastText = session.transcript()
	}
	if windowEnd > session.lastDuration {
		session.lastDuration = windowEnd
	}
	if session.lastTEnd > session.lastDuration {
		session.lastDuration = session.lastTEnd
	}
	if result.Language != "" {
		session.Language = result.Language
	}

	return session.snapshot(accepted), nil
}

// Finalize decodes the full accumulated audio at full quality, persists
// the canonical WAV and transcript, creates the completed catalog row,
// and destroys the session.
func (m *Manager) Finalize(ctx context.Context, sessionID string, ownerID uint, title string) (*models.Job, error) {
	session, err := m.lookup(sessionID, ownerID)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if _, err := os.Stat(session.audioPath); err != nil {
		m.remove(session)
		return nil, fmt.Errorf("%w: no audio accumulated", ErrSessionNotFound)
	}

	adapter, err := m.registry.Get(m.cfg.EngineVariant, m.cfg.ModelSize, "")
	if err != nil {
		return nil, err
	}
	result, err := adapter.Transcribe(ctx, session.audioPath, engine.Options{
		Language:       session.Language,
		BeamSize:       session.BeamSize,
		VADMode:        m.registry.VADMode(),
		WordTimestamps: true,
	}, engine.NopSink{})
	if err != nil {
		return nil, fmt.Errorf("live: final decode: %w", err)
	}

	audioKey := fmt.Sprintf("%d/%s-live.wav", ownerID, session.ID)
	wav, err := os.Open(session.audioPath)
	if err != nil {
		return nil, err
	}
	info, _ := wav.Stat()
	size := int64(-1)
	if info != nil {
		size = info.Size()
	}
	if _, err := m.store.UploadAudio(ctx, wav, size, audioKey); err != nil {
		wav.Close()
		return nil, fmt.Errorf("live: persist audio: %w", err)
	}
	wav.Close()

	transcriptKey := audioKey + ".txt"
	if _, err := m.store.UploadTranscript(ctx, result.Text, transcriptKey); err != nil {
		return nil, fmt.Errorf("live: persist transcript: %w", err)
	}

	if title == "" {
		title = "Live session " + session.createdAt.Format("2006-01-02 15:04")
	}
	duration := result.Duration
	job := &models.Job{
		OwnerID:        ownerID,
		QualityProfile: models.ProfileBalanced,
		Language:       result.Language,
		Title:          title,
		InputKey:       audioKey,
		OutputKey:      &transcriptKey,
		Segments:       result.Segments,
		DurationSec:    &duration,
	}
	if err := m.jobs.CreateCompleted(ctx, job); err != nil {
		return nil, fmt.Errorf("live: create catalog row: %w", err)
	}

	m.remove(session)
	logger.Info("Live session finalized", "session_id", session.ID, "job_id", job.ID,
		"duration", result.Duration, "segments", len(result.Segments))
	return job, nil
}

// Discard destroys a session without persisting anything.
func (m *Manager) Discard(sessionID string, ownerID uint) error {
	session, err := m.lookup(sessionID, ownerID)
	if err != nil {
		return err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	m.remove(session)
	return nil
}

// remove must be called with the session lock held (or before the session
// is reachable by others).
func (m *Manager) remove(session *Session) {
	m.tableMu.Lock()
	delete(m.sessions, session.ID)
	m.tableMu.Unlock()
	if err := os.RemoveAll(session.dir); err != nil {
		logger.Warn("Could not remove session dir", "session_id", session.ID, "error", err)
	}
}

// purgeExpired drops sessions idle past the TTL. Any live request runs
// it.
func (m *Manager) purgeExpired() {
	now := m.now()

	m.tableMu.RLock()
	var expired []*Session
	for _, session := range m.sessions {
		if now.Sub(session.lastActivity) > sessionTTL {
			expired = append(expired, session)
		}
	}
	m.tableMu.RUnlock()

	for _, session := range expired {
		session.mu.Lock()
		m.remove(session)
		session.mu.Unlock()
		logger.Info("Purged expired live session", "session_id", session.ID)
	}
}

// Count reports live sessions, for health reporting and tests.
func (m *Manager) Count() int {
	m.tableMu.RLock()
	defer m.tableMu.RUnlock()
	return len(m.sessions)
}
