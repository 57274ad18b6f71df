package worker

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"scribeflow/internal/audio"
	"scribeflow/internal/engine"
	"scribeflow/internal/models"
	"scribeflow/internal/queue"
	"scribeflow/internal/repository"
	"scribeflow/internal/storage"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type fixture struct {
	worker *Worker
	store  *storage.MemoryStore
	jobs   repository.JobRepository
	queue  *queue.MemoryQueue
	reg    *engine.Registry
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Job{}))

	store := storage.NewMemoryStore()
	jobs := repository.NewJobRepository(db)
	reg := engine.NewRegistry(engine.RegistryConfig{DevicePreference: "cpu", VADMode: "off"})
	w := New(store, jobs, reg, engine.VariantStub, "small")
	q := queue.NewMemoryQueue(w.Handle)
	t.Cleanup(q.Stop)

	return &fixture{worker: w, store: store, jobs: jobs, queue: q, reg: reg}
}

// submit uploads a speech wav, creates the catalog row, and enqueues the
// envelope the way the submission facade does.
func (f *fixture) submit(t *testing.T, seconds float64) (*models.Job, *queue.Envelope) {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "in.wav")
	n := int(seconds * audio.SampleRate)
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(500 * ((i % 89) - 44))
	}
	require.NoError(t, audio.WriteWAV(path, samples))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	key := "1/upload-in.wav"
	_, err = f.store.UploadAudio(ctx, bytes.NewReader(data), int64(len(data)), key)
	require.NoError(t, err)

	job := &models.Job{
		OwnerID:        1,
		QualityProfile: models.ProfileBalanced,
		Language:       "en",
		Title:          "demo",
		InputKey:       key,
	}
	require.NoError(t, f.jobs.Create(ctx, job))

	env, err := f.queue.Enqueue(ctx, FunctionTranscribe, []string{key}, queue.Meta{
		queue.MetaUserID:         1,
		queue.MetaTranscriptID:   job.ID,
		queue.MetaLanguage:       "en",
		queue.MetaQualityProfile: string(models.ProfileBalanced),
	}, 0)
	require.NoError(t, err)
	return job, env
}

func TestTranscribeJobHappyPath(t *testing.T) {
	f := setup(t)
	job, env := f.submit(t, 1.0)

	require.True(t, f.queue.Wait(env.ID, 5*time.Second))

	meta := env.Meta()
	assert.Equal(t, queue.StatusCompleted, meta.GetString(queue.MetaStatus))
	assert.Equal(t, 100, meta.GetInt(queue.MetaProgress))
	assert.Equal(t, job.InputKey+".txt", meta.GetString(queue.MetaTranscriptKey))
	assert.Equal(t, "en", meta.GetString(queue.MetaLanguage))
	assert.InDelta(t, 1.0, meta.GetFloat(queue.MetaDuration), 0.05)
	assert.NotEmpty(t, meta.GetString(queue.MetaLastToken))
	assert.NotEmpty(t, meta.GetString(queue.MetaTranscriptSoFar))

	got, err := f.jobs.FindByID(context.Background(), 1, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.State)
	require.NotNil(t, got.OutputKey)
	require.NotNil(t, got.CompletedAt)
	assert.NotEmpty(t, got.Segments)

	text, err := f.store.DownloadTranscript(context.Background(), *got.OutputKey)
	require.NoError(t, err)
	assert.NotEmpty(t, text)
}

func TestEngineFailureMarksJobFailed(t *testing.T) {
	f := setup(t)

	adapter, err := f.reg.Get(engine.VariantStub, "small", "")
	require.NoError(t, err)
	adapter.(*engine.StubAdapter).FailWith = assert.AnError

	job, env := f.submit(t, 0.5)
	require.True(t, f.queue.Wait(env.ID, 5*time.Second))

	meta := env.Meta()
	assert.Equal(t, queue.StatusFailed, meta.GetString(queue.MetaStatus))
	assert.NotEmpty(t, meta.GetString(queue.MetaErrorMessage))

	got, err := f.jobs.FindByID(context.Background(), 1, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.State)
	require.NotNil(t, got.ErrorMessage)
	assert.Nil(t, got.OutputKey)
	assert.Nil(t, got.CompletedAt)
}

func TestMissingAudioBlobIsFatal(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	job := &models.Job{OwnerID: 1, QualityProfile: models.ProfileFast, InputKey: "1/ghost.wav"}
	require.NoError(t, f.jobs.Create(ctx, job))

	env, err := f.queue.Enqueue(ctx, FunctionTranscribe, []string{"1/ghost.wav"}, queue.Meta{
		queue.MetaTranscriptID: job.ID,
	}, 0)
	require.NoError(t, err)
	require.True(t, f.queue.Wait(env.ID, 5*time.Second))

	assert.Equal(t, queue.StatusFailed, env.Meta().GetString(queue.MetaStatus))
	got, err := f.jobs.FindByID(ctx, 1, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.State)
}

func TestProgressIsMonotonicAcrossTokens(t *testing.T) {
	f := setup(t)
	_, env := f.submit(t, 3.0)

	// Poll progress while the job runs; it must never regress.
	last := 0
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		meta := env.Meta()
		p := meta.GetInt(queue.MetaProgress)
		require.GreaterOrEqual(t, p, last)
		last = p
		if meta.GetString(queue.MetaStatus) == queue.StatusCompleted {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 100, last)
}

func TestUnknownFunctionRejected(t *testing.T) {
	f := setup(t)
	env, err := f.queue.Enqueue(context.Background(), "summarize_job", nil, nil, 0)
	require.NoError(t, err)
	require.True(t, f.queue.Wait(env.ID, 2*time.Second))
	assert.Equal(t, queue.StatusFailed, env.Meta().GetString(queue.MetaStatus))
}
