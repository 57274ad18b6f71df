package repository

import (
	"context"
	"testing"

	"scribeflow/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Job{}, &models.User{}))
	return db
}

func newJob(owner uint) *models.Job {
	return &models.Job{
		OwnerID:        owner,
		QualityProfile: models.ProfileBalanced,
		Title:          "demo",
		Language:       "en",
		Tags:           models.TagList{"meeting"},
		InputKey:       "1/abc-demo.wav",
	}
}

func TestJobLifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(testDB(t))

	job := newJob(1)
	require.NoError(t, repo.Create(ctx, job))
	assert.Equal(t, models.JobQueued, job.State)

	require.NoError(t, repo.MarkRunning(ctx, job.ID))

	segs := models.SegmentList{{Start: 0, End: 1, Text: "hola mundo"}}
	dur := 1.0
	require.NoError(t, repo.Complete(ctx, job.ID, job.InputKey+".txt", segs, "es", &dur))

	got, err := repo.FindByID(ctx, 1, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.State)
	require.NotNil(t, got.OutputKey)
	assert.Equal(t, "1/abc-demo.wav.txt", *got.OutputKey)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.DurationSec)
	assert.InDelta(t, 1.0, *got.DurationSec, 1e-9)
	assert.Equal(t, segs, got.Segments)
	assert.Equal(t, "es", got.Language)
}

func TestInvalidTransitionsRejected(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(testDB(t))

	job := newJob(1)
	require.NoError(t, repo.Create(ctx, job))

	// Queued -> Completed is not an edge.
	err := repo.Complete(ctx, job.ID, "k", nil, "", nil)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	// Queued -> Failed is fine; any further transition is not.
	require.NoError(t, repo.Fail(ctx, job.ID, "broker exploded"))
	assert.ErrorIs(t, repo.MarkRunning(ctx, job.ID), models.ErrInvalidTransition)
	assert.ErrorIs(t, repo.Fail(ctx, job.ID, "again"), models.ErrInvalidTransition)

	got, err := repo.FindByID(ctx, 1, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.State)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "broker exploded", *got.ErrorMessage)
	assert.Nil(t, got.CompletedAt)
}

func TestOwnershipFilter(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(testDB(t))

	job := newJob(1)
	require.NoError(t, repo.Create(ctx, job))

	// A different owner sees not-found, indistinguishable from a missing id.
	_, err := repo.FindByID(ctx, 2, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, 2, job.ID), ErrNotFound)

	// The worker-internal lookup has no owner constraint.
	got, err := repo.FindByIDInternal(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}

func TestListSearchAndOrdering(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(testDB(t))

	a := newJob(1)
	a.Title = "Weekly Standup"
	require.NoError(t, repo.Create(ctx, a))

	b := newJob(1)
	b.Title = "Interview"
	b.Language = "es"
	b.Tags = models.TagList{"hiring"}
	require.NoError(t, repo.Create(ctx, b))
	require.NoError(t, repo.MarkRunning(ctx, b.ID))
	require.NoError(t, repo.Fail(ctx, b.ID, "boom"))

	other := newJob(2)
	require.NoError(t, repo.Create(ctx, other))

	all, err := repo.List(ctx, 1, JobSearch{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	byTitle, err := repo.List(ctx, 1, JobSearch{Search: "standup"})
	require.NoError(t, err)
	require.Len(t, byTitle, 1)
	assert.Equal(t, a.ID, byTitle[0].ID)

	byTag, err := repo.List(ctx, 1, JobSearch{Search: "HIRING"})
	require.NoError(t, err)
	require.Len(t, byTag, 1)
	assert.Equal(t, b.ID, byTag[0].ID)

	byState, err := repo.List(ctx, 1, JobSearch{State: models.JobFailed})
	require.NoError(t, err)
	require.Len(t, byState, 1)
	assert.Equal(t, b.ID, byState[0].ID)
}

func TestSegmentsRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(testDB(t))

	segs := models.SegmentList{
		{Start: 0, End: 1.5, Speaker: "SPEAKER_00", Text: "hola"},
		{Start: 1.5, End: 3.25, Speaker: "SPEAKER_01", Text: "mundo"},
	}
	job := newJob(1)
	out := "1/final.wav.txt"
	job.OutputKey = &out
	job.Segments = segs
	require.NoError(t, repo.CreateCompleted(ctx, job))

	got, err := repo.FindByID(ctx, 1, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.State)
	assert.Equal(t, segs, got.Segments)
	require.NotNil(t, got.CompletedAt)
}

func TestCreateCompletedRequiresOutputKey(t *testing.T) {
	repo := NewJobRepository(testDB(t))
	err := repo.CreateCompleted(context.Background(), newJob(1))
	assert.Error(t, err)
}
