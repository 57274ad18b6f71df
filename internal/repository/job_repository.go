package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"scribeflow/internal/models"

	"gorm.io/gorm"
)

// JobSearch narrows a job listing. Search matches case-insensitive
// substrings over title, language, and tags; State is an exact match.
type JobSearch struct {
	Search string
	State  models.JobState
}

// JobRepository is the persistence boundary for the job catalog. Every
// read except the worker-internal lookups constrains by owner id, so a
// cross-owner id behaves exactly like a missing one.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	// CreateCompleted inserts a row already in the completed state, used
	// by live-session finalization which never passes through the queue.
	CreateCompleted(ctx context.Context, job *models.Job) error

	FindByID(ctx context.Context, ownerID uint, id string) (*models.Job, error)
	// FindByIDInternal skips the ownership filter; worker use only.
	FindByIDInternal(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, ownerID uint, search JobSearch) ([]models.Job, error)
	Delete(ctx context.Context, ownerID uint, id string) error

	// SetEnvelopeID records the queue envelope a freshly submitted job
	// rides on.
	SetEnvelopeID(ctx context.Context, id, envelopeID string) error

	// MarkRunning, Complete, and Fail apply the only valid transitions.
	// Any other state change returns models.ErrInvalidTransition.
	MarkRunning(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, outputKey string, segments models.SegmentList, language string, duration *float64) error
	Fail(ctx context.Context, id string, message string) error
}

type jobRepository struct {
	db *gorm.DB
}

// NewJobRepository builds a JobRepository over db.
func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db}
}

func (r *jobRepository) Create(ctx context.Context, job *models.Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *jobRepository) CreateCompleted(ctx context.Context, job *models.Job) error {
	if job.OutputKey == nil || *job.OutputKey == "" {
		return fmt.Errorf("repository: completed job requires an output key")
	}
	now := time.Now()
	job.State = models.JobCompleted
	if job.CompletedAt == nil {
		job.CompletedAt = &now
	}
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *jobRepository) FindByID(ctx context.Context, ownerID uint, id string) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (r *jobRepository) FindByIDInternal(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (r *jobRepository) List(ctx context.Context, ownerID uint, search JobSearch) ([]models.Job, error) {
	q := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC")

	if search.State != "" {
		q = q.Where("state = ?", search.State)
	}
	if s := strings.TrimSpace(search.Search); s != "" {
		needle := "%" + strings.ToLower(s) + "%"
		q = q.Where(
			"LOWER(title) LIKE ? OR LOWER(language) LIKE ? OR LOWER(tags) LIKE ?",
			needle, needle, needle,
		)
	}

	var jobs []models.Job
	if err := q.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRepository) Delete(ctx context.Context, ownerID uint, id string) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Delete(&models.Job{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *jobRepository) SetEnvelopeID(ctx context.Context, id, envelopeID string) error {
	return r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ?", id).
		Update("envelope_id", envelopeID).Error
}

// transition loads the row, checks the edge, and applies updates in one
// transaction so concurrent writers cannot skip a state.
func (r *jobRepository) transition(ctx context.Context, id string, to models.JobState, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.Job
		if err := tx.First(&job, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if !models.CanTransition(job.State, to) {
			return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, job.State, to)
		}
		updates["state"] = to
		updates["updated_at"] = time.Now()
		return tx.Model(&models.Job{}).Where("id = ?", id).Updates(updates).Error
	})
}

func (r *jobRepository) MarkRunning(ctx context.Context, id string) error {
	return r.transition(ctx, id, models.JobRunning, map[string]interface{}{})
}

func (r *jobRepository) Complete(ctx context.Context, id string, outputKey string, segments models.SegmentList, language string, duration *float64) error {
	now := time.Now()
	updates := map[string]interface{}{
		"output_key":   outputKey,
		"segments":     segments,
		"completed_at": now,
	}
	if language != "" {
		updates["language"] = language
	}
	if duration != nil {
		updates["duration_sec"] = *duration
	}
	return r.transition(ctx, id, models.JobCompleted, updates)
}

func (r *jobRepository) Fail(ctx context.Context, id string, message string) error {
	return r.transition(ctx, id, models.JobFailed, map[string]interface{}{
		"error_message": message,
	})
}
