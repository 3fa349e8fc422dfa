package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"transcribe-api/constant"
	"transcribe-api/entities"

	"gorm.io/gorm"
)

var ErrJobNotFound = errors.New("job not found")

type JobRepository interface {
	Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error
	GetDB(ctx context.Context) *gorm.DB
	Migrate(ctx context.Context) error
	CreateJob(ctx context.Context, job *entities.Job) error
	FindJobById(ctx context.Context, id uint) (*entities.Job, error)
	ListJobs(ctx context.Context, offset, limit int) ([]*entities.Job, error)
	ListPendingJobs(ctx context.Context) ([]*entities.Job, error)
	MarkProcessing(ctx context.Context, id uint) (bool, error)
	MarkCompleted(ctx context.Context, id uint, transcriptText, transcriptFilePath string) (bool, error)
	MarkFailed(ctx context.Context, id uint) (bool, error)
	DeleteJob(ctx context.Context, id uint) (bool, error)
	FailInterrupted(ctx context.Context) (int64, error)
	ExistingJobIDs(ctx context.Context, ids []uint) (map[uint]bool, error)
	ListAudioPaths(ctx context.Context) (map[string]bool, error)
}

type txKey struct{}

type repo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepo(db *gorm.DB) JobRepository {
	return &repo{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// GetDB returns the transaction bound to ctx, if any, otherwise the pool.
func (r *repo) GetDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db.WithContext(ctx)
}

func (r *repo) Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	return r.GetDB(ctx).Transaction(func(tx *gorm.DB) error {
		return callback(context.WithValue(ctx, txKey{}, tx))
	}, opts...)
}

func (r *repo) Migrate(ctx context.Context) error {
	return r.GetDB(ctx).AutoMigrate(&entities.Job{})
}

func (r *repo) CreateJob(ctx context.Context, job *entities.Job) error {
	job.ID = 0
	job.Status = constant.JobStatusPending
	job.CreatedAt = r.now()
	job.UpdatedAt = nil
	job.TranscriptText = nil
	job.TranscriptFilePath = nil
	if job.Language == "" {
		job.Language = constant.LanguageAuto
	}
	return r.GetDB(ctx).Create(job).Error
}

func (r *repo) FindJobById(ctx context.Context, id uint) (*entities.Job, error) {
	job := &entities.Job{}
	err := r.GetDB(ctx).First(job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	return job, nil
}

func (r *repo) ListJobs(ctx context.Context, offset, limit int) ([]*entities.Job, error) {
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("invalid pagination offset=%d limit=%d", offset, limit)
	}
	jobs := make([]*entities.Job, 0)
	if limit == 0 {
		return jobs, nil
	}
	err := r.GetDB(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) ListPendingJobs(ctx context.Context) ([]*entities.Job, error) {
	var jobs []*entities.Job
	err := r.GetDB(ctx).
		Where("status = ?", constant.JobStatusPending).
		Order("id ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// transition moves a job from one of the given states to the new one in a single
// statement, so it is applied at most once and never observed half-done.
func (r *repo) transition(ctx context.Context, id uint, from []constant.JobStatus, updates map[string]interface{}) (bool, error) {
	updates["updated_at"] = r.now()
	result := r.GetDB(ctx).
		Model(&entities.Job{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) MarkProcessing(ctx context.Context, id uint) (bool, error) {
	return r.transition(ctx, id,
		[]constant.JobStatus{constant.JobStatusPending},
		map[string]interface{}{"status": constant.JobStatusProcessing},
	)
}

func (r *repo) MarkCompleted(ctx context.Context, id uint, transcriptText, transcriptFilePath string) (bool, error) {
	return r.transition(ctx, id,
		[]constant.JobStatus{constant.JobStatusProcessing},
		map[string]interface{}{
			"status":               constant.JobStatusCompleted,
			"transcript_text":      transcriptText,
			"transcript_file_path": transcriptFilePath,
		},
	)
}

func (r *repo) MarkFailed(ctx context.Context, id uint) (bool, error) {
	return r.transition(ctx, id,
		[]constant.JobStatus{constant.JobStatusPending, constant.JobStatusProcessing},
		map[string]interface{}{
			"status":               constant.JobStatusFailed,
			"transcript_text":      gorm.Expr("NULL"),
			"transcript_file_path": gorm.Expr("NULL"),
		},
	)
}

func (r *repo) DeleteJob(ctx context.Context, id uint) (bool, error) {
	result := r.GetDB(ctx).Delete(&entities.Job{}, "id = ?", id)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// FailInterrupted fails every job left in processing by a previous process.
func (r *repo) FailInterrupted(ctx context.Context) (int64, error) {
	result := r.GetDB(ctx).
		Model(&entities.Job{}).
		Where("status = ?", constant.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":     constant.JobStatusFailed,
			"updated_at": r.now(),
		})
	return result.RowsAffected, result.Error
}

func (r *repo) ExistingJobIDs(ctx context.Context, ids []uint) (map[uint]bool, error) {
	existing := make(map[uint]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}
	var found []uint
	err := r.GetDB(ctx).Model(&entities.Job{}).Where("id IN ?", ids).Pluck("id", &found).Error
	if err != nil {
		return nil, err
	}
	for _, id := range found {
		existing[id] = true
	}
	return existing, nil
}

func (r *repo) ListAudioPaths(ctx context.Context) (map[string]bool, error) {
	var paths []string
	err := r.GetDB(ctx).Model(&entities.Job{}).Pluck("audio_path", &paths).Error
	if err != nil {
		return nil, err
	}
	ret := make(map[string]bool, len(paths))
	for _, p := range paths {
		ret[p] = true
	}
	return ret, nil
}
