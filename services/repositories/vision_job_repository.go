package repositories

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/eatlock-app/vision_api/model"
	"github.com/eatlock-app/vision_api/shared"
)

// VisionJobRepository owns the queued-scan rows and their results.
// Methods return raw gorm errors; the postgres service maps them to
// wire errors in one place.
type VisionJobRepository struct {
	BaseRepository
}

func NewVisionJobRepository(db *gorm.DB) *VisionJobRepository {
	return &VisionJobRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

func (r *VisionJobRepository) Create(job *model.VisionJob) (*model.VisionJob, error) {
	if job.ID == "" {
		id, _ := uuid.NewV7()
		job.ID = id.String()
	}
	if job.Status == "" {
		job.Status = shared.JobStatusQueued
	}
	if err := r.db.Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *VisionJobRepository) Get(id string) (*model.VisionJob, error) {
	var job model.VisionJob
	if err := r.db.Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *VisionJobRepository) MarkProcessing(id string, attempts int) error {
	return r.db.Model(&model.VisionJob{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     shared.JobStatusProcessing,
		"attempts":   attempts,
		"updated_at": time.Now(),
	}).Error
}

func (r *VisionJobRepository) MarkQueued(id string, attempts int, lastError string) error {
	return r.db.Model(&model.VisionJob{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     shared.JobStatusQueued,
		"attempts":   attempts,
		"last_error": lastError,
		"updated_at": time.Now(),
	}).Error
}

func (r *VisionJobRepository) MarkDone(id string) error {
	return r.db.Model(&model.VisionJob{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     shared.JobStatusDone,
		"last_error": "",
		"updated_at": time.Now(),
	}).Error
}

func (r *VisionJobRepository) MarkFailed(id string, lastError string) error {
	return r.db.Model(&model.VisionJob{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     shared.JobStatusFailed,
		"last_error": lastError,
		"updated_at": time.Now(),
	}).Error
}

// ClaimCleanup flips the cleanup flag and reports whether this caller
// won the flip. Exactly one claim succeeds per job.
func (r *VisionJobRepository) ClaimCleanup(id string) (bool, error) {
	res := r.db.Model(&model.VisionJob{}).
		Where("id = ? AND cleaned_up = ?", id, false).
		Updates(map[string]interface{}{
			"cleaned_up": true,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DeleteFinishedBefore drops settled jobs and aged results.
func (r *VisionJobRepository) DeleteFinishedBefore(cutoff time.Time) error {
	err := r.db.Where("status IN ? AND updated_at < ?",
		[]string{shared.JobStatusDone, shared.JobStatusFailed}, cutoff).
		Delete(&model.VisionJob{}).Error
	if err != nil {
		return err
	}

	return r.db.Where("created_at < ?", cutoff).Delete(&model.VisionResult{}).Error
}

func (r *VisionJobRepository) SaveResult(result *model.VisionResult) (*model.VisionResult, error) {
	if result.ID == "" {
		id, _ := uuid.NewV7()
		result.ID = id.String()
	}

	err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"verdict", "confidence", "finished_score", "payload", "updated_at",
		}),
	}).Create(result).Error
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *VisionJobRepository) GetResultByJob(jobID string) (*model.VisionResult, error) {
	var result model.VisionResult
	if err := r.db.Where("job_id = ?", jobID).First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}
