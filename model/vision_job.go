package model

import (
	"encoding/json"
	"time"
)

type VisionJob struct {
	ID        string          `json:"id" gorm:"primaryKey"`
	UserID    string          `json:"user_id" gorm:"not null;index"`
	Stage     string          `json:"stage" gorm:"not null;size:20"`
	Status    string          `json:"status" gorm:"not null;index;size:20"` // queued, processing, done, failed
	R2Keys    json.RawMessage `json:"r2_keys" gorm:"type:jsonb;not null"`
	Attempts  int             `json:"attempts" gorm:"default:0;not null"`
	LastError string          `json:"last_error,omitempty" gorm:"type:text"`
	CleanedUp bool            `json:"cleaned_up" gorm:"default:false;not null"`
	CreatedAt time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time       `json:"updated_at" gorm:"not null"`
}

type VisionResult struct {
	ID            string          `json:"id" gorm:"primaryKey"`
	JobID         string          `json:"job_id" gorm:"not null;uniqueIndex"`
	UserID        string          `json:"user_id" gorm:"not null;index"`
	Stage         string          `json:"stage" gorm:"not null;size:20"`
	Verdict       string          `json:"verdict" gorm:"not null;size:20"`
	Confidence    float64         `json:"confidence" gorm:"default:0;not null"`
	FinishedScore *float64        `json:"finished_score,omitempty"`
	Payload       json.RawMessage `json:"payload" gorm:"type:jsonb"` // full structured model output
	CreatedAt     time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time       `json:"updated_at" gorm:"not null"`
}
