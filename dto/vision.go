package dto

import (
	"encoding/json"
	"time"
)

// ==================== VISION REQUEST DTOs ====================

type VerifyFoodRequest struct {
	R2Key string `json:"r2Key" validate:"required,object_key" example:"users/0198a4b2/meals/breakfast.jpg"`
}

func (r VerifyFoodRequest) Validate() error {
	return GetValidator().Struct(r)
}

type CompareMealRequest struct {
	PreKey  string `json:"preKey" validate:"required,object_key" example:"users/0198a4b2/meals/lunch-before.jpg"`
	PostKey string `json:"postKey" validate:"required,object_key" example:"users/0198a4b2/meals/lunch-after.jpg"`
}

func (r CompareMealRequest) Validate() error {
	return GetValidator().Struct(r)
}

type EnqueueVisionJobRequest struct {
	Stage  string            `json:"stage" validate:"required,oneof=START_SCAN END_SCAN" example:"START_SCAN"`
	R2Keys map[string]string `json:"r2Keys" validate:"required,min=1"`
}

func (r EnqueueVisionJobRequest) Validate() error {
	return GetValidator().Struct(r)
}

// ==================== VISION RESULT DTOs ====================

type FoodCheckSignals struct {
	IsMealPhoto bool `json:"is_meal_photo"`
	SingleDish  bool `json:"single_dish"`
	LightingOK  bool `json:"lighting_ok"`
}

type FoodCheckResult struct {
	Verdict    string           `json:"verdict" validate:"required,oneof=FOOD_OK NOT_FOOD UNVERIFIABLE"`
	Confidence float64          `json:"confidence" validate:"min=0,max=1"`
	Reason     string           `json:"reason"`
	Signals    FoodCheckSignals `json:"signals"`
}

func (r FoodCheckResult) Validate() error {
	return GetValidator().Struct(r)
}

type MealCompareSignals struct {
	SameDish          bool `json:"same_dish"`
	PlateVisible      bool `json:"plate_visible"`
	LeftoversDetected bool `json:"leftovers_detected"`
}

type MealComparisonResult struct {
	Verdict       string             `json:"verdict" validate:"required,oneof=FINISHED NOT_FINISHED UNVERIFIABLE"`
	FinishedScore float64            `json:"finished_score" validate:"min=0,max=1"`
	Confidence    float64            `json:"confidence" validate:"min=0,max=1"`
	Roast         string             `json:"roast"`
	Signals       MealCompareSignals `json:"signals"`
}

func (r MealComparisonResult) Validate() error {
	return GetValidator().Struct(r)
}

// ==================== VISION JOB DTOs ====================

// VisionJobMessage is the unit that travels through the queue. Attempt
// counts prior deliveries; everything the consumer needs rides in the
// message so a retry never depends on process-local state.
type VisionJobMessage struct {
	JobID   string            `json:"job_id" validate:"required"`
	UserID  string            `json:"user_id" validate:"required"`
	Stage   string            `json:"stage" validate:"required,oneof=START_SCAN END_SCAN"`
	R2Keys  map[string]string `json:"r2_keys" validate:"required,min=1"`
	Attempt int               `json:"attempt,omitempty"`
}

func (m VisionJobMessage) Validate() error {
	return GetValidator().Struct(m)
}

type VisionJobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

type VisionJobStatusResponse struct {
	JobID     string          `json:"jobId"`
	Status    string          `json:"status"`
	Stage     string          `json:"stage"`
	Attempts  int             `json:"attempts"`
	Error     string          `json:"error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
