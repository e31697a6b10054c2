package model

import (
	"encoding/json"
	"time"
)

type BarcodeProduct struct {
	Barcode            string          `json:"barcode" gorm:"primaryKey;size:32"`
	ProductName        string          `json:"product_name" gorm:"not null"`
	CaloriesPerServing float64         `json:"calories_per_serving" gorm:"default:0;not null"`
	ServingSize        string          `json:"serving_size" gorm:"size:64"`
	Macros             json.RawMessage `json:"macros" gorm:"type:jsonb"` // per-100g nutrient payload
	CreatedAt          time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt          time.Time       `json:"updated_at" gorm:"not null"`
}
