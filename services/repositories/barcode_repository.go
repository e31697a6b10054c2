package repositories

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/eatlock-app/vision_api/model"
)

// BarcodeRepository caches product rows keyed by barcode.
type BarcodeRepository struct {
	BaseRepository
}

func NewBarcodeRepository(db *gorm.DB) *BarcodeRepository {
	return &BarcodeRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

func (r *BarcodeRepository) GetByBarcode(barcode string) (*model.BarcodeProduct, error) {
	var product model.BarcodeProduct
	if err := r.db.Where("barcode = ?", barcode).First(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *BarcodeRepository) Upsert(product *model.BarcodeProduct) error {
	now := time.Now()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "barcode"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"product_name", "calories_per_serving", "serving_size", "macros", "updated_at",
		}),
	}).Create(product).Error
}
