package repositories

import (
	"gorm.io/gorm"
)

// BaseRepository carries the shared database handle for the
// domain repositories embedding it.
type BaseRepository struct {
	db *gorm.DB
}

func NewBaseRepository(db *gorm.DB) BaseRepository {
	return BaseRepository{db: db}
}

// DB exposes the raw connection for callers that need to compose
// their own queries.
func (r *BaseRepository) DB() *gorm.DB {
	return r.db
}
