package businesses

import (
	"context"

	"github.com/dmlopezc/bizgate-backend/pkg/db/models"
	"gorm.io/gorm"
)

// Repository exposes business persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a businesses repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new business and returns the persisted model.
func (r *Repository) Create(ctx context.Context, name string) (*models.Business, error) {
	business := &models.Business{Name: name}
	if err := r.db.WithContext(ctx).Create(business).Error; err != nil {
		return nil, err
	}
	return business, nil
}

// FindByName retrieves the business matching the provided name.
func (r *Repository) FindByName(ctx context.Context, name string) (*models.Business, error) {
	var business models.Business
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&business).Error; err != nil {
		return nil, err
	}
	return &business, nil
}
