package roles

import (
	"context"

	"github.com/dmlopezc/bizgate-backend/pkg/db/models"
	"gorm.io/gorm"
)

// Repository exposes role persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a roles repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new role and returns the persisted model.
func (r *Repository) Create(ctx context.Context, name string) (*models.Role, error) {
	role := &models.Role{Name: name}
	if err := r.db.WithContext(ctx).Create(role).Error; err != nil {
		return nil, err
	}
	return role, nil
}

// FindByName retrieves the role matching the provided name.
func (r *Repository) FindByName(ctx context.Context, name string) (*models.Role, error) {
	var role models.Role
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&role).Error; err != nil {
		return nil, err
	}
	return &role, nil
}
