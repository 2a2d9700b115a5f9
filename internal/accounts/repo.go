package accounts

import (
	"context"

	"github.com/dmlopezc/bizgate-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository exposes user persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new user along with its business links.
func (r *Repository) Create(ctx context.Context, dto CreateUserDTO) (*models.User, error) {
	user := dto.ToModel()
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// FindByEmailOrPhone returns every user colliding with the given email or
// phone number. Registration uses the result to build its conflict report.
func (r *Repository) FindByEmailOrPhone(ctx context.Context, email, phone string) ([]models.User, error) {
	var users []models.User
	err := r.db.WithContext(ctx).
		Where("email = ? OR phone_number = ?", email, phone).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

// FindByEmail loads a user by email with role and business links attached.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, "email = ?", email)
}

// FindByPhone loads a user by phone number with role and business links attached.
func (r *Repository) FindByPhone(ctx context.Context, phone string) (*models.User, error) {
	return r.findOne(ctx, "phone_number = ?", phone)
}

// FindByID loads a user by their UUID with role and business links attached.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.findOne(ctx, "id = ?", id)
}

// UpdateToken stores a freshly minted verification token on the user row.
func (r *Repository) UpdateToken(ctx context.Context, id uuid.UUID, token string) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		UpdateColumn("token", token).Error
}

func (r *Repository) findOne(ctx context.Context, query string, arg any) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Preload("Role").
		Preload("Businesses").
		Where(query, arg).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}
