package accounts

import (
	"time"

	"github.com/dmlopezc/bizgate-backend/pkg/db/models"
	"github.com/google/uuid"
)

// RegisterRequest captures the payload required to onboard a user and their
// business.
type RegisterRequest struct {
	Email        string `json:"email" validate:"required,email"`
	BusinessName string `json:"businessName" validate:"required"`
	PhoneNumber  string `json:"phoneNumber" validate:"required"`
	Password     string `json:"password" validate:"required"`
	FirstName    string `json:"firstName" validate:"required"`
	LastName     string `json:"lastName" validate:"required"`
}

// LoginRequest captures the credentials sent to the login endpoint. The
// identifier may be either an email address or a phone number.
type LoginRequest struct {
	BusinessName       string `json:"businessName" validate:"required"`
	PhoneNumberOrEmail string `json:"phoneNumberOrEmail" validate:"required"`
	Password           string `json:"password" validate:"required"`
}

// BusinessSummary is the business metadata exposed on the user transport shape.
type BusinessSummary struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// UserDTO is the transport shape that omits the password hash.
type UserDTO struct {
	ID          uuid.UUID         `json:"id"`
	Email       string            `json:"email"`
	PhoneNumber string            `json:"phoneNumber"`
	FirstName   string            `json:"firstName"`
	LastName    string            `json:"lastName"`
	Role        string            `json:"role,omitempty"`
	Businesses  []BusinessSummary `json:"businesses"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// CreateUserDTO holds the data required by the repo to persist a new user.
type CreateUserDTO struct {
	Email        string
	PhoneNumber  string
	PasswordHash string
	FirstName    string
	LastName     string
	Token        *string
	RoleID       uuid.UUID
	Businesses   []models.Business
}

// FromModel converts the persistence model into the redacted transport shape.
func FromModel(u *models.User) *UserDTO {
	if u == nil {
		return nil
	}

	businesses := make([]BusinessSummary, 0, len(u.Businesses))
	for _, b := range u.Businesses {
		businesses = append(businesses, BusinessSummary{ID: b.ID, Name: b.Name})
	}

	roleName := ""
	if u.Role != nil {
		roleName = u.Role.Name
	}

	return &UserDTO{
		ID:          u.ID,
		Email:       u.Email,
		PhoneNumber: u.PhoneNumber,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Role:        roleName,
		Businesses:  businesses,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

func (c CreateUserDTO) ToModel() *models.User {
	businesses := append([]models.Business(nil), c.Businesses...)
	return &models.User{
		Email:        c.Email,
		PhoneNumber:  c.PhoneNumber,
		PasswordHash: c.PasswordHash,
		FirstName:    c.FirstName,
		LastName:     c.LastName,
		Token:        c.Token,
		RoleID:       c.RoleID,
		Businesses:   businesses,
	}
}
