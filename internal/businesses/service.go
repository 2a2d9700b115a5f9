package businesses

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmlopezc/bizgate-backend/pkg/db/models"
	pkgerrors "github.com/dmlopezc/bizgate-backend/pkg/errors"
	"gorm.io/gorm"
)

// Service defines the business operations used by registration and login.
type Service interface {
	Register(ctx context.Context, name string) (*models.Business, error)
	GetByName(ctx context.Context, name string) (*models.Business, error)
}

type repository interface {
	Create(ctx context.Context, name string) (*models.Business, error)
	FindByName(ctx context.Context, name string) (*models.Business, error)
}

// ServiceParams bundles the dependencies required to build a business service.
type ServiceParams struct {
	Repo repository
}

type service struct {
	repo repository
}

// NewService constructs a business service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("business repository is required")
	}
	return &service{repo: params.Repo}, nil
}

// Register resolves a business by name, creating it on first sight. The
// operation is idempotent: repeated calls with the same name return the same
// row.
func (s *service) Register(ctx context.Context, name string) (*models.Business, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business name is required")
	}

	business, err := s.repo.FindByName(ctx, name)
	if err == nil {
		return business, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup business")
	}

	business, err = s.repo.Create(ctx, name)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create business")
	}
	return business, nil
}

// GetByName loads a business, mapping a missing row to not-found.
func (s *service) GetByName(ctx context.Context, name string) (*models.Business, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business name is required")
	}

	business, err := s.repo.FindByName(ctx, name)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("business %q not found", name))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup business")
	}
	return business, nil
}
