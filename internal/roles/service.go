package roles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmlopezc/bizgate-backend/pkg/db"
	"github.com/dmlopezc/bizgate-backend/pkg/db/models"
	pkgerrors "github.com/dmlopezc/bizgate-backend/pkg/errors"
	"gorm.io/gorm"
)

// Service defines the role operations used by the registration flow.
type Service interface {
	CreateRole(ctx context.Context, name string) (*models.Role, error)
	GetRoleByName(ctx context.Context, name string) (*models.Role, error)
}

type repository interface {
	Create(ctx context.Context, name string) (*models.Role, error)
	FindByName(ctx context.Context, name string) (*models.Role, error)
}

// ServiceParams bundles the dependencies required to build a role service.
type ServiceParams struct {
	Repo repository
}

type service struct {
	repo repository
}

// NewService constructs a role service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("role repository is required")
	}
	return &service{repo: params.Repo}, nil
}

// CreateRole persists a new role, rejecting duplicate names with a conflict.
func (s *service) CreateRole(ctx context.Context, name string) (*models.Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "role name is required")
	}

	if _, err := s.repo.FindByName(ctx, name); err == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "role already exists").
			WithField("name", fmt.Sprintf("role %q already exists", name))
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check role name")
	}

	role, err := s.repo.Create(ctx, name)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "role already exists").
				WithField("name", fmt.Sprintf("role %q already exists", name))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create role")
	}
	return role, nil
}

// GetRoleByName loads a role, mapping a missing row to not-found.
func (s *service) GetRoleByName(ctx context.Context, name string) (*models.Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "role name is required")
	}

	role, err := s.repo.FindByName(ctx, name)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("role %q not found", name))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup role")
	}
	return role, nil
}
