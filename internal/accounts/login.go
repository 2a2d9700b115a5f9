package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmlopezc/bizgate-backend/pkg/db/models"
	pkgerrors "github.com/dmlopezc/bizgate-backend/pkg/errors"
	"github.com/dmlopezc/bizgate-backend/pkg/logger"
	"github.com/dmlopezc/bizgate-backend/pkg/metrics"
	"github.com/dmlopezc/bizgate-backend/pkg/security"
	"gorm.io/gorm"
)

// LoginService authenticates users against a business scope.
type LoginService interface {
	Login(ctx context.Context, req LoginRequest) (*models.User, error)
}

type loginUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByPhone(ctx context.Context, phone string) (*models.User, error)
}

// LoginServiceParams bundles the dependencies required to build a login service.
type LoginServiceParams struct {
	Users   loginUserRepository
	Logger  *logger.Logger
	Metrics *metrics.AccountMetrics
}

type loginService struct {
	users   loginUserRepository
	logger  *logger.Logger
	metrics *metrics.AccountMetrics
	verify  func(password, hash string) (bool, error)
}

// NewLoginService constructs a login service with the provided dependencies.
func NewLoginService(params LoginServiceParams) (LoginService, error) {
	if params.Users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &loginService{
		users:   params.Users,
		logger:  params.Logger,
		metrics: params.Metrics,
		verify:  security.VerifyPassword,
	}, nil
}

// Login resolves the identifier as email or phone, checks the password, and
// requires the named business among the user's links. Every failure keeps the
// same status class; the failing dimension rides in the details map.
func (s *loginService) Login(ctx context.Context, req LoginRequest) (*models.User, error) {
	req.PhoneNumberOrEmail = strings.TrimSpace(req.PhoneNumberOrEmail)
	req.BusinessName = strings.TrimSpace(req.BusinessName)

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	user, err := s.lookup(ctx, req.PhoneNumberOrEmail)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.metrics.IncLogin("unknown_identifier")
			return nil, invalidCredentials("phoneNumberOrEmail", "invalid phone number or email")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup user")
	}

	valid, err := s.verify(req.Password, user.PasswordHash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify password")
	}
	if !valid {
		s.metrics.IncLogin("bad_password")
		return nil, invalidCredentials("password", "invalid password")
	}

	if !linkedToBusiness(user, req.BusinessName) {
		s.metrics.IncLogin("wrong_business")
		return nil, invalidCredentials("businessName", "invalid business name")
	}

	s.metrics.IncLogin("success")
	s.logger.Info(s.logger.WithFields(ctx, map[string]any{
		"user_id":  user.ID.String(),
		"business": req.BusinessName,
	}), "user logged in")
	return user, nil
}

func (s *loginService) lookup(ctx context.Context, identifier string) (*models.User, error) {
	if isEmail(identifier) {
		return s.users.FindByEmail(ctx, strings.ToLower(identifier))
	}
	return s.users.FindByPhone(ctx, identifier)
}

func linkedToBusiness(user *models.User, name string) bool {
	for _, b := range user.Businesses {
		if b.Name == name {
			return true
		}
	}
	return false
}

func invalidCredentials(field, message string) error {
	return pkgerrors.New(pkgerrors.CodeInvalidCredentials, "invalid credentials").
		WithField(field, message)
}
