package accounts

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/dmlopezc/bizgate-backend/internal/businesses"
	"github.com/dmlopezc/bizgate-backend/internal/mailout"
	"github.com/dmlopezc/bizgate-backend/internal/roles"
	pkgauth "github.com/dmlopezc/bizgate-backend/pkg/auth"
	"github.com/dmlopezc/bizgate-backend/pkg/config"
	"github.com/dmlopezc/bizgate-backend/pkg/db"
	"github.com/dmlopezc/bizgate-backend/pkg/db/models"
	pkgerrors "github.com/dmlopezc/bizgate-backend/pkg/errors"
	"github.com/dmlopezc/bizgate-backend/pkg/logger"
	"github.com/dmlopezc/bizgate-backend/pkg/metrics"
	"github.com/dmlopezc/bizgate-backend/pkg/security"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	emailInUseMessage = "email already in use"
	phoneInUseMessage = "phone number already in use"
)

// RegisterService handles user onboarding and verification-token reissue.
type RegisterService interface {
	Register(ctx context.Context, req RegisterRequest) (*models.User, error)
	ReissueToken(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

type userRepository interface {
	Create(ctx context.Context, dto CreateUserDTO) (*models.User, error)
	FindByEmailOrPhone(ctx context.Context, email, phone string) ([]models.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateToken(ctx context.Context, id uuid.UUID, token string) error
}

type roleRepository interface {
	FindByName(ctx context.Context, name string) (*models.Role, error)
}

type businessRepository interface {
	Create(ctx context.Context, name string) (*models.Business, error)
	FindByName(ctx context.Context, name string) (*models.Business, error)
}

type outboxRepository interface {
	Insert(ctx context.Context, row *models.EmailOutbox) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// RegisterRepos bundles the repositories the registration transaction touches.
type RegisterRepos struct {
	Users      userRepository
	Roles      roleRepository
	Businesses businessRepository
	Outbox     outboxRepository
}

// RepoFactory builds transaction-bound repositories.
type RepoFactory func(tx *gorm.DB) RegisterRepos

// NewRegisterRepos is the default factory wiring the concrete repositories.
func NewRegisterRepos(tx *gorm.DB) RegisterRepos {
	return RegisterRepos{
		Users:      NewRepository(tx),
		Roles:      roles.NewRepository(tx),
		Businesses: businesses.NewRepository(tx),
		Outbox:     mailout.NewRepository(tx),
	}
}

// RegisterServiceParams packages the dependencies for the registration flow.
type RegisterServiceParams struct {
	Tx           txRunner
	Repos        RepoFactory
	Password     config.PasswordConfig
	Token        config.TokenConfig
	Verification config.VerificationConfig
	Logger       *logger.Logger
	Metrics      *metrics.AccountMetrics
}

type registerService struct {
	tx          txRunner
	repos       RepoFactory
	passwordCfg config.PasswordConfig
	tokenCfg    config.TokenConfig
	verifyCfg   config.VerificationConfig
	logger      *logger.Logger
	metrics     *metrics.AccountMetrics
	now         func() time.Time
	hash        func(password string, cfg config.PasswordConfig) (string, error)
}

// NewRegisterService builds a registration service with the provided dependencies.
func NewRegisterService(params RegisterServiceParams) (RegisterService, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner is required")
	}
	if params.Repos == nil {
		params.Repos = NewRegisterRepos
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &registerService{
		tx:          params.Tx,
		repos:       params.Repos,
		passwordCfg: params.Password,
		tokenCfg:    params.Token,
		verifyCfg:   params.Verification,
		logger:      params.Logger,
		metrics:     params.Metrics,
		now:         func() time.Time { return time.Now().UTC() },
		hash:        security.HashPassword,
	}, nil
}

// Register onboards a user: the duplicate check, user insert, business link,
// and verification-email enqueue all run in one transaction.
func (s *registerService) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	req.BusinessName = strings.TrimSpace(req.BusinessName)

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	passwordHash, err := s.hash(req.Password, s.passwordCfg)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}

	now := s.now()
	token, err := pkgauth.MintEmailToken(s.tokenCfg, now, req.Email)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint email token")
	}

	var user *models.User
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repos := s.repos(tx)

		matches, err := repos.Users.FindByEmailOrPhone(ctx, req.Email, req.PhoneNumber)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check existing users")
		}
		if fields := conflictFields(matches, req.Email, req.PhoneNumber); len(fields) > 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "account already exists").WithFields(fields)
		}

		role, err := repos.Roles.FindByName(ctx, models.RoleOwner)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("role %q not found", models.RoleOwner))
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup owner role")
		}

		business, err := repos.Businesses.FindByName(ctx, req.BusinessName)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			business, err = repos.Businesses.Create(ctx, req.BusinessName)
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve business")
		}

		user, err = repos.Users.Create(ctx, CreateUserDTO{
			Email:        req.Email,
			PhoneNumber:  req.PhoneNumber,
			PasswordHash: passwordHash,
			FirstName:    req.FirstName,
			LastName:     req.LastName,
			Token:        &token,
			RoleID:       role.ID,
			Businesses:   []models.Business{*business},
		})
		if err != nil {
			if fields := uniqueViolationFields(err); len(fields) > 0 {
				return pkgerrors.New(pkgerrors.CodeConflict, "account already exists").WithFields(fields)
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create user")
		}

		mail, err := mailout.NewVerificationEmail(req.Email, req.FirstName, s.verifyCfg.Link(token), now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build verification email")
		}
		if err := repos.Outbox.Insert(ctx, mail); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queue verification email")
		}
		return nil
	})
	if err != nil {
		s.metrics.IncRegistration(outcomeFor(err))
		return nil, err
	}

	s.metrics.IncRegistration("success")
	s.logger.Info(s.logger.WithFields(ctx, map[string]any{
		"user_id":  user.ID.String(),
		"business": req.BusinessName,
	}), "user registered")
	return user, nil
}

// ReissueToken mints a fresh verification token, stores it on the user, and
// queues a new verification email in the same transaction.
func (s *registerService) ReissueToken(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	var user *models.User
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repos := s.repos(tx)

		found, err := repos.Users.FindByID(ctx, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup user")
		}

		now := s.now()
		token, err := pkgauth.MintEmailToken(s.tokenCfg, now, found.Email)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint email token")
		}
		if err := repos.Users.UpdateToken(ctx, found.ID, token); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store token")
		}
		found.Token = &token

		mail, err := mailout.NewVerificationEmail(found.Email, found.FirstName, s.verifyCfg.Link(token), now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build verification email")
		}
		if err := repos.Outbox.Insert(ctx, mail); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queue verification email")
		}

		user = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(s.logger.WithUserID(ctx, user.ID.String()), "verification token reissued")
	return user, nil
}

// conflictFields reproduces the duplicate-report shape: a single match reports
// whichever of the two identifiers it collides on; two or more matches report
// both keys.
func conflictFields(matches []models.User, email, phone string) map[string]string {
	switch {
	case len(matches) == 0:
		return nil
	case len(matches) == 1:
		fields := map[string]string{}
		if matches[0].Email == email {
			fields["email"] = emailInUseMessage
		}
		if matches[0].PhoneNumber == phone {
			fields["phoneNumber"] = phoneInUseMessage
		}
		return fields
	default:
		return map[string]string{
			"email":       emailInUseMessage,
			"phoneNumber": phoneInUseMessage,
		}
	}
}

// uniqueViolationFields maps a storage-level unique violation raced past the
// in-transaction check onto the same conflict report.
func uniqueViolationFields(err error) map[string]string {
	switch {
	case db.IsUniqueViolation(err, "idx_users_email"):
		return map[string]string{"email": emailInUseMessage}
	case db.IsUniqueViolation(err, "idx_users_phone_number"):
		return map[string]string{"phoneNumber": phoneInUseMessage}
	case db.IsUniqueViolation(err, ""):
		return map[string]string{
			"email":       emailInUseMessage,
			"phoneNumber": phoneInUseMessage,
		}
	default:
		return nil
	}
}

func outcomeFor(err error) string {
	if pkgerrors.CodeOf(err) == pkgerrors.CodeConflict {
		return "conflict"
	}
	return "failure"
}

var requestValidator = newRequestValidator()

func newRequestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateRequest(req any) error {
	err := requestValidator.Struct(req)
	if err == nil {
		return nil
	}
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "validate request")
	}

	fields := map[string]string{}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			switch fe.Tag() {
			case "email":
				fields[fe.Field()] = "must be a valid email address"
			default:
				fields[fe.Field()] = fmt.Sprintf("%s is required", fe.Field())
			}
		}
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid request").WithFields(fields)
}
