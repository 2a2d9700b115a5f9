package accounts

import (
	"context"
	"io"
	"testing"
	"time"

	pkgauth "github.com/dmlopezc/bizgate-backend/pkg/auth"
	"github.com/dmlopezc/bizgate-backend/pkg/config"
	"github.com/dmlopezc/bizgate-backend/pkg/db/models"
	pkgerrors "github.com/dmlopezc/bizgate-backend/pkg/errors"
	"github.com/dmlopezc/bizgate-backend/pkg/logger"
	"github.com/dmlopezc/bizgate-backend/pkg/security"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type stubTx struct{}

func (stubTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubUsers struct {
	matches   []models.User
	created   []CreateUserDTO
	createErr error
	byID      map[uuid.UUID]*models.User
	tokens    map[uuid.UUID]string
}

func newStubUsers() *stubUsers {
	return &stubUsers{byID: map[uuid.UUID]*models.User{}, tokens: map[uuid.UUID]string{}}
}

func (s *stubUsers) Create(ctx context.Context, dto CreateUserDTO) (*models.User, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = append(s.created, dto)
	user := dto.ToModel()
	user.ID = uuid.New()
	s.byID[user.ID] = user
	return user, nil
}

func (s *stubUsers) FindByEmailOrPhone(ctx context.Context, email, phone string) ([]models.User, error) {
	return s.matches, nil
}

func (s *stubUsers) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, ok := s.byID[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return user, nil
}

func (s *stubUsers) UpdateToken(ctx context.Context, id uuid.UUID, token string) error {
	s.tokens[id] = token
	return nil
}

type stubRoles struct {
	role *models.Role
}

func (s *stubRoles) FindByName(ctx context.Context, name string) (*models.Role, error) {
	if s.role == nil || s.role.Name != name {
		return nil, gorm.ErrRecordNotFound
	}
	return s.role, nil
}

type stubBusinesses struct {
	byName  map[string]*models.Business
	created []string
}

func newStubBusinesses() *stubBusinesses {
	return &stubBusinesses{byName: map[string]*models.Business{}}
}

func (s *stubBusinesses) Create(ctx context.Context, name string) (*models.Business, error) {
	business := &models.Business{ID: uuid.New(), Name: name}
	s.byName[name] = business
	s.created = append(s.created, name)
	return business, nil
}

func (s *stubBusinesses) FindByName(ctx context.Context, name string) (*models.Business, error) {
	business, ok := s.byName[name]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return business, nil
}

type stubOutbox struct {
	rows []*models.EmailOutbox
}

func (s *stubOutbox) Insert(ctx context.Context, row *models.EmailOutbox) error {
	s.rows = append(s.rows, row)
	return nil
}

type registerFixture struct {
	users      *stubUsers
	roles      *stubRoles
	businesses *stubBusinesses
	outbox     *stubOutbox
	service    RegisterService
}

func newRegisterFixture(t *testing.T) *registerFixture {
	t.Helper()
	f := &registerFixture{
		users:      newStubUsers(),
		roles:      &stubRoles{role: &models.Role{ID: uuid.New(), Name: models.RoleOwner}},
		businesses: newStubBusinesses(),
		outbox:     &stubOutbox{},
	}
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled, Output: io.Discard})
	svc, err := NewRegisterService(RegisterServiceParams{
		Tx: stubTx{},
		Repos: func(tx *gorm.DB) RegisterRepos {
			return RegisterRepos{
				Users:      f.users,
				Roles:      f.roles,
				Businesses: f.businesses,
				Outbox:     f.outbox,
			}
		},
		Password:     config.PasswordConfig{BcryptCost: 4},
		Token:        config.TokenConfig{Secret: "secret", TTLHours: 48},
		Verification: config.VerificationConfig{BaseURL: "https://app.test"},
		Logger:       logg,
	})
	if err != nil {
		t.Fatalf("new register service: %v", err)
	}
	f.service = svc
	return f
}

func validRegisterRequest() RegisterRequest {
	return RegisterRequest{
		Email:        "Dana@Example.com",
		BusinessName: "Acme Fitness",
		PhoneNumber:  "+15551234567",
		Password:     "s3cret-password",
		FirstName:    "Dana",
		LastName:     "Reyes",
	}
}

func TestRegisterCreatesUserBusinessAndOutboxRow(t *testing.T) {
	f := newRegisterFixture(t)

	user, err := f.service.Register(context.Background(), validRegisterRequest())
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if user.Email != "dana@example.com" {
		t.Fatalf("expected normalized email, got %q", user.Email)
	}
	if user.PasswordHash == "s3cret-password" || user.PasswordHash == "" {
		t.Fatal("expected password to be hashed")
	}
	if ok, err := security.VerifyPassword("s3cret-password", user.PasswordHash); err != nil || !ok {
		t.Fatalf("stored hash must verify, ok=%v err=%v", ok, err)
	}
	if user.RoleID != f.roles.role.ID {
		t.Fatal("expected owner role to be linked")
	}
	if len(user.Businesses) != 1 || user.Businesses[0].Name != "Acme Fitness" {
		t.Fatalf("expected single business link, got %+v", user.Businesses)
	}
	if len(f.businesses.created) != 1 {
		t.Fatalf("expected business to be created, got %+v", f.businesses.created)
	}

	if user.Token == nil {
		t.Fatal("expected verification token on the user")
	}
	claims, err := pkgauth.ParseEmailToken(config.TokenConfig{Secret: "secret"}, *user.Token)
	if err != nil {
		t.Fatalf("token must parse: %v", err)
	}
	if claims.Email != "dana@example.com" {
		t.Fatalf("token must embed the email, got %q", claims.Email)
	}
	wantExpiry := time.Now().UTC().Add(48 * time.Hour)
	if diff := claims.ExpiresAt.Time.Sub(wantExpiry); diff > time.Minute || diff < -time.Minute {
		t.Fatalf("expected ~2 day expiry, got %v", claims.ExpiresAt.Time)
	}

	if len(f.outbox.rows) != 1 {
		t.Fatalf("expected one queued email, got %d", len(f.outbox.rows))
	}
	queued := f.outbox.rows[0]
	if queued.Recipient != "dana@example.com" {
		t.Fatalf("unexpected recipient %q", queued.Recipient)
	}
	if queued.Kind != models.EmailKindVerification {
		t.Fatalf("unexpected kind %q", queued.Kind)
	}
}

func TestRegisterReusesExistingBusiness(t *testing.T) {
	f := newRegisterFixture(t)
	existing := &models.Business{ID: uuid.New(), Name: "Acme Fitness"}
	f.businesses.byName["Acme Fitness"] = existing

	user, err := f.service.Register(context.Background(), validRegisterRequest())
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if len(f.businesses.created) != 0 {
		t.Fatal("existing business must not be recreated")
	}
	if user.Businesses[0].ID != existing.ID {
		t.Fatal("expected link to the existing business")
	}
}

func TestRegisterSingleMatchReportsCollidingField(t *testing.T) {
	cases := []struct {
		name     string
		match    models.User
		wantKeys []string
	}{
		{
			name:     "email collision",
			match:    models.User{Email: "dana@example.com", PhoneNumber: "+15550000000"},
			wantKeys: []string{"email"},
		},
		{
			name:     "phone collision",
			match:    models.User{Email: "other@example.com", PhoneNumber: "+15551234567"},
			wantKeys: []string{"phoneNumber"},
		},
		{
			name:     "email and phone collide on one user",
			match:    models.User{Email: "dana@example.com", PhoneNumber: "+15551234567"},
			wantKeys: []string{"email", "phoneNumber"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newRegisterFixture(t)
			f.users.matches = []models.User{tc.match}

			_, err := f.service.Register(context.Background(), validRegisterRequest())
			if pkgerrors.CodeOf(err) != pkgerrors.CodeConflict {
				t.Fatalf("expected conflict, got %v", err)
			}
			fields := pkgerrors.As(err).Fields()
			if len(fields) != len(tc.wantKeys) {
				t.Fatalf("expected %d reported fields, got %+v", len(tc.wantKeys), fields)
			}
			for _, key := range tc.wantKeys {
				if _, ok := fields[key]; !ok {
					t.Fatalf("expected key %q in %+v", key, fields)
				}
			}
			if len(f.users.created) != 0 {
				t.Fatal("conflict must not create a user")
			}
			if len(f.outbox.rows) != 0 {
				t.Fatal("conflict must not queue an email")
			}
		})
	}
}

func TestRegisterTwoMatchesReportBothFields(t *testing.T) {
	f := newRegisterFixture(t)
	f.users.matches = []models.User{
		{Email: "dana@example.com", PhoneNumber: "+15559999999"},
		{Email: "other@example.com", PhoneNumber: "+15551234567"},
	}

	_, err := f.service.Register(context.Background(), validRegisterRequest())
	if pkgerrors.CodeOf(err) != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	fields := pkgerrors.As(err).Fields()
	if _, ok := fields["email"]; !ok {
		t.Fatalf("expected email key in %+v", fields)
	}
	if _, ok := fields["phoneNumber"]; !ok {
		t.Fatalf("expected phoneNumber key in %+v", fields)
	}
}

func TestRegisterMissingOwnerRolePropagatesNotFound(t *testing.T) {
	f := newRegisterFixture(t)
	f.roles.role = nil

	_, err := f.service.Register(context.Background(), validRegisterRequest())
	if pkgerrors.CodeOf(err) != pkgerrors.CodeNotFound {
		t.Fatalf("expected not-found, got %v", err)
	}
	if len(f.users.created) != 0 {
		t.Fatal("missing role must abort before creating the user")
	}
}

func TestRegisterValidatesRequest(t *testing.T) {
	f := newRegisterFixture(t)

	req := validRegisterRequest()
	req.Email = "not-an-email"
	req.Password = ""

	_, err := f.service.Register(context.Background(), req)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := pkgerrors.As(err).Fields()
	if _, ok := fields["email"]; !ok {
		t.Fatalf("expected email key in %+v", fields)
	}
	if _, ok := fields["password"]; !ok {
		t.Fatalf("expected password key in %+v", fields)
	}
}

func TestReissueTokenStoresAndQueuesFreshToken(t *testing.T) {
	f := newRegisterFixture(t)

	user, err := f.service.Register(context.Background(), validRegisterRequest())
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	updated, err := f.service.ReissueToken(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("reissue failed: %v", err)
	}
	if updated.Token == nil {
		t.Fatal("expected a token on the updated user")
	}
	if stored := f.users.tokens[user.ID]; stored != *updated.Token {
		t.Fatal("expected the new token to be persisted")
	}
	if len(f.outbox.rows) != 2 {
		t.Fatalf("expected a second queued email, got %d", len(f.outbox.rows))
	}
	if _, err := pkgauth.ParseEmailToken(config.TokenConfig{Secret: "secret"}, *updated.Token); err != nil {
		t.Fatalf("reissued token must parse: %v", err)
	}
}

func TestReissueTokenUnknownUser(t *testing.T) {
	f := newRegisterFixture(t)

	_, err := f.service.ReissueToken(context.Background(), uuid.New())
	if pkgerrors.CodeOf(err) != pkgerrors.CodeNotFound {
		t.Fatalf("expected not-found, got %v", err)
	}
}
