// Package service implements registration, login, actor resolution and the
// admin user operations.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"togoretrouve/internal/geo"
	"togoretrouve/internal/identity/models"
	"togoretrouve/internal/identity/secrets"
	"togoretrouve/internal/identity/store"
	"togoretrouve/internal/platform/metrics"
	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
	"togoretrouve/pkg/email"
	"togoretrouve/pkg/platform/sentinel"
	"togoretrouve/pkg/requestcontext"
)

var tracer = otel.Tracer("togoretrouve/identity")

type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	FindByID(ctx context.Context, userID id.UserID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Execute(ctx context.Context, userID id.UserID, validate func(*models.User) error, mutate func(*models.User)) (*models.User, error)
	List(ctx context.Context, filter store.ListFilter) ([]*models.User, error)
	ListStaffByStructure(ctx context.Context, structureID id.StructureID) ([]*models.User, error)
}

type StructureLookup interface {
	GetStructure(ctx context.Context, structureID id.StructureID) (*geo.Structure, error)
}

type TokenIssuer interface {
	GenerateAccessToken(userID id.UserID, role string, now time.Time, expiresIn time.Duration) (string, time.Time, error)
}

// Service owns user accounts.
type Service struct {
	users      UserStore
	structures StructureLookup
	tokens     TokenIssuer
	tokenTTL   time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.tokenTTL = ttl
	}
}

func New(users UserStore, structures StructureLookup, tokens TokenIssuer, opts ...Option) *Service {
	s := &Service{
		users:      users,
		structures: structures,
		tokens:     tokens,
		tokenTTL:   12 * time.Hour,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRequest is the self-service sign-up payload.
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

// Register creates a citizen account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "identity.Register")
	defer span.End()

	return s.createUser(ctx, models.RoleCitizen, req, id.StructureID{})
}

// LoginResult carries the issued access token.
type LoginResult struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        *models.User `json:"user"`
}

// Login checks credentials and issues an access token.
func (s *Service) Login(ctx context.Context, address, password string) (*LoginResult, error) {
	ctx, span := tracer.Start(ctx, "identity.Login")
	defer span.End()

	invalid := dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	user, err := s.users.FindByEmail(ctx, email.Normalize(address))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, invalid
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	if err := secrets.Verify(password, user.PasswordHash); err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			s.logger.WarnContext(ctx, "login failed",
				"log_type", "audit",
				"user_id", user.ID,
				"client_ip", requestcontext.ClientIP(ctx),
			)
			return nil, invalid
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify credentials")
	}
	if !user.Active {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "account is disabled")
	}

	token, expiresAt, err := s.tokens.GenerateAccessToken(user.ID, user.Role.String(), requestcontext.Now(ctx), s.tokenTTL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue token")
	}
	s.logger.InfoContext(ctx, "user logged in",
		"log_type", "audit",
		"user_id", user.ID,
		"role", user.Role,
	)
	return &LoginResult{AccessToken: token, TokenType: "Bearer", ExpiresAt: expiresAt, User: user}, nil
}

// Me returns the caller's account.
func (s *Service) Me(ctx context.Context, userID id.UserID) (*models.User, error) {
	return s.GetUser(ctx, userID)
}

// GetUser loads any user by id.
func (s *Service) GetUser(ctx context.Context, userID id.UserID) (*models.User, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	return u, nil
}

// Actor loads the authorization view of an authenticated user. Role and
// jurisdiction come from the store so revocations apply immediately.
func (s *Service) Actor(ctx context.Context, userID id.UserID) (models.Actor, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "unknown user")
		}
		return models.Actor{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	if !u.Active {
		return models.Actor{}, dErrors.New(dErrors.CodeForbidden, "account is disabled")
	}
	return u.Actor(), nil
}

// StaffForStructure lists active agents and admins of a structure, oldest first.
func (s *Service) StaffForStructure(ctx context.Context, structureID id.StructureID) ([]*models.User, error) {
	users, err := s.users.ListStaffByStructure(ctx, structureID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list staff")
	}
	return users, nil
}

// CreateAgentRequest is the admin payload for a new agent account.
type CreateAgentRequest struct {
	RegisterRequest
	StructureID id.StructureID `json:"structure_id"`
	Role        string         `json:"role"`
}

// CreateAgent creates an agent (or admin) account. Admin only.
func (s *Service) CreateAgent(ctx context.Context, actor models.Actor, req CreateAgentRequest) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "identity.CreateAgent")
	defer span.End()

	if err := models.Authorize(actor, models.ActionManageUsers, models.Resource{}); err != nil {
		return nil, err
	}
	role := models.RoleAgent
	if req.Role != "" {
		parsed, err := models.ParseRole(req.Role)
		if err != nil {
			return nil, err
		}
		if !parsed.IsStaff() {
			return nil, dErrors.New(dErrors.CodeValidation, "agents must have the agent or admin role")
		}
		role = parsed
	}
	if !req.StructureID.IsNil() {
		if _, err := s.structures.GetStructure(ctx, req.StructureID); err != nil {
			return nil, err
		}
	}
	u, err := s.createUser(ctx, role, req.RegisterRequest, req.StructureID)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "agent created",
		"log_type", "audit",
		"actor_id", actor.UserID,
		"user_id", u.ID,
		"structure_id", u.StructureID,
	)
	return u, nil
}

// AssignJurisdiction scopes an agent to a structure. A nil structure clears it. Admin only.
func (s *Service) AssignJurisdiction(ctx context.Context, actor models.Actor, userID id.UserID, structureID id.StructureID) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "identity.AssignJurisdiction")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID.String()))

	if err := models.Authorize(actor, models.ActionManageUsers, models.Resource{}); err != nil {
		return nil, err
	}
	if !structureID.IsNil() {
		if _, err := s.structures.GetStructure(ctx, structureID); err != nil {
			return nil, err
		}
	}

	now := requestcontext.Now(ctx)
	var previous id.StructureID
	u, err := s.users.Execute(ctx, userID,
		func(u *models.User) error {
			previous = u.StructureID
			return u.CanAssignJurisdiction()
		},
		func(u *models.User) { u.ApplyJurisdiction(structureID, now) },
	)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
		case dErrors.HasCode(err, dErrors.CodeInvariantViolation):
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to assign jurisdiction")
		}
	}
	s.logger.InfoContext(ctx, "jurisdiction assigned",
		"log_type", "audit",
		"actor_id", actor.UserID,
		"user_id", userID,
		"from_structure_id", previous,
		"to_structure_id", structureID,
	)
	return u, nil
}

// ListUsers lists accounts, optionally filtered by role and structure. Admin only.
func (s *Service) ListUsers(ctx context.Context, actor models.Actor, filter store.ListFilter) ([]*models.User, error) {
	if err := models.Authorize(actor, models.ActionManageUsers, models.Resource{}); err != nil {
		return nil, err
	}
	users, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list users")
	}
	return users, nil
}

// UpdateProfileRequest is the self-service profile payload. Absent fields
// are left unchanged.
type UpdateProfileRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Phone     *string `json:"phone"`
}

// UpdateProfile changes the caller's names and phone.
func (s *Service) UpdateProfile(ctx context.Context, userID id.UserID, req UpdateProfileRequest) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "identity.UpdateProfile")
	defer span.End()

	now := requestcontext.Now(ctx)
	update := models.ProfileUpdate{FirstName: req.FirstName, LastName: req.LastName, Phone: req.Phone}
	var invalid error
	u, err := s.users.Execute(ctx, userID,
		func(u *models.User) error {
			candidate := *u
			invalid = candidate.ApplyProfile(update, now)
			return invalid
		},
		func(u *models.User) { _ = u.ApplyProfile(update, now) },
	)
	if err != nil {
		if invalid != nil {
			return nil, invalid
		}
		return nil, userStoreError(err, "failed to update profile")
	}
	return u, nil
}

// ChangePasswordRequest is the self-service password change payload.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword replaces the caller's password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, userID id.UserID, req ChangePasswordRequest) error {
	ctx, span := tracer.Start(ctx, "identity.ChangePassword")
	defer span.End()

	if req.NewPassword == req.CurrentPassword {
		return dErrors.New(dErrors.CodeValidation, "the new password must differ from the current one")
	}
	hash, err := secrets.Hash(req.NewPassword)
	if err != nil {
		return err
	}
	now := requestcontext.Now(ctx)
	var verifyErr error
	_, err = s.users.Execute(ctx, userID,
		func(u *models.User) error {
			verifyErr = secrets.Verify(req.CurrentPassword, u.PasswordHash)
			return verifyErr
		},
		func(u *models.User) { u.SetPasswordHash(hash, now) },
	)
	if err != nil {
		if verifyErr != nil {
			if dErrors.HasCode(verifyErr, dErrors.CodeUnauthorized) {
				return dErrors.New(dErrors.CodeValidation, "current password is incorrect")
			}
			return dErrors.Wrap(verifyErr, dErrors.CodeInternal, "failed to verify credentials")
		}
		return userStoreError(err, "failed to change password")
	}
	s.logger.InfoContext(ctx, "password changed",
		"log_type", "audit",
		"user_id", userID,
	)
	return nil
}

// SetActive enables or disables an account. Admins cannot disable
// themselves. Admin only.
func (s *Service) SetActive(ctx context.Context, actor models.Actor, userID id.UserID, active bool) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "identity.SetActive")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID.String()), attribute.Bool("active", active))

	if err := models.Authorize(actor, models.ActionManageUsers, models.Resource{}); err != nil {
		return nil, err
	}
	if !active && actor.UserID == userID {
		return nil, dErrors.New(dErrors.CodeValidation, "you cannot disable your own account")
	}
	now := requestcontext.Now(ctx)
	u, err := s.users.Execute(ctx, userID,
		func(*models.User) error { return nil },
		func(u *models.User) { u.SetActive(active, now) },
	)
	if err != nil {
		return nil, userStoreError(err, "failed to change account status")
	}
	s.logger.InfoContext(ctx, "account status changed",
		"log_type", "audit",
		"actor_id", actor.UserID,
		"user_id", userID,
		"active", active,
	)
	return u, nil
}

// ResetPassword replaces a user's password with a generated one and returns
// it once. Admin only.
func (s *Service) ResetPassword(ctx context.Context, actor models.Actor, userID id.UserID) (string, error) {
	ctx, span := tracer.Start(ctx, "identity.ResetPassword")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID.String()))

	if err := models.Authorize(actor, models.ActionManageUsers, models.Resource{}); err != nil {
		return "", err
	}
	password, err := secrets.Generate()
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate password")
	}
	hash, err := secrets.Hash(password)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}
	now := requestcontext.Now(ctx)
	if _, err := s.users.Execute(ctx, userID,
		func(*models.User) error { return nil },
		func(u *models.User) { u.SetPasswordHash(hash, now) },
	); err != nil {
		return "", userStoreError(err, "failed to reset password")
	}
	s.logger.InfoContext(ctx, "password reset",
		"log_type", "audit",
		"actor_id", actor.UserID,
		"user_id", userID,
	)
	return password, nil
}

func userStoreError(err error, msg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "user not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

// ProvisionAdmin creates an admin account with a generated password and
// returns that password. It is called from the provisioning command only.
func (s *Service) ProvisionAdmin(ctx context.Context, address string) (*models.User, string, error) {
	password, err := secrets.Generate()
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate password")
	}
	first, last := email.DeriveNameFromEmail(email.Normalize(address))
	u, err := s.createUser(ctx, models.RoleAdmin, RegisterRequest{
		Email:     address,
		Password:  password,
		FirstName: first,
		LastName:  last,
	}, id.StructureID{})
	if err != nil {
		return nil, "", err
	}
	s.logger.InfoContext(ctx, "admin provisioned",
		"log_type", "audit",
		"user_id", u.ID,
	)
	return u, password, nil
}

func (s *Service) createUser(ctx context.Context, role models.Role, req RegisterRequest, structureID id.StructureID) (*models.User, error) {
	hash, err := secrets.Hash(req.Password)
	if err != nil {
		return nil, err
	}
	u, err := models.NewUser(id.NewUserID(), role, models.Profile{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	}, hash, requestcontext.Now(ctx))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}
	u.StructureID = structureID

	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "an account with this email already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create user")
	}
	if s.metrics != nil {
		s.metrics.IncrementUsersCreated()
	}
	return u, nil
}
