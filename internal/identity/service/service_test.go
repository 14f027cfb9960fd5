package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"togoretrouve/internal/geo"
	"togoretrouve/internal/identity/models"
	"togoretrouve/internal/identity/store"
	"togoretrouve/internal/identity/token"
	"togoretrouve/internal/platform/logger"
	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
	"togoretrouve/pkg/testutil"
)

type ServiceSuite struct {
	suite.Suite
	ctx       context.Context
	users     *store.InMemory
	tokens    *token.JWTService
	service   *Service
	structure geo.Structure
	admin     models.Actor
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = testutil.Context()
	s.users = store.NewInMemory()
	registry := geo.NewInMemory()
	s.Require().NoError(geo.Seed(s.ctx, registry))
	_, _, structures := geo.SeedData()
	s.structure = structures[0]

	s.tokens = token.NewJWTService("test-key", "togoretrouve-test")
	s.service = New(s.users, geo.NewService(registry), s.tokens,
		WithLogger(logger.Discard()),
		WithTokenTTL(time.Hour),
	)

	admin, _, err := s.service.ProvisionAdmin(s.ctx, "root@example.tg")
	s.Require().NoError(err)
	s.admin = admin.Actor()
}

func (s *ServiceSuite) register(address string) *models.User {
	u, err := s.service.Register(s.ctx, RegisterRequest{
		Email: address, Password: "s3cret-pass", FirstName: "Ama", LastName: "Mensah",
	})
	s.Require().NoError(err)
	return u
}

func (s *ServiceSuite) TestRegister() {
	s.Run("creates an active citizen with a normalized email", func() {
		u, err := s.service.Register(s.ctx, RegisterRequest{
			Email: "  Kofi@Example.TG ", Password: "s3cret-pass",
		})
		s.Require().NoError(err)
		s.Equal(models.RoleCitizen, u.Role)
		s.Equal("kofi@example.tg", u.Email)
		s.True(u.Active)
		s.Equal(testutil.FixedNow, u.CreatedAt)
	})

	s.Run("rejects a duplicate email regardless of case", func() {
		_, err := s.service.Register(s.ctx, RegisterRequest{Email: "KOFI@example.tg", Password: "another-pass"})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("rejects a short password", func() {
		_, err := s.service.Register(s.ctx, RegisterRequest{Email: "afi@example.tg", Password: "123"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("rejects a malformed email", func() {
		_, err := s.service.Register(s.ctx, RegisterRequest{Email: "not-an-email", Password: "s3cret-pass"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestLogin() {
	u := s.register("yao@example.tg")

	s.Run("issues a token carrying the role", func() {
		// wall clock, so the token is not already expired
		res, err := s.service.Login(context.Background(), "YAO@example.tg", "s3cret-pass")
		s.Require().NoError(err)
		s.Equal("Bearer", res.TokenType)

		claims, err := s.tokens.ValidateToken(res.AccessToken)
		s.Require().NoError(err)
		s.Equal(u.ID.String(), claims.UserID)
		s.Equal("citizen", claims.Role)
	})

	s.Run("wrong password and unknown email look the same", func() {
		_, err1 := s.service.Login(s.ctx, "yao@example.tg", "wrong-password")
		_, err2 := s.service.Login(s.ctx, "nobody@example.tg", "wrong-password")
		s.True(dErrors.HasCode(err1, dErrors.CodeUnauthorized))
		s.Equal(err1.Error(), err2.Error())
	})
}

func (s *ServiceSuite) TestCreateAgentAndJurisdiction() {
	citizen := s.register("esi@example.tg")

	s.Run("admin creates an agent scoped to a structure", func() {
		agent, err := s.service.CreateAgent(s.ctx, s.admin, CreateAgentRequest{
			RegisterRequest: RegisterRequest{Email: "agent@example.tg", Password: "agent-pass"},
			StructureID:     s.structure.ID,
		})
		s.Require().NoError(err)
		s.Equal(models.RoleAgent, agent.Role)
		s.Equal(s.structure.ID, agent.StructureID)

		staff, err := s.service.StaffForStructure(s.ctx, s.structure.ID)
		s.Require().NoError(err)
		s.Require().Len(staff, 1)
		s.Equal(agent.ID, staff[0].ID)
	})

	s.Run("citizens cannot create agents", func() {
		_, err := s.service.CreateAgent(s.ctx, citizen.Actor(), CreateAgentRequest{
			RegisterRequest: RegisterRequest{Email: "rogue@example.tg", Password: "agent-pass"},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("unknown structure is rejected", func() {
		_, err := s.service.CreateAgent(s.ctx, s.admin, CreateAgentRequest{
			RegisterRequest: RegisterRequest{Email: "lost@example.tg", Password: "agent-pass"},
			StructureID:     id.NewStructureID(),
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("citizens cannot be given a jurisdiction", func() {
		_, err := s.service.AssignJurisdiction(s.ctx, s.admin, citizen.ID, s.structure.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("jurisdiction can be cleared", func() {
		agent, err := s.service.CreateAgent(s.ctx, s.admin, CreateAgentRequest{
			RegisterRequest: RegisterRequest{Email: "mobile@example.tg", Password: "agent-pass"},
			StructureID:     s.structure.ID,
		})
		s.Require().NoError(err)

		updated, err := s.service.AssignJurisdiction(s.ctx, s.admin, agent.ID, id.StructureID{})
		s.Require().NoError(err)
		s.True(updated.StructureID.IsNil())

		actor, err := s.service.Actor(s.ctx, agent.ID)
		s.Require().NoError(err)
		s.True(actor.StructureID.IsNil())
	})
}

func (s *ServiceSuite) TestActor() {
	s.Run("unknown users are unauthorized", func() {
		_, err := s.service.Actor(s.ctx, id.NewUserID())
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("disabled users are forbidden", func() {
		u := s.register("gone@example.tg")
		_, err := s.users.Execute(s.ctx, u.ID,
			func(*models.User) error { return nil },
			func(u *models.User) { u.Active = false },
		)
		s.Require().NoError(err)

		_, err = s.service.Actor(s.ctx, u.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *ServiceSuite) TestProvisionAdmin() {
	s.Run("returns a usable one-time password", func() {
		u, password, err := s.service.ProvisionAdmin(s.ctx, "ops@example.tg")
		s.Require().NoError(err)
		s.Equal(models.RoleAdmin, u.Role)
		s.Equal("Ops", u.FirstName)

		_, err = s.service.Login(s.ctx, "ops@example.tg", password)
		s.NoError(err)
	})

	s.Run("refuses an existing email", func() {
		_, _, err := s.service.ProvisionAdmin(s.ctx, "ops@example.tg")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *ServiceSuite) TestUpdateProfile() {
	u := s.register("edem@example.tg")

	s.Run("only the provided fields change", func() {
		phone := " +228 91 22 33 44 "
		updated, err := s.service.UpdateProfile(s.ctx, u.ID, UpdateProfileRequest{Phone: &phone})
		s.Require().NoError(err)
		s.Equal("+228 91 22 33 44", updated.Phone)
		s.Equal("Ama", updated.FirstName)
		s.Equal("edem@example.tg", updated.Email)
	})

	s.Run("an oversized phone leaves the account untouched", func() {
		phone := "0123456789012345678901234"
		_, err := s.service.UpdateProfile(s.ctx, u.ID, UpdateProfileRequest{Phone: &phone})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		stored, err := s.service.Me(s.ctx, u.ID)
		s.Require().NoError(err)
		s.Equal("+228 91 22 33 44", stored.Phone)
	})
}

func (s *ServiceSuite) TestChangePassword() {
	u := s.register("dzifa@example.tg")

	s.Run("the current password must match", func() {
		err := s.service.ChangePassword(s.ctx, u.ID, ChangePasswordRequest{CurrentPassword: "wrong-pass", NewPassword: "fresh-pass"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("the new password must differ", func() {
		err := s.service.ChangePassword(s.ctx, u.ID, ChangePasswordRequest{CurrentPassword: "s3cret-pass", NewPassword: "s3cret-pass"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("the new password replaces the old one", func() {
		s.Require().NoError(s.service.ChangePassword(s.ctx, u.ID, ChangePasswordRequest{CurrentPassword: "s3cret-pass", NewPassword: "fresh-pass"}))

		_, err := s.service.Login(s.ctx, "dzifa@example.tg", "s3cret-pass")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		_, err = s.service.Login(s.ctx, "dzifa@example.tg", "fresh-pass")
		s.NoError(err)
	})
}

func (s *ServiceSuite) TestSetActive() {
	u := s.register("senam@example.tg")

	s.Run("a citizen cannot change account status", func() {
		_, err := s.service.SetActive(s.ctx, u.Actor(), s.admin.UserID, false)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("an admin cannot disable themselves", func() {
		_, err := s.service.SetActive(s.ctx, s.admin, s.admin.UserID, false)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("a disabled account can neither log in nor act", func() {
		disabled, err := s.service.SetActive(s.ctx, s.admin, u.ID, false)
		s.Require().NoError(err)
		s.False(disabled.Active)

		_, err = s.service.Login(s.ctx, "senam@example.tg", "s3cret-pass")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		_, err = s.service.Actor(s.ctx, u.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("a disabled agent drops out of the structure staff", func() {
		agent, err := s.service.CreateAgent(s.ctx, s.admin, CreateAgentRequest{
			RegisterRequest: RegisterRequest{Email: "agent.senam@example.tg", Password: "agent-pass"},
			StructureID:     s.structure.ID,
		})
		s.Require().NoError(err)
		_, err = s.service.SetActive(s.ctx, s.admin, agent.ID, false)
		s.Require().NoError(err)

		staff, err := s.service.StaffForStructure(s.ctx, s.structure.ID)
		s.Require().NoError(err)
		for _, member := range staff {
			s.NotEqual(agent.ID, member.ID)
		}
	})

	s.Run("reactivation restores access", func() {
		_, err := s.service.SetActive(s.ctx, s.admin, u.ID, true)
		s.Require().NoError(err)
		_, err = s.service.Login(s.ctx, "senam@example.tg", "s3cret-pass")
		s.NoError(err)
	})

	s.Run("an unknown user is not found", func() {
		_, err := s.service.SetActive(s.ctx, s.admin, id.NewUserID(), false)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestResetPassword() {
	u := s.register("koku@example.tg")

	s.Run("a citizen cannot reset passwords", func() {
		_, err := s.service.ResetPassword(s.ctx, u.Actor(), s.admin.UserID)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("the generated password replaces the old one", func() {
		password, err := s.service.ResetPassword(s.ctx, s.admin, u.ID)
		s.Require().NoError(err)
		s.NotEmpty(password)

		_, err = s.service.Login(s.ctx, "koku@example.tg", "s3cret-pass")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		_, err = s.service.Login(s.ctx, "koku@example.tg", password)
		s.NoError(err)
	})
}
