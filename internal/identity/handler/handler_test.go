package handler

import (
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"togoretrouve/internal/geo"
	"togoretrouve/internal/identity/models"
	"togoretrouve/internal/identity/service"
	"togoretrouve/internal/identity/store"
	"togoretrouve/internal/identity/token"
	"togoretrouve/internal/platform/logger"
	id "togoretrouve/pkg/domain"
	"togoretrouve/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	router  chi.Router
	service *service.Service
	admin   *models.User
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	ctx := testutil.Context()
	registry := geo.NewInMemory()
	s.Require().NoError(geo.Seed(ctx, registry))
	s.service = service.New(store.NewInMemory(), geo.NewService(registry), token.NewJWTService("k", "test"),
		service.WithLogger(logger.Discard()))

	admin, _, err := s.service.ProvisionAdmin(ctx, "root@example.tg")
	s.Require().NoError(err)
	s.admin = admin

	h := New(s.service, logger.Discard())
	r := chi.NewRouter()
	h.Register(r)
	h.RegisterAuthenticated(r)
	h.RegisterAdmin(r)
	s.router = r
}

func (s *HandlerSuite) TestRegisterAndLogin() {
	s.Run("register returns the account without the hash", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/register", map[string]string{
			"email": "kodjo@example.tg", "password": "s3cret-pass", "first_name": "Kodjo",
		})
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
		testutil.AssertJSONContains(s.T(), rr, "role", "citizen")
		s.NotContains(rr.Body.String(), "password")
	})

	s.Run("login returns a bearer token", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/login", map[string]string{
			"email": "kodjo@example.tg", "password": "s3cret-pass",
		})
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONHasKey(s.T(), rr, "access_token")
	})

	s.Run("bad credentials are unauthorized", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/login", map[string]string{
			"email": "kodjo@example.tg", "password": "nope-nope",
		})
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("unknown fields are rejected", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/register", map[string]string{
			"email": "x@example.tg", "password": "s3cret-pass", "role": "admin",
		})
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})
}

func (s *HandlerSuite) TestMe() {
	s.Run("requires an identity", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/auth/me"))
		testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
	})

	s.Run("returns the caller", func() {
		req := testutil.WithAuth(testutil.NewRequest(s.T(), http.MethodGet, "/auth/me"), s.admin.ID, "admin")
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "email", "root@example.tg")
	})
}

func (s *HandlerSuite) TestAdminRoutes() {
	_, _, structures := geo.SeedData()

	s.Run("admin creates an agent", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/agents", map[string]string{
			"email": "agent@example.tg", "password": "agent-pass", "structure_id": structures[0].ID.String(),
		})
		rr := testutil.DoRequest(s.router, testutil.WithAuth(req, s.admin.ID, "admin"))
		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
		testutil.AssertJSONContains(s.T(), rr, "role", "agent")
	})

	s.Run("lists agents only", func() {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/admin/users?role=agent")
		rr := testutil.DoRequest(s.router, testutil.WithAuth(req, s.admin.ID, "admin"))
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONArrayLen(s.T(), rr, 1)
	})

	s.Run("malformed user id is a bad request", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/users/not-a-uuid/jurisdiction", map[string]string{
			"structure_id": structures[0].ID.String(),
		})
		rr := testutil.DoRequest(s.router, testutil.WithAuth(req, s.admin.ID, "admin"))
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})
}

func (s *HandlerSuite) login(email, password string) int {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/login", map[string]string{"email": email, "password": password})
	return testutil.DoRequest(s.router, req).Code
}

func (s *HandlerSuite) TestAccountManagement() {
	citizen, err := s.service.Register(testutil.Context(), service.RegisterRequest{
		Email: "ama@example.tg", Password: "first-pass", FirstName: "Ama",
	})
	s.Require().NoError(err)
	asCitizen := func(req *http.Request) *http.Request { return testutil.WithAuth(req, citizen.ID, "citizen") }
	asAdmin := func(req *http.Request) *http.Request { return testutil.WithAuth(req, s.admin.ID, "admin") }
	base := "/admin/users/" + citizen.ID.String()

	s.Run("the citizen updates their profile", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPatch, "/auth/me", map[string]string{"last_name": "Mensah", "phone": "+228 90 00 11 22"})
		rr := testutil.DoRequest(s.router, asCitizen(req))
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "first_name", "Ama")
		testutil.AssertJSONContains(s.T(), rr, "last_name", "Mensah")
		testutil.AssertJSONContains(s.T(), rr, "email", "ama@example.tg")
	})

	s.Run("a wrong current password is refused", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/me/password", map[string]string{
			"current_password": "not-it-at-all", "new_password": "second-pass",
		})
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, asCitizen(req)), http.StatusBadRequest, "validation")
		s.Equal(http.StatusOK, s.login("ama@example.tg", "first-pass"))
	})

	s.Run("the citizen changes their password", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/me/password", map[string]string{
			"current_password": "first-pass", "new_password": "second-pass",
		})
		testutil.AssertStatus(s.T(), testutil.DoRequest(s.router, asCitizen(req)), http.StatusNoContent)
		s.Equal(http.StatusUnauthorized, s.login("ama@example.tg", "first-pass"))
		s.Equal(http.StatusOK, s.login("ama@example.tg", "second-pass"))
	})

	s.Run("a citizen cannot manage accounts", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, base+"/status", map[string]bool{"active": false})
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, asCitizen(req)), http.StatusForbidden, "forbidden")
	})

	s.Run("a disabled account is refused everywhere", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, base+"/status", map[string]bool{"active": false})
		rr := testutil.DoRequest(s.router, asAdmin(req))
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "active", false)

		s.Equal(http.StatusUnauthorized, s.login("ama@example.tg", "second-pass"))
		me := testutil.DoRequest(s.router, asCitizen(testutil.NewRequest(s.T(), http.MethodGet, "/auth/me")))
		testutil.AssertStatusAndError(s.T(), me, http.StatusForbidden, "forbidden")
	})

	s.Run("status requires the active flag", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, base+"/status", map[string]any{})
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, asAdmin(req)), http.StatusBadRequest, "validation")
	})

	s.Run("an admin cannot disable themselves", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/users/"+s.admin.ID.String()+"/status", map[string]bool{"active": false})
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, asAdmin(req)), http.StatusBadRequest, "validation")
	})

	s.Run("the admin resets the password and re-enables the account", func() {
		rr := testutil.DoRequest(s.router, asAdmin(testutil.NewRequest(s.T(), http.MethodPost, base+"/password-reset")))
		testutil.AssertStatusOK(s.T(), rr)
		reset := testutil.UnmarshalResponse[map[string]string](s.T(), rr)
		password := (*reset)["password"]
		s.NotEmpty(password)

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, base+"/status", map[string]bool{"active": true})
		testutil.AssertStatusOK(s.T(), testutil.DoRequest(s.router, asAdmin(req)))

		s.Equal(http.StatusUnauthorized, s.login("ama@example.tg", "second-pass"))
		s.Equal(http.StatusOK, s.login("ama@example.tg", password))
	})

	s.Run("an unknown user is not found", func() {
		rr := testutil.DoRequest(s.router, asAdmin(testutil.NewRequest(s.T(), http.MethodPost, "/admin/users/"+id.NewUserID().String()+"/password-reset")))
		testutil.AssertStatus(s.T(), rr, http.StatusNotFound)
	})
}
