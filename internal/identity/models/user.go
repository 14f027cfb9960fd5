package models

import (
	"strings"
	"time"

	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
	"togoretrouve/pkg/email"
)

// User is the aggregate root for an account.
//
// Invariants:
//   - Email is normalized (trimmed, lowercase) and unique
//   - Role is one of citizen, agent, admin
//   - Only agents and admins carry a StructureID; an agent without one can act on nothing
//   - StructureID changes only through AssignJurisdiction
type User struct {
	ID           id.UserID      `json:"id"`
	Email        string         `json:"email"`
	PasswordHash string         `json:"-"`
	FirstName    string         `json:"first_name"`
	LastName     string         `json:"last_name"`
	Phone        string         `json:"phone,omitempty"`
	Role         Role           `json:"role"`
	StructureID  id.StructureID `json:"structure_id"`
	Active       bool           `json:"active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Profile carries the user-supplied part of an account.
type Profile struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
}

// NewUser validates a profile and builds an active user.
func NewUser(userID id.UserID, role Role, p Profile, passwordHash string, now time.Time) (*User, error) {
	address := email.Normalize(p.Email)
	if err := email.Validate(address); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "password hash is required")
	}
	if len(p.FirstName) > 150 || len(p.LastName) > 150 {
		return nil, dErrors.New(dErrors.CodeValidation, "names must be 150 characters or less")
	}
	if len(p.Phone) > 20 {
		return nil, dErrors.New(dErrors.CodeValidation, "phone must be 20 characters or less")
	}
	return &User{
		ID:           userID,
		Email:        address,
		PasswordHash: passwordHash,
		FirstName:    strings.TrimSpace(p.FirstName),
		LastName:     strings.TrimSpace(p.LastName),
		Phone:        strings.TrimSpace(p.Phone),
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// DisplayName is shown to the other party in conversations.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// Actor returns the authorization view of the user.
func (u *User) Actor() Actor {
	return Actor{UserID: u.ID, Role: u.Role, StructureID: u.StructureID}
}

// CanAssignJurisdiction checks the user may be scoped to a structure.
func (u *User) CanAssignJurisdiction() error {
	if !u.Role.IsStaff() {
		return dErrors.New(dErrors.CodeInvariantViolation, "only agents and admins can be assigned a jurisdiction")
	}
	return nil
}

// ApplyJurisdiction scopes the user to structureID. A nil ID clears the assignment.
func (u *User) ApplyJurisdiction(structureID id.StructureID, now time.Time) {
	u.StructureID = structureID
	u.UpdatedAt = now
}

// ProfileUpdate carries the fields a user may change on their own account.
// Nil fields are left as they are. The email is the login and stays fixed.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	Phone     *string
}

// ApplyProfile validates and applies a self-service profile change.
func (u *User) ApplyProfile(p ProfileUpdate, now time.Time) error {
	first, last, phone := u.FirstName, u.LastName, u.Phone
	if p.FirstName != nil {
		first = strings.TrimSpace(*p.FirstName)
	}
	if p.LastName != nil {
		last = strings.TrimSpace(*p.LastName)
	}
	if p.Phone != nil {
		phone = strings.TrimSpace(*p.Phone)
	}
	if len(first) > 150 || len(last) > 150 {
		return dErrors.New(dErrors.CodeValidation, "names must be 150 characters or less")
	}
	if len(phone) > 20 {
		return dErrors.New(dErrors.CodeValidation, "phone must be 20 characters or less")
	}
	u.FirstName, u.LastName, u.Phone = first, last, phone
	u.UpdatedAt = now
	return nil
}

// SetActive enables or disables the account. A disabled account cannot log in
// and its tokens stop resolving to an actor.
func (u *User) SetActive(active bool, now time.Time) {
	u.Active = active
	u.UpdatedAt = now
}

// SetPasswordHash replaces the stored credential.
func (u *User) SetPasswordHash(hash string, now time.Time) {
	u.PasswordHash = hash
	u.UpdatedAt = now
}
