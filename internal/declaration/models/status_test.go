package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		driver   Driver
		valid    bool
	}{
		{StatusCreated, StatusValidated, DriverStaff, true},
		{StatusCreated, StatusRejected, DriverStaff, true},
		{StatusValidated, StatusPublished, DriverStaff, true},
		{StatusValidated, StatusRejected, DriverStaff, true},
		{StatusPublished, StatusClaimed, DriverClaim, true},
		{StatusPublished, StatusArchived, DriverAdmin, true},
		{StatusClaimed, StatusUnderVerification, DriverClaim, true},
		{StatusUnderVerification, StatusRestituted, DriverClaim, true},
		{StatusUnderVerification, StatusPublished, DriverClaim, true},
		{StatusRestituted, StatusArchived, DriverAdmin, true},
		{StatusCreated, StatusPublished, 0, false},
		{StatusRejected, StatusCreated, 0, false},
		{StatusArchived, StatusPublished, 0, false},
		{StatusRestituted, StatusPublished, 0, false},
		{StatusPublished, StatusPublished, 0, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			driver, err := CanTransition(tt.from, tt.to)
			if !tt.valid {
				require.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
				assert.Contains(t, err.Error(), string(tt.from))
				assert.Contains(t, err.Error(), string(tt.to))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.driver, driver)
		})
	}
}

func TestApplyTransitionStampsOnce(t *testing.T) {
	first := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	later := first.Add(48 * time.Hour)
	agent := id.NewUserID()
	d := &Declaration{Status: StatusValidated}

	d.ApplyTransition(StatusPublished, agent, "", first)
	d.ApplyTransition(StatusClaimed, agent, "", first)
	d.ApplyTransition(StatusUnderVerification, agent, "", first)
	d.ApplyTransition(StatusPublished, agent, "", later)

	require.NotNil(t, d.PublishedAt)
	assert.True(t, d.PublishedAt.Equal(first))
	assert.True(t, d.UpdatedAt.Equal(later))
}

func TestNewLocation(t *testing.T) {
	loc, err := NewLocation(6.1319, 1.2228)
	require.NoError(t, err)
	assert.Len(t, loc.H3Index, 15)

	_, err = NewLocation(6.1, 181)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestNewComment(t *testing.T) {
	now := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	c, err := NewComment(id.NewDeclarationID(), "  ", " vu au marché ", now)
	require.NoError(t, err)
	assert.Equal(t, "Anonyme", c.AuthorName)
	assert.Equal(t, "vu au marché", c.Body)

	_, err = NewComment(id.NewDeclarationID(), "Afi", "   ", now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}
