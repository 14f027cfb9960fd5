package models

import (
	"fmt"

	dErrors "togoretrouve/pkg/domain-errors"
)

type Status string

const (
	StatusCreated           Status = "created"
	StatusValidated         Status = "validated"
	StatusPublished         Status = "published"
	StatusClaimed           Status = "claimed"
	StatusUnderVerification Status = "under_verification"
	StatusRestituted        Status = "restituted"
	StatusRejected          Status = "rejected"
	StatusArchived          Status = "archived"
)

var allStatuses = []Status{
	StatusCreated, StatusValidated, StatusPublished, StatusClaimed,
	StatusUnderVerification, StatusRestituted, StatusRejected, StatusArchived,
}

// AllStatuses lists every status in lifecycle order.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

func ParseStatus(s string) (Status, error) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown status %q", s))
}

// Driver is who may fire a transition.
type Driver int

const (
	// DriverStaff is an agent of the declaration's structure, or an admin.
	DriverStaff Driver = iota
	// DriverAdmin is an admin only.
	DriverAdmin
	// DriverClaim is the claim workflow; the edge cannot be requested directly.
	DriverClaim
)

type edge struct {
	from, to Status
}

var transitions = map[edge]Driver{
	{StatusCreated, StatusValidated}:            DriverStaff,
	{StatusCreated, StatusRejected}:             DriverStaff,
	{StatusValidated, StatusPublished}:          DriverStaff,
	{StatusValidated, StatusRejected}:           DriverStaff,
	{StatusPublished, StatusClaimed}:            DriverClaim,
	{StatusPublished, StatusArchived}:           DriverAdmin,
	{StatusClaimed, StatusUnderVerification}:    DriverClaim,
	{StatusUnderVerification, StatusRestituted}: DriverClaim,
	{StatusUnderVerification, StatusPublished}:  DriverClaim,
	{StatusRestituted, StatusArchived}:          DriverAdmin,
}

// CanTransition returns who drives from→to, or an invalid_transition error
// naming both states when the edge is not in the lifecycle.
func CanTransition(from, to Status) (Driver, error) {
	driver, ok := transitions[edge{from, to}]
	if !ok {
		return 0, InvalidTransition(from, to)
	}
	return driver, nil
}

func InvalidTransition(from, to Status) error {
	return dErrors.New(dErrors.CodeInvalidTransition, fmt.Sprintf("cannot move declaration from %s to %s", from, to))
}
