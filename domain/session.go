package domain

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"lobby-lab/errors"
)

var validate = validator.New()

// SessionRole describes which side of the session this process runs.
type SessionRole int

const (
	// RoleUnspecified represents an invalid role value.
	RoleUnspecified SessionRole = iota
	// RoleHost runs the authoritative registry and replicator.
	RoleHost
	// RoleClient holds a read-only mirror of the roster.
	RoleClient
)

// Session is one authoritative group of participants coordinated by a
// single host. Name and Capacity are immutable after creation.
type Session struct {
	ID        string
	Name      string
	JoinCode  string
	Capacity  int
	Role      SessionRole
	CreatedAt time.Time
}

// Decision is the outcome of an admission check.
type Decision struct {
	Approved bool
	Reason   string
}

// Rejection reasons carried back to the connecting side.
const (
	ReasonFull    = "full"
	ReasonClosed  = "closed"
	ReasonBadName = "bad name"
)

func Approve() Decision             { return Decision{Approved: true} }
func Reject(reason string) Decision { return Decision{Reason: reason} }

// CreateSessionInput describes the metadata needed to host a session.
// Capacity bounds remote participants; the host itself is not a
// registry entry.
type CreateSessionInput struct {
	Name     string `validate:"required,min=1,max=64"`
	Capacity int    `validate:"required,min=1,max=64"`
}

// NormalizeCreateSessionInput trims and validates session metadata.
// Validation failures are resolved locally, before any network call.
func NormalizeCreateSessionInput(input CreateSessionInput) (CreateSessionInput, error) {
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return CreateSessionInput{}, errors.ErrEmptySessionName
	}
	if err := validate.Struct(input); err != nil {
		return CreateSessionInput{}, err
	}
	return input, nil
}
