package errors

import "fmt"

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrEmptyWords  = fmt.Errorf("no words have been found")

	// Admission
	ErrSessionFull       = fmt.Errorf("session is full")
	ErrSessionClosed     = fmt.Errorf("session is closed")
	ErrDuplicateIdentity = fmt.Errorf("identity already admitted")

	// Replication
	ErrUnknownParticipant = fmt.Errorf("participant not found in registry")
	ErrProtocolViolation  = fmt.Errorf("request identity does not match connection owner")

	// Lobby surface
	ErrEmptySessionName = fmt.Errorf("session name cannot be empty")
	ErrForbiddenName    = fmt.Errorf("name contains a forbidden word")
	ErrEmptyJoinCode    = fmt.Errorf("join code cannot be empty")
	ErrUnknownJoinCode  = fmt.Errorf("join code does not match any session")
	ErrNotAuthenticated = fmt.Errorf("sign-in required")

	// Identity provider
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrUserAlreadyExists  = fmt.Errorf("user already exists")
	ErrInvalidPassword    = fmt.Errorf("password does not meet complexity rules")
	ErrTokenGeneration    = fmt.Errorf("token generation failed")
)
