package event

import (
	"time"

	"lobby-lab/domain"
)

// DomainEvent is an authoritative roster change produced by the host.
// Every event carries the session-wide epoch assigned to the change,
// so client mirrors can discard out-of-order deliveries.
type DomainEvent interface {
	Session() string
	EventEpoch() uint64
}

type ParticipantJoined struct {
	SessionID   string
	ID          domain.Identity
	DisplayName string
	Epoch       uint64
	At          time.Time
}

func (e ParticipantJoined) Session() string    { return e.SessionID }
func (e ParticipantJoined) EventEpoch() uint64 { return e.Epoch }

type ParticipantLeft struct {
	SessionID string
	ID        domain.Identity
	Epoch     uint64
	At        time.Time
}

func (e ParticipantLeft) Session() string    { return e.SessionID }
func (e ParticipantLeft) EventEpoch() uint64 { return e.Epoch }

// ReadinessChanged replicates the authoritative readiness flag.
// The value is absolute, not a delta: re-applying it is harmless.
type ReadinessChanged struct {
	SessionID string
	ID        domain.Identity
	Ready     bool
	Epoch     uint64
	At        time.Time
}

func (e ReadinessChanged) Session() string    { return e.SessionID }
func (e ReadinessChanged) EventEpoch() uint64 { return e.Epoch }

// AllReady marks the transition of the whole roster into readiness.
// A new unready join re-arms it; re-entry is a new event.
type AllReady struct {
	SessionID string
	Epoch     uint64
	At        time.Time
}

func (e AllReady) Session() string    { return e.SessionID }
func (e AllReady) EventEpoch() uint64 { return e.Epoch }

type SessionClosed struct {
	SessionID string
	Epoch     uint64
	At        time.Time
}

func (e SessionClosed) Session() string    { return e.SessionID }
func (e SessionClosed) EventEpoch() uint64 { return e.Epoch }
