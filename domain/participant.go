// Package domain contains core concepts of the lobby system.
// This file defines Participant entities and related invariants.
// No runtime, network, or UI logic should be added here.
package domain

import "time"

// Identity is the opaque, server-assigned connection identifier of a
// participant. It is unique among live connections and stable for the
// lifetime of that connection.
type Identity string

// Participant is one admitted connection within a session.
// Readiness is authoritative only on the host; clients hold mirrors.
type Participant struct {
	ID          Identity
	DisplayName string
	Ready       bool
	JoinedAt    time.Time
}
