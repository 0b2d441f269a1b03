// Package projection builds local read models from observed events.
// Handles ordering, deduplication, and projections.
// Does not emit events or interact with UI directly.
package projection

import (
	"sync"

	"lobby-lab/domain"
	"lobby-lab/domain/event"
)

// Roster is a client-side read-only mirror of the host's authoritative
// roster. It converges through retransmission: every replicated change
// carries an epoch, and anything at or below the last applied epoch is
// discarded. This keeps the mirror correct even on a transport without
// strict ordering guarantees.
type Roster struct {
	mu          sync.RWMutex
	self        domain.Identity
	sessionID   string
	sessionName string
	lastEpoch   uint64
	entries     map[domain.Identity]*domain.Participant
	order       []domain.Identity
}

// Seed initializes the mirror from an admission snapshot.
func Seed(self domain.Identity, sessionID, sessionName string, epoch uint64, participants []domain.Participant) *Roster {
	r := &Roster{
		self:        self,
		sessionID:   sessionID,
		sessionName: sessionName,
		lastEpoch:   epoch,
		entries:     make(map[domain.Identity]*domain.Participant, len(participants)),
	}
	for _, p := range participants {
		clone := p
		r.entries[p.ID] = &clone
		r.order = append(r.order, p.ID)
	}
	return r
}

// Apply folds one replicated event into the mirror. It reports false for
// stale deliveries (epoch already applied), which are discarded without
// touching the mirror.
func (r *Roster) Apply(e event.DomainEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	epoch := e.EventEpoch()
	if epoch != 0 && epoch <= r.lastEpoch {
		return false
	}

	switch evt := e.(type) {
	case event.ParticipantJoined:
		if _, exists := r.entries[evt.ID]; !exists {
			r.entries[evt.ID] = &domain.Participant{
				ID:          evt.ID,
				DisplayName: evt.DisplayName,
				JoinedAt:    evt.At,
			}
			r.order = append(r.order, evt.ID)
		}
	case event.ParticipantLeft:
		if _, exists := r.entries[evt.ID]; exists {
			delete(r.entries, evt.ID)
			for i, id := range r.order {
				if id == evt.ID {
					r.order = append(r.order[:i], r.order[i+1:]...)
					break
				}
			}
		}
	case event.ReadinessChanged:
		// Absolute value, safe to re-apply. Unknown identities are a
		// benign race with a removal delta.
		if p, exists := r.entries[evt.ID]; exists {
			p.Ready = evt.Ready
		}
	default:
		return false
	}

	if epoch > r.lastEpoch {
		r.lastEpoch = epoch
	}
	return true
}

// Self returns the identity this mirror belongs to.
func (r *Roster) Self() domain.Identity { return r.self }

// SessionName returns the immutable session name from the snapshot.
func (r *Roster) SessionName() string { return r.sessionName }

// Epoch returns the last applied epoch.
func (r *Roster) Epoch() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastEpoch
}

// Snapshot returns the mirrored participants in join order. The slice is
// a copy; later mutations are not reflected.
func (r *Roster) Snapshot() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Participant, 0, len(r.order))
	for _, id := range r.order {
		if p, exists := r.entries[id]; exists {
			out = append(out, *p)
		}
	}
	return out
}

// AllReady reports whether every mirrored participant is ready. Empty
// mirrors are never "all ready".
func (r *Roster) AllReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.entries) == 0 {
		return false
	}
	for _, p := range r.entries {
		if !p.Ready {
			return false
		}
	}
	return true
}
