package runtime

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lobby-lab/contract"
	"lobby-lab/domain"
	"lobby-lab/errors"
)

// Registry is the host's authoritative roster: identity -> participant
// plus identity -> event sink. Capacity bounds remote participants; the
// host itself never appears as an entry. All mutations arrive through
// the coordinator's single event loop; the mutex only protects the
// read-only accessors used by other goroutines.
type Registry struct {
	mu       sync.RWMutex
	log      *slog.Logger
	capacity int
	closed   bool

	participants map[domain.Identity]*domain.Participant
	order        []domain.Identity // join order, display only
	sinks        map[domain.Identity]contract.EventSink
}

func NewRegistry(log *slog.Logger, capacity int) *Registry {
	return &Registry{
		log:          log,
		capacity:     capacity,
		participants: make(map[domain.Identity]*domain.Participant),
		sinks:        make(map[domain.Identity]contract.EventSink),
	}
}

// TryAdmit is a pure capacity check: no state is created for the
// candidate, so a rejection leaves zero residue. The caller commits with
// AddParticipant afterward (two-phase admission).
func (r *Registry) TryAdmit(id domain.Identity) domain.Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return domain.Reject(domain.ReasonClosed)
	}
	if len(r.participants) >= r.capacity {
		r.log.Info(fmt.Sprintf("Admission refused for %s: session full (%d/%d)",
			id, len(r.participants), r.capacity))
		return domain.Reject(domain.ReasonFull)
	}
	return domain.Approve()
}

// AddParticipant commits an approved admission with readiness seeded to
// false. A duplicate identity indicates a transport bug and mutates
// nothing. The capacity invariant is re-checked so Count() can never
// exceed capacity regardless of call sequence.
func (r *Registry) AddParticipant(id domain.Identity, displayName string, sink contract.EventSink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.ErrSessionClosed
	}
	if _, exists := r.participants[id]; exists {
		r.log.Error(fmt.Sprintf("Identity collision for %s, ignoring", id))
		return errors.ErrDuplicateIdentity
	}
	if len(r.participants) >= r.capacity {
		return errors.ErrSessionFull
	}

	r.participants[id] = &domain.Participant{
		ID:          id,
		DisplayName: displayName,
		Ready:       false,
		JoinedAt:    time.Now().UTC(),
	}
	r.order = append(r.order, id)
	r.sinks[id] = sink
	return nil
}

// RemoveParticipant deletes the entry and its sink. Idempotent: a
// disconnect notification may race an explicit removal.
func (r *Registry) RemoveParticipant(id domain.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.participants[id]; !exists {
		return
	}
	delete(r.participants, id)
	delete(r.sinks, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// SetReady flips the authoritative readiness flag. Readiness is
// monotonic within a session: there is no path back to false short of
// removal and re-admission. Returns whether the value actually changed.
func (r *Registry) SetReady(id domain.Identity) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.participants[id]
	if !exists {
		return false, errors.ErrUnknownParticipant
	}
	if p.Ready {
		return false, nil
	}
	p.Ready = true
	return true, nil
}

// Has reports whether an identity is currently admitted.
func (r *Registry) Has(id domain.Identity) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.participants[id]
	return exists
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

func (r *Registry) Capacity() int { return r.capacity }

// All returns a snapshot of the roster in join order. Consumers must not
// assume it reflects later mutations.
func (r *Registry) All() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Participant, 0, len(r.order))
	for _, id := range r.order {
		if p, exists := r.participants[id]; exists {
			out = append(out, *p)
		}
	}
	return out
}

// Sinks returns a snapshot of every connected participant's sink.
func (r *Registry) Sinks() []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]contract.EventSink, 0, len(r.sinks))
	for _, id := range r.order {
		if sink, exists := r.sinks[id]; exists {
			out = append(out, sink)
		}
	}
	return out
}

// AllReady reports whether every participant in a non-empty roster is
// ready.
func (r *Registry) AllReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.participants) == 0 {
		return false
	}
	for _, p := range r.participants {
		if !p.Ready {
			return false
		}
	}
	return true
}

// Close stops all future admissions and releases the roster. In-flight
// TryAdmit calls racing the teardown observe the closed flag and reject.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.participants = make(map[domain.Identity]*domain.Participant)
	r.sinks = make(map[domain.Identity]contract.EventSink)
	r.order = nil
}
