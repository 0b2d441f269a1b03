package runtime

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lobby-lab/domain"
	"lobby-lab/domain/event"
	"lobby-lab/errors"
)

// Replicator owns the replication concerns of a hosted session: the
// session-wide epoch counter, the readiness request path and the
// all-ready transition. It never touches the network itself; events are
// handed to the fanout worker, which delivers them to every registered
// participant sink.
//
// All methods are called from the coordinator's event loop only.
type Replicator struct {
	log       *slog.Logger
	sessionID string
	registry  *Registry
	events    chan<- event.DomainEvent

	epoch      uint64
	inAllReady bool

	cbMu       sync.Mutex
	onAllReady []func()
}

func NewReplicator(log *slog.Logger, sessionID string, registry *Registry, events chan<- event.DomainEvent) *Replicator {
	return &Replicator{
		log:       log,
		sessionID: sessionID,
		registry:  registry,
		events:    events,
	}
}

// OnAllReady registers a callback fired synchronously on every
// transition into the all-ready state, in registration order.
// Registration may happen while the session is live.
func (r *Replicator) OnAllReady(fn func()) {
	r.cbMu.Lock()
	r.onAllReady = append(r.onAllReady, fn)
	r.cbMu.Unlock()
}

// NextEpoch assigns the epoch for an authoritative roster change.
func (r *Replicator) NextEpoch() uint64 {
	r.epoch++
	return r.epoch
}

// Epoch returns the epoch of the latest authoritative change.
func (r *Replicator) Epoch() uint64 { return r.epoch }

// RequestReady handles a validated self-assertion. Readiness is
// monotonic: the first call flips the flag and broadcasts; repeats are
// silent no-ops. A request for an identity the registry no longer knows
// is a benign race (the requester disconnected) and is absorbed.
// Reports whether the authoritative value changed.
func (r *Replicator) RequestReady(id domain.Identity) bool {
	changed, err := r.registry.SetReady(id)
	if err != nil {
		// Logged, never surfaced: a late request is not a protocol violation.
		r.log.Debug(fmt.Sprintf("Ready request for unknown participant %s, ignoring", id),
			"error", errors.ErrUnknownParticipant)
		return false
	}
	if !changed {
		return false
	}

	r.Emit(event.ReadinessChanged{
		SessionID: r.sessionID,
		ID:        id,
		Ready:     true,
		Epoch:     r.NextEpoch(),
		At:        time.Now().UTC(),
	})
	r.RosterChanged()
	return true
}

// RosterChanged re-evaluates the all-ready condition after any roster
// mutation. Entering all-ready fires the callbacks exactly once; a later
// unready join re-arms them, so genuine re-entry fires again.
func (r *Replicator) RosterChanged() {
	if !r.registry.AllReady() {
		r.inAllReady = false
		return
	}
	if r.inAllReady {
		return
	}
	r.inAllReady = true

	r.Emit(event.AllReady{
		SessionID: r.sessionID,
		Epoch:     r.epoch,
		At:        time.Now().UTC(),
	})
	r.cbMu.Lock()
	callbacks := append([]func(){}, r.onAllReady...)
	r.cbMu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

// AllReady is a point-in-time snapshot used by the lifecycle controller.
func (r *Replicator) AllReady() bool {
	return r.registry.AllReady()
}

// Emit hands an event to the fanout pipeline. The send waits when the
// pipeline is behind: every roster delta is broadcast exactly once, so
// losing one here would leave client mirrors permanently stale. The
// fanout worker is supervised and always comes back to drain.
func (r *Replicator) Emit(e event.DomainEvent) {
	r.events <- e
}
