package runtime

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"lobby-lab/domain"
	"lobby-lab/domain/event"
)

func newTestReplicator(t *testing.T, capacity int) (*Replicator, *Registry, chan event.DomainEvent) {
	t.Helper()
	registry := NewRegistry(testLogger(), capacity)
	events := make(chan event.DomainEvent, 32)
	return NewReplicator(testLogger(), uuid.NewString(), registry, events), registry, events
}

func drain(events chan event.DomainEvent) []event.DomainEvent {
	var out []event.DomainEvent
	for {
		select {
		case e := <-events:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestReplicator_Epochs_Are_Strictly_Increasing(t *testing.T) {
	req := require.New(t)
	replicator, _, _ := newTestReplicator(t, 2)

	first := replicator.NextEpoch()
	second := replicator.NextEpoch()

	req.Equal(uint64(1), first)
	req.Equal(uint64(2), second)
	req.Equal(uint64(2), replicator.Epoch())
}

func TestReplicator_Ready_Request_Broadcasts_Once(t *testing.T) {
	req := require.New(t)
	replicator, registry, events := newTestReplicator(t, 2)
	participantID := domain.Identity(uuid.NewString())
	req.NoError(registry.AddParticipant(participantID, "Alice", Sink{}))

	// When the participant asserts readiness twice
	req.True(replicator.RequestReady(participantID))
	req.False(replicator.RequestReady(participantID))

	// Then exactly one readiness change is replicated
	var changes []event.ReadinessChanged
	for _, e := range drain(events) {
		if rc, ok := e.(event.ReadinessChanged); ok {
			changes = append(changes, rc)
		}
	}
	req.Len(changes, 1)
	req.Equal(participantID, changes[0].ID)
	req.True(changes[0].Ready)
}

func TestReplicator_Ready_Request_For_Unknown_Participant_Is_Absorbed(t *testing.T) {
	req := require.New(t)
	replicator, _, events := newTestReplicator(t, 2)

	// When a ready request races a disconnect
	changed := replicator.RequestReady(domain.Identity(uuid.NewString()))

	// Then nothing changes and nothing is replicated
	req.False(changed)
	req.Empty(drain(events))
}

func TestReplicator_AllReady_Fires_Once_Per_Entry(t *testing.T) {
	req := require.New(t)
	replicator, registry, events := newTestReplicator(t, 3)
	fired := 0
	replicator.OnAllReady(func() { fired++ })

	a := domain.Identity(uuid.NewString())
	b := domain.Identity(uuid.NewString())
	req.NoError(registry.AddParticipant(a, "A", Sink{}))
	req.NoError(registry.AddParticipant(b, "B", Sink{}))

	// When every participant becomes ready
	replicator.RequestReady(a)
	req.Zero(fired)
	replicator.RequestReady(b)

	// Then the transition fires exactly once
	req.Equal(1, fired)

	// And re-evaluating an unchanged roster does not re-fire
	replicator.RosterChanged()
	req.Equal(1, fired)

	// And exactly one all-ready event was replicated
	allReady := 0
	for _, e := range drain(events) {
		if _, ok := e.(event.AllReady); ok {
			allReady++
		}
	}
	req.Equal(1, allReady)
}

func TestReplicator_AllReady_ReArms_On_New_Join(t *testing.T) {
	req := require.New(t)
	replicator, registry, _ := newTestReplicator(t, 3)
	fired := 0
	replicator.OnAllReady(func() { fired++ })

	a := domain.Identity(uuid.NewString())
	req.NoError(registry.AddParticipant(a, "A", Sink{}))
	replicator.RequestReady(a)
	req.Equal(1, fired)

	// Given a fresh unready join breaks the condition
	b := domain.Identity(uuid.NewString())
	req.NoError(registry.AddParticipant(b, "B", Sink{}))
	replicator.RosterChanged()
	req.Equal(1, fired)

	// When the newcomer becomes ready
	replicator.RequestReady(b)

	// Then the genuine re-entry fires again
	req.Equal(2, fired)
}

func TestReplicator_Removal_Can_Complete_AllReady(t *testing.T) {
	req := require.New(t)
	replicator, registry, _ := newTestReplicator(t, 3)
	fired := 0
	replicator.OnAllReady(func() { fired++ })

	a := domain.Identity(uuid.NewString())
	b := domain.Identity(uuid.NewString())
	req.NoError(registry.AddParticipant(a, "A", Sink{}))
	req.NoError(registry.AddParticipant(b, "B", Sink{}))
	replicator.RequestReady(a)
	req.Zero(fired)

	// When the only unready participant leaves
	registry.RemoveParticipant(b)
	replicator.RosterChanged()

	// Then the remaining roster is all-ready
	req.Equal(1, fired)
	req.True(replicator.AllReady())
}

func TestReplicator_Emit_Waits_For_The_Pipeline(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testLogger(), 2)
	events := make(chan event.DomainEvent)
	replicator := NewReplicator(testLogger(), uuid.NewString(), registry, events)

	// Given a pipeline with no free slot until the fanout catches up
	received := make(chan event.DomainEvent, 1)
	go func() {
		time.Sleep(50 * time.Millisecond)
		received <- <-events
	}()

	// When a roster delta is emitted against the busy pipeline
	replicator.Emit(event.ParticipantJoined{
		SessionID:   "session-1",
		ID:          "p1",
		DisplayName: "Alice",
		Epoch:       replicator.NextEpoch(),
	})

	// Then the delta is delivered rather than dropped
	select {
	case evt := <-received:
		joined, ok := evt.(event.ParticipantJoined)
		req.True(ok)
		req.Equal(domain.Identity("p1"), joined.ID)
	case <-time.After(time.Second):
		t.Fatal("delta never reached the pipeline")
	}
}
