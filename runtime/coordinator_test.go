package runtime

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"lobby-lab/domain"
	"lobby-lab/domain/event"
	"lobby-lab/moderation"
	"lobby-lab/observability"
	"lobby-lab/transport"
)

func newTestHostCoordinator(t *testing.T, capacity int, validate TokenValidator) (*Coordinator, chan event.DomainEvent) {
	t.Helper()
	log := testLogger()
	registry := NewRegistry(log, capacity)
	events := make(chan event.DomainEvent, 32)
	sessionID := uuid.NewString()
	replicator := NewReplicator(log, sessionID, registry, events)
	screener, err := moderation.NewScreener([]string{"scum"})
	require.NoError(t, err)

	c := NewHostCoordinator(log, HostConfig{
		Session:          domain.Session{ID: sessionID, Name: "test lobby", Capacity: capacity, Role: domain.RoleHost},
		Registry:         registry,
		Replicator:       replicator,
		Screener:         &screener,
		Monitor:          observability.NewMonitoringManager(log),
		ValidateToken:    validate,
		ListenAddr:       "127.0.0.1:0",
		HandshakeTimeout: time.Second,
		AdmitTimeout:     time.Second,
		SendBuffer:       8,
		EventBuffer:      8,
	})
	return c, events
}

func TestCoordinator_Admission_Approved_Builds_Welcome(t *testing.T) {
	req := require.New(t)
	c, events := newTestHostCoordinator(t, 2, nil)
	participantID := domain.Identity(uuid.NewString())

	// When a candidate passes the full admission sequence
	reply := c.handleAdmission(transport.ApprovalRequest{
		Identity:    participantID,
		DisplayName: "Alice",
		Sink:        Sink{},
	})

	// Then the welcome snapshot carries the roster and the join epoch
	req.True(reply.decision.Approved)
	req.NotNil(reply.welcome)
	req.Equal(uint64(1), reply.welcome.Epoch)
	req.Len(reply.welcome.Roster, 1)
	req.Equal("Alice", reply.welcome.Roster[0].DisplayName)
	req.Equal(1, c.registry.Count())

	// And the join was replicated
	select {
	case e := <-events:
		joined, ok := e.(event.ParticipantJoined)
		req.True(ok)
		req.Equal(participantID, joined.ID)
		req.Equal(uint64(1), joined.Epoch)
	default:
		t.Fatal("join was never replicated")
	}
}

func TestCoordinator_Admission_Rejected_When_Full_Leaves_No_State(t *testing.T) {
	req := require.New(t)
	c, _ := newTestHostCoordinator(t, 1, nil)

	first := c.handleAdmission(transport.ApprovalRequest{
		Identity: domain.Identity(uuid.NewString()), DisplayName: "A", Sink: Sink{},
	})
	req.True(first.decision.Approved)

	// When a second candidate knocks on a full session
	second := c.handleAdmission(transport.ApprovalRequest{
		Identity: domain.Identity(uuid.NewString()), DisplayName: "B", Sink: Sink{},
	})

	// Then it is refused with zero residue
	req.False(second.decision.Approved)
	req.Equal(domain.ReasonFull, second.decision.Reason)
	req.Nil(second.welcome)
	req.Equal(1, c.registry.Count())
}

func TestCoordinator_Admission_Refuses_Invalid_Credential(t *testing.T) {
	req := require.New(t)
	c, _ := newTestHostCoordinator(t, 2, func(token string) error {
		return fmt.Errorf("bad token %q", token)
	})

	reply := c.handleAdmission(transport.ApprovalRequest{
		Identity: domain.Identity(uuid.NewString()), DisplayName: "Alice", Token: "forged", Sink: Sink{},
	})

	req.False(reply.decision.Approved)
	req.Equal("unauthenticated", reply.decision.Reason)
	req.Zero(c.registry.Count())
}

func TestCoordinator_Admission_Refuses_Forbidden_Display_Name(t *testing.T) {
	req := require.New(t)
	c, _ := newTestHostCoordinator(t, 2, nil)

	reply := c.handleAdmission(transport.ApprovalRequest{
		Identity: domain.Identity(uuid.NewString()), DisplayName: "total scum", Sink: Sink{},
	})

	req.False(reply.decision.Approved)
	req.Equal(domain.ReasonBadName, reply.decision.Reason)
	req.Zero(c.registry.Count())
}

func TestCoordinator_Disconnect_Replicates_Departure(t *testing.T) {
	req := require.New(t)
	c, events := newTestHostCoordinator(t, 2, nil)
	participantID := domain.Identity(uuid.NewString())
	c.handleAdmission(transport.ApprovalRequest{
		Identity: participantID, DisplayName: "Alice", Sink: Sink{},
	})
	<-events // consume the join

	// When the participant's connection drops
	c.handleDisconnect(participantID)

	// Then the departure is replicated with a fresh epoch
	req.Zero(c.registry.Count())
	select {
	case e := <-events:
		left, ok := e.(event.ParticipantLeft)
		req.True(ok)
		req.Equal(participantID, left.ID)
		req.Equal(uint64(2), left.Epoch)
	default:
		t.Fatal("departure was never replicated")
	}
}

func TestCoordinator_Disconnect_Of_Unknown_Is_Absorbed(t *testing.T) {
	req := require.New(t)
	c, events := newTestHostCoordinator(t, 2, nil)

	// When a disconnect races an explicit removal
	c.handleDisconnect(domain.Identity(uuid.NewString()))

	// Then nothing is replicated
	select {
	case e := <-events:
		t.Fatalf("unexpected event: %#v", e)
	default:
	}
	req.Zero(c.registry.Count())
}

func TestCoordinator_Teardown_Rejects_InFlight_Admissions(t *testing.T) {
	req := require.New(t)
	c, _ := newTestHostCoordinator(t, 2, nil)

	// Given a closed session
	c.Close()

	// When an admission was still in flight
	decision, welcome := c.approve(transport.ApprovalRequest{
		Identity: domain.Identity(uuid.NewString()), DisplayName: "Late", Sink: Sink{},
	})

	// Then it is rejected as closed
	req.False(decision.Approved)
	req.Equal(domain.ReasonClosed, decision.Reason)
	req.Nil(welcome)
	req.Equal(StateDisconnected, c.State())
}

func TestCoordinator_Host_Is_Not_A_Registry_Entry(t *testing.T) {
	req := require.New(t)
	c, _ := newTestHostCoordinator(t, 1, nil)

	// When the host asserts local readiness
	err := c.SetLocalReady()

	// Then it is a recorded no-op: the capacity bounds remote
	// participants only
	req.NoError(err)
	req.Zero(c.registry.Count())

	// And a remote participant still fits into capacity 1
	reply := c.handleAdmission(transport.ApprovalRequest{
		Identity: domain.Identity(uuid.NewString()), DisplayName: "Remote", Sink: Sink{},
	})
	req.True(reply.decision.Approved)
}

func TestCoordinator_State_Strings(t *testing.T) {
	req := require.New(t)
	req.Equal("idle", StateIdle.String())
	req.Equal("hosting", StateHosting.String())
	req.Equal("joining", StateJoining.String())
	req.Equal("connected", StateConnected.String())
	req.Equal("active", StateActive.String())
	req.Equal("disconnected", StateDisconnected.String())
}
