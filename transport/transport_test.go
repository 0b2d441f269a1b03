package transport

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lobby-lab/domain"
	"lobby-lab/domain/event"
	liberrors "lobby-lab/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCodec_Envelope_Round_Trip(t *testing.T) {
	req := require.New(t)

	// Given a wire frame carrying a readiness change
	b, err := EncodeMessage(MsgTypeReadyState, ReadyState{Identity: "abc", Ready: true, Epoch: 7})
	req.NoError(err)

	// When it is decoded on the other side
	msg, err := DecodeMessage(b)
	req.NoError(err)
	req.Equal(MsgTypeReadyState, msg.Type)

	evt, err := fromWire("session-1", msg)
	req.NoError(err)

	// Then the domain event is reconstructed with its epoch intact
	ready, ok := evt.(event.ReadinessChanged)
	req.True(ok)
	req.Equal(domain.Identity("abc"), ready.ID)
	req.True(ready.Ready)
	req.Equal(uint64(7), ready.Epoch)
}

func TestCodec_Unknown_Event_Has_No_Wire_Form(t *testing.T) {
	req := require.New(t)

	frame, err := toWire(nil)
	req.NoError(err)
	req.Nil(frame)
}

func TestCodec_Garbage_Is_Reported(t *testing.T) {
	req := require.New(t)

	_, err := DecodeMessage([]byte("not json at all\n"))
	req.Error(err)
}

// startTestServer runs an authoritative listener with a canned approval.
func startTestServer(t *testing.T, approval ApprovalFunc) *Server {
	t.Helper()
	server := NewServer(testLogger(), "127.0.0.1:0", approval, 2*time.Second, 16, 16)
	require.NoError(t, server.StartAuthoritative())
	t.Cleanup(server.Close)
	return server
}

func approveAll(req ApprovalRequest) (domain.Decision, *Welcome) {
	return domain.Approve(), &Welcome{
		Identity:    string(req.Identity),
		SessionID:   "session-1",
		SessionName: "loopback",
		Epoch:       1,
		Roster: []RosterEntry{
			{Identity: string(req.Identity), DisplayName: req.DisplayName},
		},
	}
}

func TestServer_Handshake_Approved(t *testing.T) {
	req := require.New(t)
	server := startTestServer(t, approveAll)

	// When a client dials and presents its hello
	client, err := Connect(context.Background(), testLogger(), ConnectParams{
		Addr:        server.Addr(),
		Token:       "token",
		DisplayName: "Alice",
	}, 2*time.Second, 16)
	req.NoError(err)
	defer client.Close()

	// Then the welcome snapshot seeds the mirror
	welcome := client.Welcome()
	req.Equal("session-1", welcome.SessionID)
	req.Equal("loopback", welcome.SessionName)
	req.Len(welcome.Roster, 1)
	req.Equal("Alice", welcome.Roster[0].DisplayName)
	req.NotEmpty(client.Identity())
}

func TestServer_Handshake_Rejected_Full(t *testing.T) {
	req := require.New(t)
	server := startTestServer(t, func(ApprovalRequest) (domain.Decision, *Welcome) {
		return domain.Reject(domain.ReasonFull), nil
	})

	// When the session is full
	_, err := Connect(context.Background(), testLogger(), ConnectParams{
		Addr:        server.Addr(),
		DisplayName: "Late",
	}, 2*time.Second, 16)

	// Then the refusal carries the reason
	req.ErrorIs(err, liberrors.ErrSessionFull)
}

func TestServer_Ready_Assertion_Reaches_Host_Loop(t *testing.T) {
	req := require.New(t)
	server := startTestServer(t, approveAll)

	client, err := Connect(context.Background(), testLogger(), ConnectParams{
		Addr:        server.Addr(),
		DisplayName: "Alice",
	}, 2*time.Second, 16)
	req.NoError(err)
	defer client.Close()

	// When the client asserts its own readiness
	req.NoError(client.SendReadyRequest())

	// Then the host loop receives exactly that identity
	select {
	case evt := <-server.Events():
		asserted, ok := evt.(ReadyAsserted)
		req.True(ok)
		req.Equal(client.Identity(), asserted.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("ready assertion never reached the host loop")
	}
}

func TestServer_Disconnect_Emitted_Exactly_Once(t *testing.T) {
	req := require.New(t)
	server := startTestServer(t, approveAll)

	client, err := Connect(context.Background(), testLogger(), ConnectParams{
		Addr:        server.Addr(),
		DisplayName: "Alice",
	}, 2*time.Second, 16)
	req.NoError(err)
	identity := client.Identity()

	// When the client drops
	client.Close()

	// Then exactly one disconnect notification arrives
	select {
	case evt := <-server.Events():
		gone, ok := evt.(Disconnected)
		req.True(ok)
		req.Equal(identity, gone.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("disconnect never reached the host loop")
	}

	select {
	case evt := <-server.Events():
		t.Fatalf("unexpected second event: %#v", evt)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestServer_Protocol_Violation_Closes_Only_That_Connection(t *testing.T) {
	req := require.New(t)
	server := startTestServer(t, approveAll)

	honest, err := Connect(context.Background(), testLogger(), ConnectParams{
		Addr:        server.Addr(),
		DisplayName: "Honest",
	}, 2*time.Second, 16)
	req.NoError(err)
	defer honest.Close()

	violator, err := Connect(context.Background(), testLogger(), ConnectParams{
		Addr:        server.Addr(),
		DisplayName: "Violator",
	}, 2*time.Second, 16)
	req.NoError(err)
	defer violator.Close()

	// When the violator claims another identity in a ready request
	frame, err := encodeFrame(MsgTypeReadyRequest, ReadyRequest{Identity: string(honest.Identity())})
	req.NoError(err)
	_, err = violator.netConn.Write(frame)
	req.NoError(err)

	// Then the violator's connection is dropped
	select {
	case evt := <-server.Events():
		gone, ok := evt.(Disconnected)
		req.True(ok)
		req.Equal(violator.Identity(), gone.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("violating connection was never dropped")
	}

	// And the honest connection still works
	req.NoError(honest.SendReadyRequest())
	select {
	case evt := <-server.Events():
		asserted, ok := evt.(ReadyAsserted)
		req.True(ok)
		req.Equal(honest.Identity(), asserted.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("honest connection stopped working")
	}
}

func TestServer_Close_Notifies_Clients(t *testing.T) {
	req := require.New(t)
	server := startTestServer(t, approveAll)

	client, err := Connect(context.Background(), testLogger(), ConnectParams{
		Addr:        server.Addr(),
		DisplayName: "Alice",
	}, 2*time.Second, 16)
	req.NoError(err)
	defer client.Close()

	// When the host tears the session down
	server.Close()

	// Then the client observes the closed notice as a terminal event
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ce, ok := <-client.Events():
			if !ok {
				t.Fatal("events channel closed before the session-closed frame")
			}
			if ce.Err != nil {
				t.Fatalf("expected closed notice, got transport error: %v", ce.Err)
			}
			if _, closedEvt := ce.Event.(event.SessionClosed); closedEvt {
				return
			}
		case <-deadline:
			t.Fatal("session-closed notice never arrived")
		}
	}
}

func TestConn_Broadcast_Preserves_Order(t *testing.T) {
	req := require.New(t)
	server := startTestServer(t, approveAll)

	client, err := Connect(context.Background(), testLogger(), ConnectParams{
		Addr:        server.Addr(),
		DisplayName: "Alice",
	}, 2*time.Second, 16)
	req.NoError(err)
	defer client.Close()

	server.mu.Lock()
	c := server.conns[client.Identity()]
	server.mu.Unlock()
	req.NotNil(c)

	// When a sequence of events is queued for one participant
	ctx := context.Background()
	for epoch := uint64(2); epoch <= 5; epoch++ {
		req.NoError(c.Consume(ctx, event.ReadinessChanged{
			SessionID: "session-1",
			ID:        "someone",
			Ready:     true,
			Epoch:     epoch,
		}))
	}

	// Then the client observes the same FIFO order
	var got []uint64
	deadline := time.After(3 * time.Second)
	for len(got) < 4 {
		select {
		case ce := <-client.Events():
			req.NoError(ce.Err)
			got = append(got, ce.Event.EventEpoch())
		case <-deadline:
			t.Fatalf("only received %d of 4 frames", len(got))
		}
	}
	req.Equal([]uint64{2, 3, 4, 5}, got)
}

func TestConn_Consume_Waits_For_A_Slow_Writer(t *testing.T) {
	req := require.New(t)

	// Given a connection whose single-slot outbound queue is occupied
	c := newConn(testLogger(), nil, "p1", "Alice", 1)
	occupied, err := toWire(event.ParticipantJoined{SessionID: "session-1", ID: "p1", DisplayName: "Alice", Epoch: 1})
	req.NoError(err)
	c.out <- occupied

	// When the writer frees the slot shortly after the broadcast starts
	go func() {
		time.Sleep(50 * time.Millisecond)
		<-c.out
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	err = c.Consume(ctx, event.ReadinessChanged{SessionID: "session-1", ID: "p1", Ready: true, Epoch: 2})

	// Then the frame waited for the slot instead of being dropped
	req.NoError(err)
	req.GreaterOrEqual(time.Since(start), 40*time.Millisecond)
	req.Len(c.out, 1)
}

func TestConn_Consume_Gives_Up_With_The_Broadcast_Budget(t *testing.T) {
	req := require.New(t)

	// Given a connection whose queue never frees up
	c := newConn(testLogger(), nil, "p1", "Alice", 1)
	occupied, err := toWire(event.AllReady{SessionID: "session-1", Epoch: 3})
	req.NoError(err)
	c.out <- occupied

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = c.Consume(ctx, event.AllReady{SessionID: "session-1", Epoch: 4})

	// Then the broadcast budget bounds the wait
	req.ErrorIs(err, context.DeadlineExceeded)
}

func TestServer_Emit_Waits_For_The_Host_Loop(t *testing.T) {
	req := require.New(t)

	// Given a host loop that is one event behind
	server := NewServer(testLogger(), "127.0.0.1:0", approveAll, time.Second, 16, 1)
	t.Cleanup(server.Close)
	server.events <- Disconnected{ID: "p1"}

	delivered := make(chan struct{})
	go func() {
		server.emit(ReadyAsserted{ID: "p2"})
		close(delivered)
	}()

	// Then the emit waits instead of dropping the event
	select {
	case <-delivered:
		t.Fatal("emit returned while the host loop was still behind")
	case <-time.After(50 * time.Millisecond):
	}

	// When the host loop catches up, both events arrive in order
	first := <-server.Events()
	req.Equal(Disconnected{ID: "p1"}, first)
	second := <-server.Events()
	req.Equal(ReadyAsserted{ID: "p2"}, second)
	<-delivered
}
