package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"lobby-lab/domain"
	"lobby-lab/domain/event"
	liberrors "lobby-lab/errors"
)

// ConnectParams is the opaque outcome of session allocation: everything
// a client needs to reach a host.
type ConnectParams struct {
	Addr        string
	Token       string
	DisplayName string
}

// ClientEvent is one replicated change delivered to the joining side.
// Err is terminal: the connection is gone and no further events follow.
type ClientEvent struct {
	Event event.DomainEvent
	Err   error
}

// Client is the joining side of the transport. It performs the admission
// handshake and then decodes replicated frames into domain events.
type Client struct {
	log     *slog.Logger
	netConn net.Conn
	welcome Welcome
	events  chan ClientEvent

	closeOnce sync.Once
	done      chan struct{}
}

// Connect dials the host, sends the hello frame and waits for the
// admission outcome. A rejection or timeout is terminal for the attempt
// and leaves no client state behind.
func Connect(ctx context.Context, log *slog.Logger, params ConnectParams,
	handshakeTimeout time.Duration, eventBuffer int) (*Client, error) {
	dialer := net.Dialer{Timeout: handshakeTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", params.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", params.Addr, err)
	}

	hello, err := encodeFrame(MsgTypeHello, Hello{
		Token:       params.Token,
		DisplayName: params.DisplayName,
	})
	if err != nil {
		_ = netConn.Close()
		return nil, err
	}
	_ = netConn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	if _, err := netConn.Write(hello); err != nil {
		_ = netConn.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}

	_ = netConn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	reader := bufio.NewReader(netConn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		_ = netConn.Close()
		return nil, fmt.Errorf("admission response: %w", err)
	}

	msg, err := DecodeMessage(line)
	if err != nil {
		_ = netConn.Close()
		return nil, err
	}

	switch msg.Type {
	case MsgTypeWelcome:
		var welcome Welcome
		if err := json.Unmarshal(msg.Data, &welcome); err != nil {
			_ = netConn.Close()
			return nil, err
		}
		_ = netConn.SetReadDeadline(time.Time{})
		_ = netConn.SetWriteDeadline(time.Time{})

		c := &Client{
			log:     log,
			netConn: netConn,
			welcome: welcome,
			events:  make(chan ClientEvent, eventBuffer),
			done:    make(chan struct{}),
		}
		go c.readLoop(reader)
		return c, nil

	case MsgTypeRejected:
		var rejected Rejected
		_ = json.Unmarshal(msg.Data, &rejected)
		_ = netConn.Close()
		if rejected.Reason == domain.ReasonFull {
			return nil, fmt.Errorf("admission refused: %w", liberrors.ErrSessionFull)
		}
		return nil, fmt.Errorf("admission refused: %s", rejected.Reason)

	default:
		_ = netConn.Close()
		return nil, fmt.Errorf("unexpected handshake frame %q", msg.Type)
	}
}

// Welcome returns the admission snapshot that seeds the local mirror.
func (c *Client) Welcome() Welcome { return c.welcome }

// Identity returns the server-assigned identity of this connection.
func (c *Client) Identity() domain.Identity {
	return domain.Identity(c.welcome.Identity)
}

// Events delivers replicated roster changes in arrival order. The
// channel closes after a terminal event.
func (c *Client) Events() <-chan ClientEvent { return c.events }

// SendReadyRequest asserts this connection's own readiness to the host.
func (c *Client) SendReadyRequest() error {
	frame, err := encodeFrame(MsgTypeReadyRequest, ReadyRequest{Identity: c.welcome.Identity})
	if err != nil {
		return err
	}
	_ = c.netConn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := c.netConn.Write(frame); err != nil {
		return fmt.Errorf("send ready request: %w", err)
	}
	return nil
}

func (c *Client) readLoop(reader *bufio.Reader) {
	defer close(c.events)
	sessionID := c.welcome.SessionID

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			select {
			case <-c.done:
				// Local close, not a transport failure.
			default:
				if err != io.EOF && !errors.Is(err, net.ErrClosed) {
					c.events <- ClientEvent{Err: fmt.Errorf("connection lost: %w", err)}
				} else {
					c.events <- ClientEvent{Err: io.EOF}
				}
			}
			return
		}

		msg, err := DecodeMessage(line)
		if err != nil {
			c.log.Warn("undecodable frame from host, dropping", "error", err)
			continue
		}

		evt, err := fromWire(sessionID, msg)
		if err != nil {
			c.log.Warn("unusable frame from host, dropping", "type", msg.Type, "error", err)
			continue
		}
		if evt == nil {
			continue
		}
		c.events <- ClientEvent{Event: evt}
		if _, closedEvt := evt.(event.SessionClosed); closedEvt {
			return
		}
	}
}

// fromWire maps replicated wire frames back to domain events.
func fromWire(sessionID string, msg *Message) (event.DomainEvent, error) {
	now := time.Now().UTC()
	switch msg.Type {
	case MsgTypeJoined:
		var p Joined
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return nil, err
		}
		return event.ParticipantJoined{
			SessionID:   sessionID,
			ID:          domain.Identity(p.Identity),
			DisplayName: p.DisplayName,
			Epoch:       p.Epoch,
			At:          now,
		}, nil
	case MsgTypeLeft:
		var p Left
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return nil, err
		}
		return event.ParticipantLeft{
			SessionID: sessionID,
			ID:        domain.Identity(p.Identity),
			Epoch:     p.Epoch,
			At:        now,
		}, nil
	case MsgTypeReadyState:
		var p ReadyState
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return nil, err
		}
		return event.ReadinessChanged{
			SessionID: sessionID,
			ID:        domain.Identity(p.Identity),
			Ready:     p.Ready,
			Epoch:     p.Epoch,
			At:        now,
		}, nil
	case MsgTypeAllReady:
		var p AllReady
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return nil, err
		}
		return event.AllReady{SessionID: sessionID, Epoch: p.Epoch, At: now}, nil
	case MsgTypeSessionClosed:
		return event.SessionClosed{SessionID: sessionID, At: now}, nil
	default:
		return nil, nil
	}
}

// Close releases the connection. Pending events already decoded may
// still be delivered before the event channel closes.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.netConn.Close()
	})
}
