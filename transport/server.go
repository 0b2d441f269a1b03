package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"lobby-lab/contract"
	"lobby-lab/domain"
	liberrors "lobby-lab/errors"
)

// ApprovalRequest carries everything the admission hook needs to decide
// on an inbound connection. Sink is the candidate's future event sink;
// it only becomes live if the decision approves.
type ApprovalRequest struct {
	Identity    domain.Identity
	DisplayName string
	Token       string
	Sink        contract.EventSink
}

// ApprovalFunc is the host-registered admission hook. It must return
// within a bounded time; a timeout counts as a rejection. On approval it
// returns the welcome snapshot to finalize the newcomer's mirror.
type ApprovalFunc func(req ApprovalRequest) (domain.Decision, *Welcome)

// Event is a transport notification delivered to the host event loop.
// Connect notifications are implicit: the approval hook runs first.
type Event any

// Disconnected is delivered exactly once per admitted connection, always
// after its approval.
type Disconnected struct {
	ID domain.Identity
}

// ReadyAsserted is a validated self-assertion from the connection owner.
type ReadyAsserted struct {
	ID domain.Identity
}

// Server is the authoritative side of the transport: it accepts client
// connections, runs the admission handshake and owns one reader and one
// writer goroutine per admitted participant.
type Server struct {
	log              *slog.Logger
	addr             string
	approval         ApprovalFunc
	handshakeTimeout time.Duration
	sendBuffer       int

	mu       sync.Mutex
	listener net.Listener
	conns    map[domain.Identity]*conn
	closed   bool

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewServer(log *slog.Logger, addr string, approval ApprovalFunc,
	handshakeTimeout time.Duration, sendBuffer, eventBuffer int) *Server {
	return &Server{
		log:              log,
		addr:             addr,
		approval:         approval,
		handshakeTimeout: handshakeTimeout,
		sendBuffer:       sendBuffer,
		conns:            make(map[domain.Identity]*conn),
		events:           make(chan Event, eventBuffer),
		done:             make(chan struct{}),
	}
}

// Events exposes disconnects and ready assertions to the host event loop.
// The channel is never closed; consumers stop via their own context.
func (s *Server) Events() <-chan Event { return s.events }

// Addr returns the bound listen address, valid after StartAuthoritative.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// StartAuthoritative binds the listen socket and starts accepting.
func (s *Server) StartAuthoritative() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("host listen on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = listener.Close()
		return liberrors.ErrSessionClosed
	}
	s.listener = listener
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(listener)
	return nil
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()
	for {
		netConn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go s.handshake(netConn)
	}
}

// handshake runs the admission sequence: read the hello frame, consult
// the approval hook, then either finalize with a welcome or refuse with
// a rejected frame. A rejected candidate leaves no state behind.
func (s *Server) handshake(netConn net.Conn) {
	defer s.wg.Done()

	_ = netConn.SetReadDeadline(time.Now().Add(s.handshakeTimeout))
	reader := bufio.NewReader(netConn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		s.log.Debug("handshake read failed", "remote", netConn.RemoteAddr(), "error", err)
		_ = netConn.Close()
		return
	}

	msg, err := DecodeMessage(line)
	if err != nil || msg.Type != MsgTypeHello {
		s.log.Warn("handshake expected hello", "remote", netConn.RemoteAddr())
		_ = netConn.Close()
		return
	}
	var hello Hello
	if err := unmarshalData(msg, &hello); err != nil {
		_ = netConn.Close()
		return
	}

	// Server-assigned, unique for the life of the connection.
	identity := domain.Identity(uuid.NewString())
	c := newConn(s.log, netConn, identity, hello.DisplayName, s.sendBuffer)

	decision, welcome := s.approval(ApprovalRequest{
		Identity:    identity,
		DisplayName: hello.DisplayName,
		Token:       hello.Token,
		Sink:        c,
	})
	if !decision.Approved {
		_ = c.writeDirect(MsgTypeRejected, Rejected{Reason: decision.Reason}, s.handshakeTimeout)
		c.close()
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		// Teardown raced the approval. The registry is cleared wholesale
		// by the coordinator's own teardown, so no disconnect is emitted.
		_ = c.writeDirect(MsgTypeRejected, Rejected{Reason: domain.ReasonClosed}, s.handshakeTimeout)
		c.close()
		return
	}
	s.conns[identity] = c
	s.mu.Unlock()

	// Welcome must hit the wire before any queued broadcast frame, so it
	// is written directly before the writer goroutine starts.
	if err := c.writeDirect(MsgTypeWelcome, *welcome, s.handshakeTimeout); err != nil {
		s.dropConn(c)
		return
	}
	_ = netConn.SetReadDeadline(time.Time{})

	go c.writeLoop()
	s.wg.Add(1)
	go s.readLoop(c, reader)
}

// readLoop decodes inbound frames from one admitted participant until
// the connection dies. Exactly one Disconnected event is emitted per
// admitted connection.
func (s *Server) readLoop(c *conn, reader *bufio.Reader) {
	defer s.wg.Done()
	defer s.dropConn(c)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				s.log.Debug("read failed", "identity", c.id, "error", err)
			}
			return
		}

		msg, err := DecodeMessage(line)
		if err != nil {
			s.log.Warn("undecodable frame, dropping", "identity", c.id, "error", err)
			continue
		}

		switch msg.Type {
		case MsgTypeReadyRequest:
			var req ReadyRequest
			if err := unmarshalData(msg, &req); err != nil {
				continue
			}
			// Self-assertion only: a request claiming another identity is
			// fatal to this connection, never to the session.
			if domain.Identity(req.Identity) != c.id {
				s.log.Error("protocol violation, closing connection",
					"identity", c.id,
					"claimed", req.Identity)
				return
			}
			s.emit(ReadyAsserted{ID: c.id})
		default:
			s.log.Debug("unexpected frame from client", "identity", c.id, "type", msg.Type)
		}
	}
}

// dropConn unregisters and closes a connection, then notifies the event
// loop. Safe to call twice; only the first call emits the event.
func (s *Server) dropConn(c *conn) {
	s.mu.Lock()
	_, registered := s.conns[c.id]
	delete(s.conns, c.id)
	closed := s.closed
	s.mu.Unlock()

	c.close()
	if registered && !closed {
		s.emit(Disconnected{ID: c.id})
	}
}

// emit delivers to the host event loop and waits if it is behind: a
// dropped Disconnected would leave a ghost registry entry holding a
// capacity slot forever. Teardown unblocks any sender still waiting.
func (s *Server) emit(e Event) {
	select {
	case s.events <- e:
	case <-s.done:
	}
}

// Close stops accepting, notifies remaining clients with a session-closed
// frame (best effort) and releases every connection.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	listener := s.listener
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[domain.Identity]*conn)
	s.mu.Unlock()

	close(s.done)
	if listener != nil {
		_ = listener.Close()
	}
	for _, c := range conns {
		c.closeWithNotice(time.Second)
	}
	s.wg.Wait()
}

func unmarshalData(msg *Message, v any) error {
	return json.Unmarshal(msg.Data, v)
}
