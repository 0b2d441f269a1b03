package transport

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"lobby-lab/domain"
	"lobby-lab/domain/event"
)

// conn is one admitted client connection on the host side. It owns the
// outbound queue and the single writer goroutine, which preserves FIFO
// delivery from the host to that participant.
type conn struct {
	id          domain.Identity
	displayName string
	netConn     net.Conn
	out         chan []byte
	log         *slog.Logger

	closeOnce  sync.Once
	done       chan struct{}
	writerDone chan struct{}
}

func newConn(log *slog.Logger, netConn net.Conn, id domain.Identity, displayName string, bufferSize int) *conn {
	return &conn{
		id:          id,
		displayName: displayName,
		netConn:     netConn,
		out:         make(chan []byte, bufferSize),
		log:         log,
		done:        make(chan struct{}),
		writerDone:  make(chan struct{}),
	}
}

// Consume is called by the fanout worker. It translates the domain event
// to its wire form and enqueues it for the writer goroutine. A full
// queue makes the send wait rather than drop: roster deltas are sent
// exactly once, so a lost frame would leave this mirror stale for good.
// The caller's context bounds the wait.
func (c *conn) Consume(ctx context.Context, e event.DomainEvent) error {
	frame, err := toWire(e)
	if err != nil {
		return err
	}
	if frame == nil {
		return nil
	}
	select {
	case c.out <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return net.ErrClosed
	}
}

// toWire maps authoritative domain events to wire messages. Events with
// no client-facing counterpart map to nil.
func toWire(e event.DomainEvent) ([]byte, error) {
	switch evt := e.(type) {
	case event.ParticipantJoined:
		return encodeFrame(MsgTypeJoined, Joined{
			Identity:    string(evt.ID),
			DisplayName: evt.DisplayName,
			Epoch:       evt.Epoch,
		})
	case event.ParticipantLeft:
		return encodeFrame(MsgTypeLeft, Left{
			Identity: string(evt.ID),
			Epoch:    evt.Epoch,
		})
	case event.ReadinessChanged:
		return encodeFrame(MsgTypeReadyState, ReadyState{
			Identity: string(evt.ID),
			Ready:    evt.Ready,
			Epoch:    evt.Epoch,
		})
	case event.AllReady:
		return encodeFrame(MsgTypeAllReady, AllReady{Epoch: evt.Epoch})
	case event.SessionClosed:
		return encodeFrame(MsgTypeSessionClosed, SessionClosed{Reason: "host closed the session"})
	default:
		return nil, nil
	}
}

func encodeFrame(msgType MessageType, data any) ([]byte, error) {
	b, err := EncodeMessage(msgType, data)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// writeLoop drains the outbound queue onto the socket. It exits when the
// queue closes or a write fails; the read loop notices the broken socket
// and reports the disconnect.
func (c *conn) writeLoop() {
	defer close(c.writerDone)
	writer := bufio.NewWriter(c.netConn)
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.out:
			_ = c.netConn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if _, err := writer.Write(frame); err != nil {
				c.log.Debug("write failed, closing connection", "identity", c.id, "error", err)
				c.close()
				return
			}
			if err := writer.Flush(); err != nil {
				c.close()
				return
			}
		}
	}
}

// writeDirect bypasses the queue. Only used during the handshake (before
// the writer goroutine starts) and for the final session-closed notice.
func (c *conn) writeDirect(msgType MessageType, data any, timeout time.Duration) error {
	frame, err := encodeFrame(msgType, data)
	if err != nil {
		return err
	}
	_ = c.netConn.SetWriteDeadline(time.Now().Add(timeout))
	_, err = c.netConn.Write(frame)
	return err
}

func (c *conn) close() {
	c.shutdown(false, 0)
}

// closeWithNotice pushes a final session-closed frame before releasing
// the socket. Best effort: the notice is skipped if the writer cannot be
// quiesced in time.
func (c *conn) closeWithNotice(timeout time.Duration) {
	c.shutdown(true, timeout)
}

func (c *conn) shutdown(notice bool, timeout time.Duration) {
	c.closeOnce.Do(func() {
		close(c.done)
		if notice {
			select {
			case <-c.writerDone:
			case <-time.After(200 * time.Millisecond):
			}
			if frame, err := encodeFrame(MsgTypeSessionClosed, SessionClosed{Reason: "host closed the session"}); err == nil {
				_ = c.netConn.SetWriteDeadline(time.Now().Add(timeout))
				_, _ = c.netConn.Write(frame)
			}
		}
		_ = c.netConn.Close()
	})
}
