package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"lobby-lab/domain"
	"lobby-lab/domain/event"
	"lobby-lab/errors"
	"lobby-lab/moderation"
	"lobby-lab/observability"
	"lobby-lab/projection"
	"lobby-lab/transport"
)

// State is the lifecycle phase of the local session controller.
type State int

const (
	StateIdle State = iota
	StateHosting
	StateJoining
	StateConnected
	StateActive
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHosting:
		return "hosting"
	case StateJoining:
		return "joining"
	case StateConnected:
		return "connected"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// TokenValidator checks the credential presented in a hello frame.
type TokenValidator func(token string) error

type admitReply struct {
	decision domain.Decision
	welcome  *transport.Welcome
}

type admitRequest struct {
	req   transport.ApprovalRequest
	reply chan admitReply
}

// Coordinator is the session lifecycle controller. It wires the
// registry and replicator to transport events and is the single writer
// for all authoritative state: every admission, disconnect and ready
// request funnels through its Run loop, one at a time.
//
// A host coordinator owns the authoritative side; a client coordinator
// owns a transport client and the read-only roster mirror.
type Coordinator struct {
	log     *slog.Logger
	session domain.Session

	mu    sync.RWMutex
	state State

	// Host side
	registry      *Registry
	replicator    *Replicator
	server        *transport.Server
	screener      *moderation.Screener
	monitor       *observability.MonitoringManager
	validateToken TokenValidator
	admissions    chan admitRequest
	admitTimeout  time.Duration
	closingHost   chan struct{}

	// Client side
	client     *transport.Client
	roster     *projection.Roster
	onAllReady []func()

	onRosterChanged []func()
	closeOnce       sync.Once
}

// HostConfig carries the host-side collaborators and tuning knobs.
type HostConfig struct {
	Session       domain.Session
	Registry      *Registry
	Replicator    *Replicator
	Screener      *moderation.Screener
	Monitor       *observability.MonitoringManager
	ValidateToken TokenValidator

	ListenAddr       string
	HandshakeTimeout time.Duration
	AdmitTimeout     time.Duration
	SendBuffer       int
	EventBuffer      int
}

// NewHostCoordinator builds the authoritative controller and its
// transport server. Nothing listens until Host is called.
func NewHostCoordinator(log *slog.Logger, cfg HostConfig) *Coordinator {
	c := &Coordinator{
		log:           log,
		session:       cfg.Session,
		state:         StateIdle,
		registry:      cfg.Registry,
		replicator:    cfg.Replicator,
		screener:      cfg.Screener,
		monitor:       cfg.Monitor,
		validateToken: cfg.ValidateToken,
		admissions:    make(chan admitRequest),
		admitTimeout:  cfg.AdmitTimeout,
		closingHost:   make(chan struct{}),
	}
	c.server = transport.NewServer(log, cfg.ListenAddr, c.approve,
		cfg.HandshakeTimeout, cfg.SendBuffer, cfg.EventBuffer)
	c.replicator.OnAllReady(func() {
		log.Info("All participants ready", "session", c.session.ID)
	})
	return c
}

// NewClientCoordinator builds the joining-side controller. The mirror is
// seeded once Join succeeds.
func NewClientCoordinator(log *slog.Logger, session domain.Session) *Coordinator {
	return &Coordinator{
		log:     log,
		session: session,
		state:   StateIdle,
	}
}

func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// OnRosterChanged registers a callback fired from the event loop after
// every applied roster mutation, in registration order.
func (c *Coordinator) OnRosterChanged(fn func()) {
	c.mu.Lock()
	c.onRosterChanged = append(c.onRosterChanged, fn)
	c.mu.Unlock()
}

// OnAllReady registers an all-ready transition callback. On the host it
// delegates to the replicator; on a client it fires on the replicated
// all-ready frame.
func (c *Coordinator) OnAllReady(fn func()) {
	if c.replicator != nil {
		c.replicator.OnAllReady(fn)
		return
	}
	c.mu.Lock()
	c.onAllReady = append(c.onAllReady, fn)
	c.mu.Unlock()
}

// Host starts the authoritative session. The host is trivially
// connected to itself, so a successful start lands directly in Active.
// A failed start leaves no half-started session behind.
func (c *Coordinator) Host() error {
	c.setState(StateHosting)
	if err := c.server.StartAuthoritative(); err != nil {
		c.setState(StateIdle)
		return fmt.Errorf("start host: %w", err)
	}
	c.setState(StateActive)
	c.log.Info("Session hosted",
		"session", c.session.ID,
		"name", c.session.Name,
		"addr", c.server.Addr(),
		"capacity", c.registry.Capacity())
	return nil
}

// Addr returns the host's bound listen address.
func (c *Coordinator) Addr() string { return c.server.Addr() }

// Join connects to a remote host. Failure or rejection is terminal for
// the attempt and transitions back to Idle with the reported error.
func (c *Coordinator) Join(ctx context.Context, params transport.ConnectParams,
	handshakeTimeout time.Duration, eventBuffer int) error {
	c.setState(StateJoining)

	client, err := transport.Connect(ctx, c.log, params, handshakeTimeout, eventBuffer)
	if err != nil {
		c.setState(StateIdle)
		return fmt.Errorf("join session: %w", err)
	}
	c.setState(StateConnected)

	welcome := client.Welcome()
	participants := lo.Map(welcome.Roster, func(entry transport.RosterEntry, _ int) domain.Participant {
		return domain.Participant{
			ID:          domain.Identity(entry.Identity),
			DisplayName: entry.DisplayName,
			Ready:       entry.Ready,
		}
	})

	c.mu.Lock()
	c.client = client
	c.roster = projection.Seed(client.Identity(), welcome.SessionID,
		welcome.SessionName, welcome.Epoch, participants)
	c.state = StateActive
	c.mu.Unlock()

	c.log.Info("Joined session",
		"session", welcome.SessionID,
		"name", welcome.SessionName,
		"identity", welcome.Identity)
	return nil
}

// Roster returns a point-in-time roster snapshot: the authoritative one
// on the host, the mirror on a client.
func (c *Coordinator) Roster() []domain.Participant {
	if c.registry != nil {
		return c.registry.All()
	}
	c.mu.RLock()
	roster := c.roster
	c.mu.RUnlock()
	if roster == nil {
		return nil
	}
	return roster.Snapshot()
}

// AllReady is a point-in-time snapshot of the all-ready condition.
func (c *Coordinator) AllReady() bool {
	if c.replicator != nil {
		return c.replicator.AllReady()
	}
	c.mu.RLock()
	roster := c.roster
	c.mu.RUnlock()
	return roster != nil && roster.AllReady()
}

// SetLocalReady asserts the local participant's readiness. On a client
// it is sent to the host; requests racing a disconnect are absorbed
// there. The host is not a registry entry, so on the host this is a
// recorded no-op.
func (c *Coordinator) SetLocalReady() error {
	if c.registry != nil {
		c.log.Debug("Host is outside the capacity-bounded roster, ready request ignored")
		return nil
	}
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil {
		return errors.ErrSessionClosed
	}
	return client.SendReadyRequest()
}

// Run is the single-writer event loop, supervised like any other
// worker. It exits cleanly when the context is canceled or the session
// ends.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.registry != nil {
		return c.runHost(ctx)
	}
	return c.runClient(ctx)
}

func (c *Coordinator) runHost(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.closingHost:
			return nil
		case admit := <-c.admissions:
			admit.reply <- c.handleAdmission(admit.req)
		case evt := <-c.server.Events():
			switch e := evt.(type) {
			case transport.Disconnected:
				c.handleDisconnect(e.ID)
			case transport.ReadyAsserted:
				if c.replicator.RequestReady(e.ID) {
					c.fireRosterChanged()
				}
			}
		}
	}
}

func (c *Coordinator) runClient(ctx context.Context) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil {
		return errors.ErrSessionClosed
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ce, ok := <-client.Events():
			if !ok {
				c.setState(StateDisconnected)
				return nil
			}
			if ce.Err != nil {
				c.log.Warn("Disconnected from host", "error", ce.Err)
				c.setState(StateDisconnected)
				c.fireRosterChanged()
				return nil
			}
			c.applyReplicated(ce.Event)
		}
	}
}

// applyReplicated folds one replicated event into the client mirror.
func (c *Coordinator) applyReplicated(e event.DomainEvent) {
	switch e.(type) {
	case event.AllReady:
		c.mu.RLock()
		callbacks := append([]func(){}, c.onAllReady...)
		c.mu.RUnlock()
		for _, fn := range callbacks {
			fn()
		}
		return
	case event.SessionClosed:
		c.log.Info("Host closed the session")
		c.setState(StateDisconnected)
		c.fireRosterChanged()
		return
	}

	c.mu.RLock()
	roster := c.roster
	c.mu.RUnlock()
	if roster != nil && roster.Apply(e) {
		c.fireRosterChanged()
	}
}

// approve is the transport's admission hook. It hands the candidate to
// the event loop and waits for the serialized decision; if the loop
// cannot answer within the bounded window the attempt is rejected.
func (c *Coordinator) approve(req transport.ApprovalRequest) (domain.Decision, *transport.Welcome) {
	request := admitRequest{req: req, reply: make(chan admitReply, 1)}

	select {
	case c.admissions <- request:
	case <-c.closingHost:
		return domain.Reject(domain.ReasonClosed), nil
	case <-time.After(c.admitTimeout):
		return domain.Reject("timeout"), nil
	}

	select {
	case reply := <-request.reply:
		return reply.decision, reply.welcome
	case <-time.After(c.admitTimeout):
		return domain.Reject("timeout"), nil
	}
}

// handleAdmission runs the two-phase admission inside the event loop:
// credential check, capacity check, name screening, then the commit.
// A rejected candidate leaves no state behind.
func (c *Coordinator) handleAdmission(req transport.ApprovalRequest) admitReply {
	if c.validateToken != nil {
		if err := c.validateToken(req.Token); err != nil {
			c.log.Warn("Admission refused: invalid credential", "identity", req.Identity)
			return c.reject(req, "unauthenticated")
		}
	}

	decision := c.registry.TryAdmit(req.Identity)
	if !decision.Approved {
		return c.reject(req, decision.Reason)
	}

	if c.screener != nil {
		if err := c.screener.Screen(req.DisplayName); err != nil {
			c.log.Warn("Admission refused: forbidden display name", "identity", req.Identity)
			return c.reject(req, domain.ReasonBadName)
		}
	}

	if err := c.registry.AddParticipant(req.Identity, req.DisplayName, req.Sink); err != nil {
		c.log.Error("Admission commit failed", "identity", req.Identity, "error", err)
		return c.reject(req, domain.ReasonClosed)
	}

	epoch := c.replicator.NextEpoch()
	c.replicator.Emit(event.ParticipantJoined{
		SessionID:   c.session.ID,
		ID:          req.Identity,
		DisplayName: req.DisplayName,
		Epoch:       epoch,
		At:          time.Now().UTC(),
	})
	c.replicator.RosterChanged()
	c.fireRosterChanged()
	c.monitor.AddAdmission(string(req.Identity), req.DisplayName, true, "")

	welcome := &transport.Welcome{
		Identity:    string(req.Identity),
		SessionID:   c.session.ID,
		SessionName: c.session.Name,
		Epoch:       epoch,
		Roster: lo.Map(c.registry.All(), func(p domain.Participant, _ int) transport.RosterEntry {
			return transport.RosterEntry{
				Identity:    string(p.ID),
				DisplayName: p.DisplayName,
				Ready:       p.Ready,
			}
		}),
	}
	return admitReply{decision: domain.Approve(), welcome: welcome}
}

func (c *Coordinator) reject(req transport.ApprovalRequest, reason string) admitReply {
	c.monitor.IncrAdmissionsRejected()
	c.monitor.AddAdmission(string(req.Identity), req.DisplayName, false, reason)
	return admitReply{decision: domain.Reject(reason)}
}

func (c *Coordinator) handleDisconnect(id domain.Identity) {
	if !c.registry.Has(id) {
		// Raced an explicit removal; nothing to do.
		return
	}
	c.registry.RemoveParticipant(id)
	c.replicator.Emit(event.ParticipantLeft{
		SessionID: c.session.ID,
		ID:        id,
		Epoch:     c.replicator.NextEpoch(),
		At:        time.Now().UTC(),
	})
	// Removing the only unready participant can complete the roster.
	c.replicator.RosterChanged()
	c.fireRosterChanged()
}

func (c *Coordinator) fireRosterChanged() {
	c.mu.RLock()
	callbacks := append([]func(){}, c.onRosterChanged...)
	c.mu.RUnlock()
	for _, fn := range callbacks {
		fn()
	}
}

// Close tears the session down: admissions stop first, remaining clients
// get a best-effort closed notice, then all state is released.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		if c.registry != nil {
			close(c.closingHost)
			c.registry.Close()
			if c.replicator != nil {
				c.replicator.Emit(event.SessionClosed{
					SessionID: c.session.ID,
					Epoch:     c.replicator.Epoch(),
					At:        time.Now().UTC(),
				})
			}
			c.server.Close()
		}

		c.mu.Lock()
		client := c.client
		c.state = StateDisconnected
		c.mu.Unlock()
		if client != nil {
			client.Close()
		}
		c.log.Info("Session closed", "session", c.session.ID)
	})
}
