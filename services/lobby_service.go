package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"lobby-lab/auth"
	"lobby-lab/contract"
	"lobby-lab/domain"
	"lobby-lab/domain/event"
	"lobby-lab/errors"
	"lobby-lab/moderation"
	"lobby-lab/observability"
	"lobby-lab/runtime"
	"lobby-lab/runtime/workers"
)

type ILobbyService interface {
	CreateSession(ctx context.Context, input domain.CreateSessionInput, token Token) (domain.Session, error)
	JoinSession(ctx context.Context, joinCode, displayName string, token Token) (domain.Session, error)
	SetLocalReady() error
	Roster() []domain.Participant
	AllReady() bool
	OnRosterChanged(fn func())
	OnAllReady(fn func())
	Close()
}

// LobbyConfig carries the transport and supervision tuning knobs shared
// by every session this service runs.
type LobbyConfig struct {
	ListenAddr       string
	HandshakeTimeout time.Duration
	AdmitTimeout     time.Duration
	SinkTimeout      time.Duration
	RestartInterval  time.Duration
	SendBuffer       int
	EventBuffer      int
}

// LobbyService is the produced surface of the coordinator. One instance
// drives one session at a time, as host or as joining client, and owns
// the supervision of its workers.
type LobbyService struct {
	log            *slog.Logger
	cfg            LobbyConfig
	allocator      IAllocator
	screener       *moderation.Screener
	monitor        *observability.MonitoringManager
	permanentSinks []contract.EventSink

	mu          sync.Mutex
	coordinator *runtime.Coordinator
	supervisor  contract.ISupervisor
	session     domain.Session

	pendingRosterChanged []func()
	pendingAllReady      []func()
}

func NewLobbyService(log *slog.Logger, cfg LobbyConfig, allocator IAllocator,
	screener *moderation.Screener, monitor *observability.MonitoringManager,
	permanentSinks []contract.EventSink) *LobbyService {
	return &LobbyService{
		log:            log,
		cfg:            cfg,
		allocator:      allocator,
		screener:       screener,
		monitor:        monitor,
		permanentSinks: permanentSinks,
	}
}

// CreateSession validates the input, starts the authoritative side and
// advertises a join code. A failed start leaves no allocated code, no
// listener and no registry behind.
func (s *LobbyService) CreateSession(ctx context.Context, input domain.CreateSessionInput,
	token Token) (domain.Session, error) {
	if _, err := auth.ValidateToken(token.String()); err != nil {
		return domain.Session{}, errors.ErrNotAuthenticated
	}

	input, err := domain.NormalizeCreateSessionInput(input)
	if err != nil {
		return domain.Session{}, err
	}
	if err = s.screener.Screen(input.Name); err != nil {
		return domain.Session{}, err
	}

	session := domain.Session{
		ID:        uuid.New().String(),
		Name:      input.Name,
		Capacity:  input.Capacity,
		Role:      domain.RoleHost,
		CreatedAt: time.Now().UTC(),
	}

	registry := runtime.NewRegistry(s.log, input.Capacity)
	events := make(chan event.DomainEvent, s.cfg.EventBuffer)
	replicator := runtime.NewReplicator(s.log, session.ID, registry, events)

	coordinator := runtime.NewHostCoordinator(s.log, runtime.HostConfig{
		Session:    session,
		Registry:   registry,
		Replicator: replicator,
		Screener:   s.screener,
		Monitor:    s.monitor,
		ValidateToken: func(token string) error {
			_, err := auth.ValidateToken(token)
			return err
		},
		ListenAddr:       s.cfg.ListenAddr,
		HandshakeTimeout: s.cfg.HandshakeTimeout,
		AdmitTimeout:     s.cfg.AdmitTimeout,
		SendBuffer:       s.cfg.SendBuffer,
		EventBuffer:      s.cfg.EventBuffer,
	})

	if err = coordinator.Host(); err != nil {
		return domain.Session{}, err
	}
	session.JoinCode = s.allocator.Allocate(coordinator.Addr())

	fanout := workers.NewEventFanout(s.log, registry, s.permanentSinks,
		events, s.cfg.SinkTimeout, s.monitor)
	s.start(coordinator, session, fanout)

	s.log.Info("Session created",
		"session", session.ID,
		"join_code", session.JoinCode,
		"capacity", session.Capacity)
	return session, nil
}

// JoinSession resolves the join code and connects to the host. The
// returned session reflects the authoritative metadata from the welcome.
func (s *LobbyService) JoinSession(ctx context.Context, joinCode, displayName string,
	token Token) (domain.Session, error) {
	params, err := s.allocator.Resolve(joinCode)
	if err != nil {
		return domain.Session{}, err
	}
	params.Token = token.String()
	params.DisplayName = displayName

	session := domain.Session{
		JoinCode:  joinCode,
		Role:      domain.RoleClient,
		CreatedAt: time.Now().UTC(),
	}
	coordinator := runtime.NewClientCoordinator(s.log, session)

	if err = coordinator.Join(ctx, params, s.cfg.HandshakeTimeout, s.cfg.EventBuffer); err != nil {
		return domain.Session{}, err
	}

	s.start(coordinator, session)
	return session, nil
}

// start hands the coordinator and its workers to a fresh supervisor.
// Callbacks registered before the session existed are attached first.
func (s *LobbyService) start(coordinator *runtime.Coordinator, session domain.Session,
	extra ...contract.Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, fn := range s.pendingRosterChanged {
		coordinator.OnRosterChanged(fn)
	}
	for _, fn := range s.pendingAllReady {
		coordinator.OnAllReady(fn)
	}

	supervisor := workers.NewSupervisor(s.log, s.cfg.RestartInterval)
	supervisor.Add(coordinator)
	supervisor.Add(extra...)
	go supervisor.Run(context.Background())

	s.coordinator = coordinator
	s.supervisor = supervisor
	s.session = session
}

func (s *LobbyService) SetLocalReady() error {
	coordinator := s.current()
	if coordinator == nil {
		return errors.ErrSessionClosed
	}
	return coordinator.SetLocalReady()
}

func (s *LobbyService) Roster() []domain.Participant {
	coordinator := s.current()
	if coordinator == nil {
		return nil
	}
	return coordinator.Roster()
}

func (s *LobbyService) AllReady() bool {
	coordinator := s.current()
	if coordinator == nil {
		return false
	}
	return coordinator.AllReady()
}

// OnRosterChanged registers a roster change callback. Registration
// before the session starts is kept and attached on start.
func (s *LobbyService) OnRosterChanged(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.coordinator != nil {
		s.coordinator.OnRosterChanged(fn)
		return
	}
	s.pendingRosterChanged = append(s.pendingRosterChanged, fn)
}

func (s *LobbyService) OnAllReady(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.coordinator != nil {
		s.coordinator.OnAllReady(fn)
		return
	}
	s.pendingAllReady = append(s.pendingAllReady, fn)
}

func (s *LobbyService) current() *runtime.Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coordinator
}

// Close ends the current session, withdraws its join code and stops the
// supervised workers. Safe to call with no session running.
func (s *LobbyService) Close() {
	s.mu.Lock()
	coordinator := s.coordinator
	supervisor := s.supervisor
	session := s.session
	s.coordinator = nil
	s.supervisor = nil
	s.session = domain.Session{}
	s.mu.Unlock()

	if coordinator == nil {
		return
	}
	coordinator.Close()
	if session.JoinCode != "" && session.Role == domain.RoleHost {
		s.allocator.Release(session.JoinCode)
	}
	if supervisor != nil {
		supervisor.Stop()
	}
}
