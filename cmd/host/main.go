package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"

	"lobby-lab/contract"
	"lobby-lab/domain"
	liberrors "lobby-lab/errors"
	"lobby-lab/internal"
	"lobby-lab/moderation"
	"lobby-lab/observability"
	"lobby-lab/repositories"
	"lobby-lab/runtime/workers"
	"lobby-lab/services"
	"lobby-lab/sink"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the session lifecycle, and centralizes error reporting.
// This pattern is preferred over calling os.Exit or panic directly because:
// 1. It ensures all 'defer' statements (like database cleanup) are executed before the program exits.
// 2. It improves testability by decoupling the initialization logic from the main entry point.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.INFO))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	//  Defer will be executed before run() returned anything to main()
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Accounts & host credential
	userRepository := repositories.NewUserRepository(db)
	authService := services.NewAuthService(userRepository, config.AuthTokenDuration)
	token, err := hostToken(authService)
	if err != nil {
		return fmt.Errorf("host authentication failed: %w", err)
	}

	// 4. Lobby collaborators
	screener, err := moderation.NewDefaultScreener()
	if err != nil {
		return fmt.Errorf("screener setup failed: %w", err)
	}
	monitor := observability.NewMonitoringManager(log)
	journalRepository := repositories.NewJournalRepository(db, log, config.LimitRecords)
	permanentSinks := []contract.EventSink{
		sink.NewJournalSink(journalRepository, log),
		sink.NewStatsSink(monitor),
	}

	lobby := services.NewLobbyService(log, services.LobbyConfig{
		ListenAddr:       fmt.Sprintf("%s:%d", config.Host, config.Port),
		HandshakeTimeout: config.HandshakeTimeout,
		AdmitTimeout:     config.AdmitTimeout,
		SinkTimeout:      config.SinkTimeout,
		RestartInterval:  config.RestartInterval,
		SendBuffer:       config.SendBufferSize,
		EventBuffer:      config.EventBufferSize,
	}, services.NewAllocator(), &screener, monitor, permanentSinks)

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 6. Host the session
	session, err := lobby.CreateSession(ctx, domain.CreateSessionInput{
		Name:     config.SessionName,
		Capacity: config.SessionCapacity,
	}, token)
	if err != nil {
		return fmt.Errorf("session creation failed: %w", err)
	}
	defer lobby.Close()

	lobby.OnAllReady(func() {
		log.Info("All participants ready, session can start", "session", session.ID)
	})

	fmt.Printf("Session %q hosted. Join code: %s\n", session.Name, session.JoinCode)

	// 7. Process-level workers & debug surface
	supervisor := workers.NewSupervisor(log, config.RestartInterval)
	supervisor.Add(workers.NewHeartbeatWorker(log, monitor, config.MetricInterval))
	go supervisor.Run(ctx)

	if config.DebugPort != 0 {
		internal.StartDebugServer(db, config.DebugPort, "/inspect", internal.JournalMapper, func() map[string]any {
			stats := monitor.GetLatest()
			return map[string]any{
				"Joined":    stats.ParticipantsJoined,
				"Left":      stats.ParticipantsLeft,
				"Rejected":  stats.AdmissionsRejected,
				"Ready":     stats.ReadyAssertions,
				"Broadcast": stats.BroadcastsSent,
				"AllocMb":   stats.AllocMemMb,
			}
		})
		log.Info("Debug server started", "port", config.DebugPort)
	}

	// 8. Wait for Stop
	<-ctx.Done()
	log.Info("Shutting down gracefully...")
	supervisor.Stop()
	log.Info("Program stopped cleanly")

	return nil
}

// hostToken logs the host account in, registering it on first run.
func hostToken(authService services.IAuthService) (services.Token, error) {
	email := lo.CoalesceOrEmpty(os.Getenv("HOST_EMAIL"), "host@lobby.local")
	password := lo.CoalesceOrEmpty(os.Getenv("HOST_PASSWORD"), "Lobby-Host-Pass-2026!")

	token, err := authService.Login(email, password)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, liberrors.ErrInvalidCredentials) {
		return "", err
	}
	return authService.Register(email, password)
}
