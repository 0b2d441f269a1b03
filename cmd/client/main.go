package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"

	"lobby-lab/auth"
	"lobby-lab/domain"
	"lobby-lab/runtime"
	"lobby-lab/runtime/workers"
	"lobby-lab/transport"
)

type Config struct {
	HostAddr         string        `env:"HOST_ADDR,required=true"`
	DisplayName      string        `env:"DISPLAY_NAME,required=true"`
	ReadyAfter       time.Duration `env:"READY_AFTER,default=5s"`
	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT,default=5s"`
	EventBufferSize  int           `env:"EVENT_BUFFER_SIZE,default=64"`
	RestartInterval  time.Duration `env:"RESTART_INTERVAL,default=1s"`
	TokenDuration    time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`
	LogLevel         string        `env:"LOG_LEVEL,default=info"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Credential for the join handshake
	token, err := auth.GenerateToken(uuid.New().String(), []string{"user"}, config.TokenDuration)
	if err != nil {
		return fmt.Errorf("token generation failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Connect to the host
	coordinator := runtime.NewClientCoordinator(log, domain.Session{Role: domain.RoleClient})
	err = coordinator.Join(ctx, transport.ConnectParams{
		Addr:        config.HostAddr,
		Token:       token,
		DisplayName: config.DisplayName,
	}, config.HandshakeTimeout, config.EventBufferSize)
	if err != nil {
		return err
	}
	defer coordinator.Close()

	coordinator.OnRosterChanged(func() {
		printRoster(coordinator.Roster())
	})
	coordinator.OnAllReady(func() {
		banner := color.New(color.BgBlack, color.FgGreen).Render("  ====== ALL PARTICIPANTS READY ======  ")
		fmt.Println(banner)
	})
	printRoster(coordinator.Roster())

	// 4. Run the mirror loop under supervision
	supervisor := workers.NewSupervisor(log, config.RestartInterval)
	supervisor.Add(coordinator)
	go supervisor.Run(ctx)

	// 5. Assert readiness after the configured delay
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(config.ReadyAfter):
			if err := coordinator.SetLocalReady(); err != nil {
				log.Warn("Ready request failed", "error", err)
			}
		}
	}()

	<-ctx.Done()
	log.Info("Leaving session...")
	supervisor.Stop()
	return nil
}

func printRoster(participants []domain.Participant) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Identity", "Display Name", "Ready"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, p := range participants {
		identity := string(p.ID)
		if len(identity) > 8 {
			identity = identity[:8]
		}
		ready := "no"
		if p.Ready {
			ready = "yes"
		}
		table.Append([]string{identity, p.DisplayName, ready})
	}
	table.Render()
}
