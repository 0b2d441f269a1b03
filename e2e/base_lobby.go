package e2e

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/stretchr/testify/suite"

	"lobby-lab/auth"
	"lobby-lab/domain"
	"lobby-lab/runtime"
	"lobby-lab/transport"
)

type BaseLobbySuite struct {
	suite.Suite
	Config Config
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseLobbySuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.HostAddr == "" {
		s.T().Skip("HOST_ADDR not set, skipping e2e lobby scenarios")
	}
}

// WithClient joins the running host as a fresh participant, runs fn, then leaves.
func (s *BaseLobbySuite) WithClient(t *testing.T, name, displayName string,
	fn func(ctx context.Context, c *runtime.Coordinator)) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	t.Log(header)

	token, err := auth.GenerateToken(uuid.New().String(), []string{"user"}, time.Hour)
	s.Require().NoError(err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	coordinator := runtime.NewClientCoordinator(log, domain.Session{Role: domain.RoleClient})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	err = coordinator.Join(ctx, transport.ConnectParams{
		Addr:        s.Config.HostAddr,
		Token:       token,
		DisplayName: displayName,
	}, 5*time.Second, 64)
	s.Require().NoError(err, "Failed to join host at "+s.Config.HostAddr)
	defer coordinator.Close()

	go func() { _ = coordinator.Run(ctx) }()

	fn(ctx, coordinator)
}
