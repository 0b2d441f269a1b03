package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"lobby-lab/runtime"
)

type testLobbyReadySuite struct {
	BaseLobbySuite
}

func TestLobbyReadySuite(t *testing.T) {
	suite.Run(t, &testLobbyReadySuite{})
}

// TestJoinAndReadyFlow drives two participants through the full join,
// readiness and all-ready sequence against a running host.
func (s *testLobbyReadySuite) TestJoinAndReadyFlow() {
	s.WithClient(s.T(), "First participant", "Alice", func(ctx context.Context, alice *runtime.Coordinator) {
		aliceSeesAllReady := make(chan struct{}, 1)
		alice.OnAllReady(func() {
			select {
			case aliceSeesAllReady <- struct{}{}:
			default:
			}
		})

		s.Run("Step 1: Second participant joins and is replicated", func() {
			s.WithClient(s.T(), "Second participant", "Bob", func(ctx context.Context, bob *runtime.Coordinator) {
				s.Require().Eventually(func() bool {
					return len(alice.Roster()) >= 2
				}, 10*time.Second, 100*time.Millisecond, "Alice never saw Bob join")

				s.Run("Step 2: Both assert readiness", func() {
					s.Require().NoError(alice.SetLocalReady())
					s.Require().NoError(bob.SetLocalReady())
				})

				s.Run("Step 3: All-ready transition reaches every mirror", func() {
					select {
					case <-aliceSeesAllReady:
					case <-time.After(10 * time.Second):
						s.Fail("All-ready transition never replicated to Alice")
					}
					s.Require().True(bob.AllReady(), "Bob's mirror disagrees on all-ready")
				})
			})
		})

		s.Run("Step 4: Departure is replicated back", func() {
			s.Require().Eventually(func() bool {
				return len(alice.Roster()) == 1
			}, 10*time.Second, 100*time.Millisecond, "Alice never saw Bob leave")
		})
	})
}
