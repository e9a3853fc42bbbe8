// ABOUTME: Periodic cleanup of expired sessions and invites
// ABOUTME: Runs on the server's sweep interval until shutdown

package server

import (
	"context"
	"time"
)

func (s *Server) startHousekeeping(ctx context.Context) {
	interval := s.config.Auth.SweepInterval
	if interval <= 0 {
		return
	}
	s.housekeeping.Add(1)
	go func() {
		defer s.housekeeping.Done()
		s.housekeepingLoop(ctx, interval)
	}()
}

func (s *Server) housekeepingLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep removes expired rows once. Failures are logged and retried next tick.
func (s *Server) sweep(ctx context.Context) {
	res, err := s.console.Sweep(ctx, nil)
	if err != nil {
		s.logger.Error("housekeeping sweep failed", "error", err)
		return
	}
	if res.Sessions > 0 || res.Invites > 0 {
		s.logger.Info("housekeeping sweep", "sessions", res.Sessions, "invites", res.Invites)
	}
}
