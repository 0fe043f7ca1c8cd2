package connection

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"
)

// heartbeatCheckInterval is how often the supervisor polls for a dead
// connection: either the heartbeat controller reporting no PONG within
// PingInterval+PongGrace, or a write failure having set forceRecon.
const heartbeatCheckInterval = 3 * time.Second

// heartbeatMonitor is a suture.Service that polls a live Engine for signs
// the socket has died silently (no read error yet, but heartbeats have
// stopped or a write already failed) and declares the session lost.
type heartbeatMonitor struct {
	engine *Engine
}

// Serve implements suture.Service. It returns nil when ctx is done, which
// suture treats as an intentional stop rather than a crash to restart.
func (m *heartbeatMonitor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(heartbeatCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if m.engine.State() != Connected {
				continue
			}
			expired := m.engine.heartbeatCtrl != nil && m.engine.heartbeatCtrl.IsExpired()
			if expired || m.engine.forceRecon.Load() {
				m.engine.logger.Warn().Bool("heartbeat_expired", expired).Msg("connection: declaring session lost")
				m.engine.declareLost(context.Background())
				return nil
			}
		}
	}
}

// supervise runs the heartbeat monitor under a one-off suture supervisor
// for the lifetime of ctx, restarting it (per suture's policy) if it ever
// panics rather than returning normally.
func (e *Engine) supervise(ctx context.Context) {
	sup := suture.New("gocast-connection", suture.Spec{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   5 * time.Second,
		Timeout:          5 * time.Second,
	})
	sup.Add(&heartbeatMonitor{engine: e})
	_ = sup.Serve(ctx)
}
