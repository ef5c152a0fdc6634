package ws

import (
	"log"
	"time"
)

// Clients drive the heartbeat: they send an application-level ping frame on
// a fixed cadence and the dispatcher answers with pong, stamping the
// connection's activity clock. The server never pings. The reaper sweeps the
// connection table on that same cadence and evicts two kinds of connection:
// ones that have gone silent for more than MissedPings full intervals (the
// client vanished but the TCP session never closed), and ones that sit in
// pending_auth past AuthTimeout without completing the handshake.

// ReaperConfig tunes idle-connection eviction.
type ReaperConfig struct {
	ClientInterval time.Duration // expected cadence of client ping frames
	MissedPings    int           // whole intervals a connection may miss before eviction
	Grace          time.Duration // network slack on top of the missed-ping window
	AuthTimeout    time.Duration // max time allowed in pending_auth
}

// DefaultReaperConfig matches the client heartbeat cadence of 30 seconds.
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		ClientInterval: 30 * time.Second,
		MissedPings:    2,
		Grace:          10 * time.Second,
		AuthTimeout:    30 * time.Second,
	}
}

// idleDeadline returns how long a connection may go without any inbound
// frame before it is considered dead.
func (rc ReaperConfig) idleDeadline() time.Duration {
	return time.Duration(rc.MissedPings)*rc.ClientInterval + rc.Grace
}

// StartReaper launches the background sweep goroutine. It returns
// immediately; the goroutine exits when the server's done channel closes.
func StartReaper(server *Server, config ReaperConfig) {
	go func() {
		ticker := time.NewTicker(config.ClientInterval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case <-ticker.C:
				sweep(server, config, time.Now())
			}
		}
	}()
}

// sweep walks a snapshot of the connection table and evicts connections that
// stalled in the handshake or stopped sending frames.
func sweep(server *Server, config ReaperConfig, now time.Time) {
	deadline := config.idleDeadline()

	for _, c := range server.Connections().All() {
		if !c.Authenticated() && now.Sub(c.CreatedAt) > config.AuthTimeout {
			log.Printf("ws: evicting unauthenticated session=%s age=%s",
				c.ID, now.Sub(c.CreatedAt).Round(time.Second))
			server.RemoveConnection(c)
			continue
		}

		if idle := now.Sub(c.LastActivity()); idle > deadline {
			log.Printf("ws: evicting idle session=%s idle=%s", c.ID, idle.Round(time.Second))
			server.RemoveConnection(c)
		}
	}
}
