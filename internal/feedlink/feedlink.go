// Package feedlink is the browser-facing feed endpoint (spec §4.6): it
// accepts a websocket per dashboard, turns its text commands into
// feed.Command values for the aggregator, and drains a feed.Writer to
// push batched JSON-array frames back out.
package feedlink

import (
	"context"
	"net"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/odin-telemetry/core/internal/feed"
)

// Aggregator is the subset of *aggregator.Loop this package drives.
type Aggregator interface {
	SubmitFeedConnected(sub feed.Subscriber) feed.Id
	SubmitFeedCommand(id feed.Id, cmd feed.Command)
	SubmitFeedDisconnected(id feed.Id)
}

// Server accepts feed websocket connections.
type Server struct {
	agg    Aggregator
	logger zerolog.Logger
}

// New builds a Server that forwards commands to agg.
func New(agg Aggregator, logger zerolog.Logger) *Server {
	return &Server{agg: agg, logger: logger.With().Str("component", "feed_link").Logger()}
}

// ServeHTTP upgrades the request and runs the feed connection until it
// closes or the write queue overflows.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Debug().Err(err).Msg("feed websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &connSubscriber{conn: conn, cancel: cancel}
	sub.writer = feed.NewWriter(sub.send, s.logger)

	id := s.agg.SubmitFeedConnected(sub)
	sub.id = id
	defer s.agg.SubmitFeedDisconnected(id)

	go sub.writer.Run(ctx)
	defer cancel()
	defer conn.Close()

	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		cmd, ok := feed.ParseCommand(string(data))
		if !ok {
			continue
		}
		s.agg.SubmitFeedCommand(id, cmd)
	}
}

// connSubscriber adapts one feed websocket connection to feed.Subscriber,
// routing Enqueue calls through a debounced feed.Writer and tearing the
// socket down on Disconnect.
type connSubscriber struct {
	id     feed.Id
	conn   net.Conn
	cancel context.CancelFunc
	writer *feed.Writer
}

func (c *connSubscriber) Enqueue(frame []byte) bool {
	return c.writer.Enqueue(frame)
}

func (c *connSubscriber) Disconnect() {
	c.cancel()
	_ = c.conn.Close()
}

func (c *connSubscriber) send(frame []byte) error {
	return wsutil.WriteServerText(c.conn, frame)
}
