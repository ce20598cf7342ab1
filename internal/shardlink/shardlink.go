// Package shardlink is the core-side half of the shard<->core binary
// link (spec §4.2): it accepts the websocket connections corelink.Link
// dials out, decodes gob wire.Message frames, and forwards them into the
// aggregator loop, writing Mute frames back out as the aggregator decides
// to reject nodes.
package shardlink

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/odin-telemetry/core/internal/aggregator"
	"github.com/odin-telemetry/core/internal/wire"
)

// writeTimeout bounds how long a single Mute write to a shard may block.
const writeTimeout = 5 * time.Second

// Aggregator is the subset of *aggregator.Loop this package drives.
type Aggregator interface {
	SubmitShardConnected(id aggregator.ShardConnId, sink aggregator.ShardSink)
	SubmitShardMessage(id aggregator.ShardConnId, msg wire.Message)
	SubmitShardDisconnected(id aggregator.ShardConnId)
}

// Server upgrades incoming shard connections and relays frames between
// the websocket and the aggregator loop.
type Server struct {
	agg      Aggregator
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	nextID   uint64
}

// New builds a Server that forwards decoded messages to agg.
func New(agg Aggregator, logger zerolog.Logger) *Server {
	return &Server{
		agg:    agg,
		logger: logger.With().Str("component", "shard_link").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and runs the shard connection until it
// closes, at which point every node that shard reported is removed.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("shard websocket upgrade failed")
		return
	}
	defer conn.Close()

	id := aggregator.ShardConnId(atomic.AddUint64(&s.nextID, 1))
	sink := &connSink{conn: conn}
	s.agg.SubmitShardConnected(id, sink)
	defer s.agg.SubmitShardDisconnected(id)

	s.logger.Info().Uint64("shard", uint64(id)).Msg("shard connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Info().Uint64("shard", uint64(id)).Err(err).Msg("shard disconnected")
			return
		}
		msg, err := wire.Decode(data)
		if err != nil {
			s.logger.Debug().Err(err).Msg("dropping malformed frame from shard")
			continue
		}
		s.agg.SubmitShardMessage(id, msg)
	}
}

// connSink writes Mute frames back to one shard connection, implementing
// aggregator.ShardSink.
type connSink struct {
	conn *websocket.Conn
}

func (c *connSink) Mute(local wire.LocalId, reason wire.MuteReason) {
	frame, err := wire.Encode(wire.Message{Kind: wire.KindMute, Mute: &wire.Mute{LocalId: local, Reason: reason}})
	if err != nil {
		return
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = c.conn.WriteMessage(websocket.BinaryMessage, frame)
}
