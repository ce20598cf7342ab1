// Package shardserver implements ShardIngest (spec §4.1): the
// node-facing websocket endpoint each shard exposes, multiplexing
// multiple logical nodes per socket, enforcing per-connection byte-rate
// limits, and forwarding decoded telemetry on to core over a Link.
package shardserver

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/odin-telemetry/core/internal/connlimit"
	"github.com/odin-telemetry/core/internal/densemap"
	"github.com/odin-telemetry/core/internal/ratelimit"
	"github.com/odin-telemetry/core/internal/shardmsg"
	"github.com/odin-telemetry/core/internal/wire"
)

// Config tunes per-connection limits.
type Config struct {
	MaxNodesPerConnection int
	MaxBytesPerSecond     float64
	BlockDuration         time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxNodesPerConnection == 0 {
		c.MaxNodesPerConnection = 20
	}
	if c.MaxBytesPerSecond == 0 {
		c.MaxBytesPerSecond = 256 * 1024
	}
	if c.BlockDuration == 0 {
		c.BlockDuration = 600 * time.Second
	}
}

// Link is the subset of corelink.Link the server needs, so tests can
// substitute a fake.
type Link interface {
	Send(wire.Message)
}

// connKey identifies a logical node within the whole shard: which
// websocket connection, and which message_id inside it.
type connKey struct {
	connSeq uint64
	msgID   uint64
}

// connState is the per-socket multiplexing state: the set of local_ids
// this socket currently owns and whether each has been muted by core.
type connState struct {
	seq   uint64
	ip    string
	mu    sync.Mutex
	local map[uint64]wire.LocalId // msgID -> LocalId, for this socket only
	muted map[wire.LocalId]bool
	bytes *ratelimit.ByteRate
}

// Server accepts node websocket connections and forwards their telemetry
// to a Link.
type Server struct {
	cfg    Config
	link   Link
	limits *connlimit.Limiter
	blocks *ratelimit.Blocklist
	logger zerolog.Logger

	connSeq uint64

	idsMu sync.Mutex
	ids   *densemap.AssignId[connKey]

	ownersMu sync.Mutex
	owners   map[wire.LocalId]*connState
}

// New builds a Server.
func New(cfg Config, link Link, limits *connlimit.Limiter, blocks *ratelimit.Blocklist, logger zerolog.Logger) *Server {
	cfg.applyDefaults()
	return &Server{
		cfg:    cfg,
		link:   link,
		limits: limits,
		blocks: blocks,
		logger: logger.With().Str("component", "shard_ingest").Logger(),
		ids:    densemap.NewAssignId[connKey](),
		owners: make(map[wire.LocalId]*connState),
	}
}

// HandleMute marks id as muted, stopping any further forwarding for it
// until the owning socket reconnects (spec §4.1 "Failure semantics").
func (s *Server) HandleMute(id wire.LocalId) {
	s.ownersMu.Lock()
	st, ok := s.owners[id]
	s.ownersMu.Unlock()
	if !ok {
		return
	}
	st.mu.Lock()
	st.muted[id] = true
	st.mu.Unlock()
}

// ServeHTTP upgrades the request to a websocket and runs the connection
// until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	now := time.Now()

	if reason, blocked := s.blocks.Check(ip, now); blocked {
		http.Error(w, reason, http.StatusForbidden)
		return
	}

	if !s.limits.Allow(ip) {
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Debug().Err(err).Str("ip", ip).Msg("websocket upgrade failed")
		return
	}

	go s.runConnection(conn, ip)
}

func (s *Server) runConnection(conn net.Conn, ip string) {
	defer conn.Close()

	st := &connState{
		seq:   atomic.AddUint64(&s.connSeq, 1),
		ip:    ip,
		local: make(map[uint64]wire.LocalId),
		muted: make(map[wire.LocalId]bool),
		bytes: ratelimit.NewByteRate(),
	}

	defer s.dropConnection(st)

	for {
		msg, _, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}

		now := time.Now()
		st.bytes.Push(uint64(len(msg)), now)
		if st.bytes.Exceeds(s.cfg.MaxBytesPerSecond) {
			s.blocks.Block(ip, "Too much traffic", s.cfg.BlockDuration, now)
			return
		}

		env, err := shardmsg.Decode(msg)
		if err != nil {
			continue // malformed message: drop, keep the connection alive
		}
		s.handleEnvelope(st, env)
	}
}

func (s *Server) handleEnvelope(st *connState, env shardmsg.Envelope) {
	msgID := uint64(env.Id)

	st.mu.Lock()
	localID, known := st.local[msgID]
	st.mu.Unlock()

	if !known {
		if env.Payload.Kind != shardmsg.KindSystemConnected {
			// First sighting of this message_id must be system.connected;
			// anything else arriving first is ignored.
			return
		}
		st.mu.Lock()
		if len(st.local) >= s.cfg.MaxNodesPerConnection {
			st.mu.Unlock()
			return
		}
		st.mu.Unlock()

		s.idsMu.Lock()
		id := s.ids.Assign(connKey{connSeq: st.seq, msgID: msgID})
		s.idsMu.Unlock()
		localID = wire.LocalId(id)

		st.mu.Lock()
		st.local[msgID] = localID
		st.mu.Unlock()

		s.ownersMu.Lock()
		s.owners[localID] = st
		s.ownersMu.Unlock()

		sc := env.Payload.SystemConnected
		s.link.Send(wire.Message{
			Kind: wire.KindAddNode,
			AddNode: &wire.AddNode{
				LocalId:     localID,
				IP:          st.ip,
				Node:        sc.Node,
				GenesisHash: sc.GenesisHash,
			},
		})
		return
	}

	st.mu.Lock()
	muted := st.muted[localID]
	st.mu.Unlock()
	if muted {
		return
	}

	s.link.Send(wire.Message{
		Kind:       wire.KindUpdateNode,
		UpdateNode: &wire.UpdateNode{LocalId: localID, Payload: env.Payload},
	})
}

func (s *Server) dropConnection(st *connState) {
	st.mu.Lock()
	ids := make([]wire.LocalId, 0, len(st.local))
	for _, id := range st.local {
		ids = append(ids, id)
	}
	st.mu.Unlock()

	for _, id := range ids {
		s.link.Send(wire.Message{Kind: wire.KindRemoveNode, RemoveNode: &wire.RemoveNode{LocalId: id}})

		s.idsMu.Lock()
		s.ids.RemoveById(densemap.Id(id))
		s.idsMu.Unlock()

		s.ownersMu.Lock()
		delete(s.owners, id)
		s.ownersMu.Unlock()
	}
}

// clientIP resolves the originating address from Forwarded,
// X-Forwarded-For, X-Real-IP, falling back to the TCP peer address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("Forwarded"); fwd != "" {
		if ip := parseForwardedHeader(fwd); ip != "" {
			return ip
		}
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xr := r.Header.Get("X-Real-IP"); xr != "" {
		return strings.TrimSpace(xr)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// parseForwardedHeader extracts the first for= token from an RFC 7239
// Forwarded header.
func parseForwardedHeader(header string) string {
	first := strings.Split(header, ",")[0]
	for _, part := range strings.Split(first, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(strings.ToLower(part), "for=") {
			v := part[len("for="):]
			v = strings.Trim(v, `"`)
			v = strings.TrimPrefix(v, "[")
			if i := strings.Index(v, "]"); i >= 0 {
				v = v[:i]
			}
			if i := strings.LastIndex(v, ":"); i >= 0 && strings.Count(v, ":") == 1 {
				v = v[:i]
			}
			return v
		}
	}
	return ""
}
