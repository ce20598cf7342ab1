// Package corelink is the shard side of the shard<->core binary link
// (spec §4.2): a single, continuously reconnecting websocket.Dialer
// connection that carries gob-encoded wire.Message frames.
package corelink

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/odin-telemetry/core/internal/wire"
)

// ReconnectBackoff is the fixed delay between reconnect attempts (spec
// §4.2: "Reconnect backoff: 1s fixed").
const ReconnectBackoff = time.Second

// State is CoreLink's connection lifecycle, mirroring spec §4.2's
// Disconnected -> Connecting -> Connected state machine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// Link manages the outbound connection to core, exposes a channel of
// inbound Mute messages, and a send method that never blocks. While the
// connection is down, messages wait in a bounded queue (4096) and are
// dropped only when that queue is full; they are sent once a connection
// is up. Messages still queued when a connection ends are discarded.
type Link struct {
	url    string
	logger zerolog.Logger

	dialer *websocket.Dialer

	mu    sync.Mutex
	state State
	conn  *websocket.Conn

	outgoing chan wire.Message
	inbound  chan wire.Mute

	// OnConnected is called (from the reconnect loop) every time the link
	// transitions into Connected, so the shard aggregator can issue the
	// synthetic close-and-resubscribe sweep spec §4.2 requires.
	OnConnected func()
}

// New returns a Link that is not yet connected; call Run to start it.
func New(url string, logger zerolog.Logger) *Link {
	return &Link{
		url:    url,
		logger: logger.With().Str("component", "corelink").Logger(),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		outgoing: make(chan wire.Message, 4096),
		inbound:  make(chan wire.Mute, 256),
	}
}

// Inbound returns the channel of Mute messages received from core.
func (l *Link) Inbound() <-chan wire.Mute {
	return l.inbound
}

// Send enqueues msg for transmission. If the outgoing buffer is full
// (connection down or core not keeping up), the message is dropped per
// spec §4.2 ("messages buffered before reconnection are discarded").
func (l *Link) Send(msg wire.Message) {
	select {
	case l.outgoing <- msg:
	default:
		l.logger.Warn().Msg("outgoing buffer full, dropping message to core")
	}
}

// Run drives the reconnect loop until ctx is canceled.
func (l *Link) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		l.setState(StateConnecting)
		conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
		if err != nil {
			l.logger.Warn().Err(err).Msg("dial to core failed, retrying")
			l.setState(StateDisconnected)
			if !sleepCtx(ctx, ReconnectBackoff) {
				return
			}
			continue
		}

		l.mu.Lock()
		l.conn = conn
		l.state = StateConnected
		l.mu.Unlock()

		if l.OnConnected != nil {
			l.OnConnected()
		}
		l.logger.Info().Msg("connected to core")

		l.runConnection(ctx, conn)

		l.mu.Lock()
		l.conn = nil
		l.state = StateDisconnected
		l.mu.Unlock()

		// Drop anything already queued: a stale AddNode issued before the
		// drop would desync core's view once we resend a fresh snapshot.
		drain(l.outgoing)

		if !sleepCtx(ctx, ReconnectBackoff) {
			return
		}
	}
}

func (l *Link) runConnection(ctx context.Context, conn *websocket.Conn) {
	readErrCh := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErrCh <- err
				return
			}
			msg, err := wire.Decode(data)
			if err != nil {
				l.logger.Debug().Err(err).Msg("dropping malformed frame from core")
				continue
			}
			if msg.Kind == wire.KindMute && msg.Mute != nil {
				select {
				case l.inbound <- *msg.Mute:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return
		case err := <-readErrCh:
			l.logger.Warn().Err(err).Msg("core connection lost")
			return
		case msg := <-l.outgoing:
			frame, err := wire.Encode(msg)
			if err != nil {
				l.logger.Error().Err(err).Msg("failed to encode outgoing frame")
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				l.logger.Warn().Err(err).Msg("write to core failed")
				return
			}
		}
	}
}

func (l *Link) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Status returns the link's current connection state.
func (l *Link) Status() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func drain(ch chan wire.Message) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
