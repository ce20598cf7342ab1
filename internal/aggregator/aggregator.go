// Package aggregator runs the single goroutine that owns all mutable
// telemetry state: every chain, every node, and every feed subscription.
// It is the Go analogue of the original's single-threaded InnerLoop
// (telemetry_core/src/aggregator/inner_loop.rs) — all incoming shard
// and feed events funnel through one buffered channel (queueCapacity), so
// no lock is ever needed around state.State. feed.Hub keeps its own mutex,
// since feed connections are registered with it from the listener side.
package aggregator

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/odin-telemetry/core/internal/feed"
	"github.com/odin-telemetry/core/internal/locator"
	"github.com/odin-telemetry/core/internal/state"
	"github.com/odin-telemetry/core/internal/telemetry"
	"github.com/odin-telemetry/core/internal/wire"
)

// ShardConnId is assigned by the shard-facing listener, one per
// connected shard.
type ShardConnId uint64

// ShardSink is how the loop tells a shard connection to mute a node.
type ShardSink interface {
	Mute(local wire.LocalId, reason wire.MuteReason)
}

// shardNodeKey globally identifies one node: which shard connection
// reported it, and which shard-local id it carries there.
type shardNodeKey struct {
	shard ShardConnId
	local wire.LocalId
}

// queueCapacity bounds the event channel. The original relies on an
// unbounded mpsc channel; Go has no unbounded channel primitive, so a
// large buffer stands in, and Submit* calls block past it rather than
// silently drop telemetry.
const queueCapacity = 16384

// Loop is the aggregator: call Run in its own goroutine, then drive it
// via the Submit* methods from shard/feed listener goroutines.
type Loop struct {
	logger zerolog.Logger

	state *state.State
	hub   *feed.Hub

	events chan event

	nodeIds    map[shardNodeKey]state.NodeId
	nodeIdsRev map[state.NodeId]shardNodeKey
	shardNodes map[ShardConnId]map[wire.LocalId]bool
	shardSinks map[ShardConnId]ShardSink

	locator    *locator.Locator[state.NodeId]
	locatorIn  chan locatorRequest
	locatorOut chan locator.Result[state.NodeId]
}

// locatorRequest is a type alias (not a defined type) so that
// chan locatorRequest stays identical to the anonymous struct channel
// locator.Locator.Requests expects.
type locatorRequest = struct {
	Id state.NodeId
	IP net.IP
}

// New builds a Loop. denylist, maxThirdPartyNodes, and firstPartyLabels
// configure the underlying state.State (spec §4.4/§4.5).
func New(denylist []string, maxThirdPartyNodes int, firstPartyLabels []string, logger zerolog.Logger) *Loop {
	logger = logger.With().Str("component", "aggregator").Logger()
	return &Loop{
		logger:     logger,
		state:      state.New(denylist, maxThirdPartyNodes, firstPartyLabels),
		hub:        feed.NewHub(),
		events:     make(chan event, queueCapacity),
		nodeIds:    make(map[shardNodeKey]state.NodeId),
		nodeIdsRev: make(map[state.NodeId]shardNodeKey),
		shardNodes: make(map[ShardConnId]map[wire.LocalId]bool),
		shardSinks: make(map[ShardConnId]ShardSink),
		locator:    locator.New[state.NodeId](logger),
		locatorIn:  make(chan locatorRequest, 1024),
		locatorOut: make(chan locator.Result[state.NodeId], 1024),
	}
}

// Run drives the loop until ctx is canceled. It also starts the
// geolocation worker pool and the channel that feeds results back in.
func (l *Loop) Run(ctx context.Context) {
	go l.locator.Requests(ctx, l.locatorIn, l.locatorOut)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case res := <-l.locatorOut:
				l.submit(event{kind: eventLocation, nodeId: res.Id, location: res.Location})
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-l.events:
			l.handle(ev)
		}
	}
}

func (l *Loop) submit(ev event) {
	l.events <- ev
}

func (l *Loop) handle(ev event) {
	switch ev.kind {
	case eventShardConnected:
		l.shardSinks[ev.shardConn] = ev.shardSink
		l.shardNodes[ev.shardConn] = make(map[wire.LocalId]bool)
	case eventShardDisconnected:
		l.handleShardDisconnected(ev.shardConn)
	case eventShardMessage:
		l.handleShardMessage(ev.shardConn, ev.shardMsg)
	case eventFeedConnected:
		l.handleFeedConnected(ev.feedId)
	case eventFeedCommand:
		l.handleFeedCommand(ev.feedId, ev.feedCmd)
	case eventFeedDisconnected:
		l.hub.Disconnect(ev.feedId)
	case eventLocation:
		l.handleLocation(ev.nodeId, ev.location)
	}
}

func (l *Loop) muteShardNode(shardConn ShardConnId, local wire.LocalId, reason wire.MuteReason) {
	if sink, ok := l.shardSinks[shardConn]; ok {
		sink.Mute(local, reason)
	}
}

func (l *Loop) requestLocation(id state.NodeId, ip string) {
	if ip == "" {
		return
	}
	parsed := net.ParseIP(ip)
	v4 := parsed.To4()
	if v4 == nil {
		// Only IPv4 is geolocated, matching the original ("currently we
		// only geographically locate IPV4 addresses").
		return
	}
	select {
	case l.locatorIn <- locatorRequest{Id: id, IP: v4}:
	default:
		l.logger.Warn().Msg("location request queue full, dropping lookup")
	}
}

func (l *Loop) broadcastChainFeed(genesisHash telemetry.BlockHash) {
	c, ok := l.state.ChainByGenesisHash(genesisHash)
	if !ok {
		return
	}
	if frame, ok := c.TakeFeedBatch(); ok {
		l.disconnectOverflowed(l.hub.Broadcast(c.Label, frame))
	}
	if frame, ok := c.TakeFinalityBatch(); ok {
		l.disconnectOverflowed(l.hub.BroadcastFinality(c.Label, frame))
	}
}

// disconnectOverflowed drops every feed whose write queue could not
// keep up (spec §4.6 "buffer overflow policy").
func (l *Loop) disconnectOverflowed(ids []feed.Id) {
	for _, id := range ids {
		l.logger.Warn().Uint64("feed", uint64(id)).Msg("feed fell behind, disconnecting")
		l.hub.Drop(id)
	}
}

func nowMillis(t time.Time) uint64 {
	return uint64(t.UnixMilli())
}
