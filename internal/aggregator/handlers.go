package aggregator

import (
	"time"

	"github.com/odin-telemetry/core/internal/chain"
	"github.com/odin-telemetry/core/internal/feed"
	"github.com/odin-telemetry/core/internal/state"
	"github.com/odin-telemetry/core/internal/telemetry"
	"github.com/odin-telemetry/core/internal/wire"
)

// feedProtocolVersion is sent to every feed on connect, matching the
// original's Version(31) handshake.
const feedProtocolVersion = 31

func encodeVersion(v int) []byte {
	s := feed.NewSerializer()
	s.Push(feed.ActionVersion, v)
	frame, _ := s.Finalize()
	return frame
}

func encodeAddedChain(label string, nodeCount int) []byte {
	s := feed.NewSerializer()
	s.Push(feed.ActionAddedChain, label, nodeCount)
	frame, _ := s.Finalize()
	return frame
}

func encodeRemovedChain(label string) []byte {
	s := feed.NewSerializer()
	s.Push(feed.ActionRemovedChain, label)
	frame, _ := s.Finalize()
	return frame
}

// handleShardMessage is the aggregator's half of the shard<->core link:
// Add/Update/Remove a node, enforcing the denylist and per-chain quota
// and muting the shard back when either rejects the node (spec §4.4,
// §4.7, grounded on the original's handle_from_shard).
func (l *Loop) handleShardMessage(conn ShardConnId, msg wire.Message) {
	switch msg.Kind {
	case wire.KindAddNode:
		l.handleAddNode(conn, msg.AddNode)
	case wire.KindUpdateNode:
		l.handleUpdateNode(conn, msg.UpdateNode)
	case wire.KindRemoveNode:
		l.handleRemoveNode(conn, msg.RemoveNode)
	}
}

func (l *Loop) handleAddNode(conn ShardConnId, m *wire.AddNode) {
	if m == nil {
		return
	}
	result := l.state.AddNode(m.GenesisHash, m.Node)

	switch result.Outcome {
	case state.ChainOnDenylist:
		l.muteShardNode(conn, m.LocalId, wire.MuteChainNotAllowed)
		return
	case state.ChainOverQuota:
		l.muteShardNode(conn, m.LocalId, wire.MuteOverquota)
		return
	}

	key := shardNodeKey{shard: conn, local: m.LocalId}
	l.nodeIds[key] = result.NodeId
	l.nodeIdsRev[result.NodeId] = key
	if set, ok := l.shardNodes[conn]; ok {
		set[m.LocalId] = true
	}

	if result.HasChainLabelChanged {
		l.disconnectOverflowed(l.hub.BroadcastAll(encodeRemovedChain(result.OldChainLabel)))
	}
	l.disconnectOverflowed(l.hub.BroadcastAll(encodeAddedChain(result.NewChainLabel, result.ChainNodeCount)))

	l.requestLocation(result.NodeId, m.IP)
	l.broadcastChainFeed(m.GenesisHash)
}

func (l *Loop) handleUpdateNode(conn ShardConnId, m *wire.UpdateNode) {
	if m == nil {
		return
	}
	id, ok := l.nodeIds[shardNodeKey{shard: conn, local: m.LocalId}]
	if !ok {
		return
	}
	c, ok := l.state.ChainByNodeId(id)
	if !ok {
		return
	}
	genesisHash := c.GenesisHash
	now := time.Now()
	l.state.UpdateNode(id, m.Payload, now, nowMillis(now))
	l.broadcastChainFeed(genesisHash)
}

func (l *Loop) handleRemoveNode(conn ShardConnId, m *wire.RemoveNode) {
	if m == nil {
		return
	}
	key := shardNodeKey{shard: conn, local: m.LocalId}
	id, ok := l.nodeIds[key]
	if !ok {
		return
	}
	l.forgetShardNode(conn, key, id)
}

// handleShardDisconnected removes every node a disconnecting shard
// connection owned, grouped implicitly by chain via RemoveNode, mirroring
// remove_nodes_and_broadcast_result for a dropped shard socket.
func (l *Loop) handleShardDisconnected(conn ShardConnId) {
	locals := l.shardNodes[conn]
	for local := range locals {
		key := shardNodeKey{shard: conn, local: local}
		if id, ok := l.nodeIds[key]; ok {
			l.forgetShardNode(conn, key, id)
		}
	}
	delete(l.shardNodes, conn)
	delete(l.shardSinks, conn)
}

func (l *Loop) forgetShardNode(conn ShardConnId, key shardNodeKey, id state.NodeId) {
	removed, ok := l.state.RemoveNode(id)
	delete(l.nodeIds, key)
	delete(l.nodeIdsRev, id)
	if set, ok := l.shardNodes[conn]; ok {
		delete(set, key.local)
	}
	if !ok {
		return
	}

	if removed.ChainDropped {
		l.disconnectOverflowed(l.hub.BroadcastAll(encodeRemovedChain(removed.OldChainLabel)))
		return
	}

	if removed.HasChainLabelChanged {
		l.disconnectOverflowed(l.hub.BroadcastAll(encodeRemovedChain(removed.OldChainLabel)))
		l.disconnectOverflowed(l.hub.BroadcastAll(encodeAddedChain(removed.NewChainLabel, removed.ChainNodeCount)))
	}
	l.broadcastChainFeed(removed.ChainGenesisHash)
}

// handleFeedConnected sends the handshake a freshly accepted feed needs:
// protocol version, then one AddedChain per currently known chain,
// matching FromFeedWebsocket::Initialize.
func (l *Loop) handleFeedConnected(id feed.Id) {
	l.hub.SendTo(id, encodeVersion(feedProtocolVersion))
	l.state.EachChain(func(_ state.ChainId, c *chain.Chain) {
		l.hub.SendTo(id, encodeAddedChain(c.Label, c.Nodes.Len()))
	})
}

// findChainByLabel looks a chain up by its current display label, for
// subscribe commands which address chains by label rather than genesis
// hash (spec §4.6 "subscribe:<chain label>").
func (l *Loop) findChainByLabel(label string) (*chain.Chain, bool) {
	var found *chain.Chain
	l.state.EachChain(func(_ state.ChainId, c *chain.Chain) {
		if found == nil && c.Label == label {
			found = c
		}
	})
	if found == nil {
		return nil, false
	}
	return found, true
}

// handleFeedCommand dispatches one parsed feed command: subscribe,
// send-finality, no-more-finality, ping. Grounded on handle_from_feed's
// Subscribe/Ping cases plus connector.rs's FromFeedWebsocket variants.
func (l *Loop) handleFeedCommand(id feed.Id, cmd feed.Command) {
	switch cmd.Name {
	case feed.CmdSubscribe:
		l.handleFeedSubscribe(id, cmd.Payload)
	case feed.CmdSendFinality:
		l.hub.SendFinality(id)
	case feed.CmdNoMoreFinality:
		l.hub.NoMoreFinality(id)
	case feed.CmdPing:
		l.hub.SendTo(id, feed.EncodePong(cmd.Payload))
	}
}

func (l *Loop) handleFeedSubscribe(id feed.Id, chainLabel string) {
	previous, changed := l.hub.Subscribe(id, chainLabel)
	if !changed {
		return
	}
	if previous != "" {
		l.hub.SendTo(id, feed.EncodeUnsubscribedFrom(previous))
	}

	c, ok := l.findChainByLabel(chainLabel)
	if !ok {
		return
	}
	for _, frame := range c.Snapshot(nowMillis(time.Now())) {
		if !l.hub.SendTo(id, frame) {
			l.hub.Drop(id)
			return
		}
	}
}

// handleLocation records a resolved geolocation and pushes LocatedNode to
// the node's chain feed; an unresolved (nil) result is ignored.
func (l *Loop) handleLocation(id state.NodeId, loc *telemetry.Location) {
	if loc == nil {
		return
	}
	c, ok := l.state.ChainByNodeId(id)
	if !ok {
		return
	}
	genesisHash := c.GenesisHash
	if l.state.UpdateNodeLocation(id, *loc) {
		l.broadcastChainFeed(genesisHash)
	}
}
