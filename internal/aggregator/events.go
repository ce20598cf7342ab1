package aggregator

import (
	"github.com/odin-telemetry/core/internal/feed"
	"github.com/odin-telemetry/core/internal/state"
	"github.com/odin-telemetry/core/internal/telemetry"
	"github.com/odin-telemetry/core/internal/wire"
)

type eventKind byte

const (
	eventShardConnected eventKind = iota
	eventShardDisconnected
	eventShardMessage
	eventFeedConnected
	eventFeedCommand
	eventFeedDisconnected
	eventLocation
)

// event is the single sum type every Submit* call turns into, mirroring
// the original's ToAggregator enum.
type event struct {
	kind eventKind

	shardConn ShardConnId
	shardSink ShardSink
	shardMsg  wire.Message

	feedId  feed.Id
	feedCmd feed.Command

	nodeId   state.NodeId
	location *telemetry.Location
}

// SubmitShardConnected registers sink as the way to reach shard
// connection id (used to deliver Mute messages back to it).
func (l *Loop) SubmitShardConnected(id ShardConnId, sink ShardSink) {
	l.submit(event{kind: eventShardConnected, shardConn: id, shardSink: sink})
}

// SubmitShardMessage forwards one decoded shard->core wire.Message.
func (l *Loop) SubmitShardMessage(id ShardConnId, msg wire.Message) {
	l.submit(event{kind: eventShardMessage, shardConn: id, shardMsg: msg})
}

// SubmitShardDisconnected tells the loop a shard's websocket dropped,
// so every node it owned should be removed.
func (l *Loop) SubmitShardDisconnected(id ShardConnId) {
	l.submit(event{kind: eventShardDisconnected, shardConn: id})
}

// SubmitFeedConnected registers a freshly accepted feed connection and
// returns the Id it was assigned. Unlike the other Submit* calls this
// touches the hub synchronously (connection bookkeeping only, no chain
// state), then queues the version/chain-list snapshot through the loop.
func (l *Loop) SubmitFeedConnected(sub feed.Subscriber) feed.Id {
	id := l.hub.Connect(sub)
	l.submit(event{kind: eventFeedConnected, feedId: id})
	return id
}

// SubmitFeedCommand forwards one parsed feed command (subscribe, ping,
// send-finality, no-more-finality).
func (l *Loop) SubmitFeedCommand(id feed.Id, cmd feed.Command) {
	l.submit(event{kind: eventFeedCommand, feedId: id, feedCmd: cmd})
}

// SubmitFeedDisconnected tells the loop a feed's websocket closed.
func (l *Loop) SubmitFeedDisconnected(id feed.Id) {
	l.submit(event{kind: eventFeedDisconnected, feedId: id})
}
