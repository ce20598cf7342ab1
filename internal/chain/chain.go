// Package chain implements the per-chain node table: dedup by reported
// label, best/finalized block tracking, stale-node sweeping, and feed
// message emission, matching spec §4.4.
package chain

import (
	"strconv"
	"time"

	"github.com/odin-telemetry/core/internal/densemap"
	"github.com/odin-telemetry/core/internal/feed"
	"github.com/odin-telemetry/core/internal/mostseen"
	"github.com/odin-telemetry/core/internal/node"
	"github.com/odin-telemetry/core/internal/numstats"
	"github.com/odin-telemetry/core/internal/shardmsg"
	"github.com/odin-telemetry/core/internal/telemetry"
)

// NodeId is a chain-local node handle, stable for the node's lifetime.
type NodeId = densemap.Id

// DefaultMaxThirdPartyNodes bounds how many nodes a chain that isn't on
// the first-party allow list may host (spec §4.4 "quota logic").
const DefaultMaxThirdPartyNodes = 500

// DefaultFirstPartyLabels is the fixed small set of chain labels spec §4.4
// calls out by name as effectively unbounded ("FirstPartyNetworks").
var DefaultFirstPartyLabels = []string{"Polkadot", "Kusama", "Westend", "Rococo"}

// blockTimesWindow is how many recent best-block deltas feed the average
// block time calculation.
const blockTimesWindow = 50

// Chain owns every node reporting in under one genesis/label identity.
type Chain struct {
	Label              string
	GenesisHash        telemetry.BlockHash
	labelVotes         *mostseen.MostSeen[string]
	firstPartyLabels   map[string]bool
	MaxThirdPartyNodes int

	Nodes *densemap.DenseMap[*node.Node]

	Best      telemetry.Block
	Finalized telemetry.Block

	blockTimes        *numstats.NumStats[uint64]
	AverageBlockTimeMs *uint64
	timestampMs       *uint64

	serializer        *feed.Serializer
	finalitySerializer *feed.Serializer
}

// New creates an empty chain labeled with the first node's self-reported
// chain name. firstPartyLabels is shared (not copied) across every chain in
// a State, since spec §4.4 computes the quota exemption from the chain's
// *current* best label, which can change after creation via majority vote.
func New(label string, genesisHash telemetry.BlockHash, firstPartyLabels map[string]bool, maxThirdPartyNodes int) *Chain {
	if maxThirdPartyNodes <= 0 {
		maxThirdPartyNodes = DefaultMaxThirdPartyNodes
	}
	// mostseen.New starts label at one vote; drop it so the first AddNode
	// casts that node's only vote.
	labelVotes := mostseen.New(label)
	labelVotes.Remove(label)
	return &Chain{
		Label:              label,
		GenesisHash:        genesisHash,
		labelVotes:         labelVotes,
		firstPartyLabels:   firstPartyLabels,
		MaxThirdPartyNodes: maxThirdPartyNodes,
		Nodes:              densemap.New[*node.Node](),
		blockTimes:         numstats.New[uint64](blockTimesWindow),
		serializer:         feed.NewSerializer(),
		finalitySerializer: feed.NewSerializer(),
	}
}

// IsFirstParty reports whether the chain's current majority label is on
// the first-party allow list. Re-evaluated on every call (not cached at
// creation) since a rename can move a chain in or out of the set.
func (c *Chain) IsFirstParty() bool {
	return c.firstPartyLabels[c.Label]
}

// AtCapacity reports whether a third-party chain has hit its node quota;
// first-party chains are never capacity-limited.
func (c *Chain) AtCapacity() bool {
	return !c.IsFirstParty() && c.Nodes.Len() >= c.MaxThirdPartyNodes
}

// AddNode inserts a freshly connected node, updating the label vote and
// emitting AddedNode. Returns false (without adding) if the chain is at
// capacity.
func (c *Chain) AddNode(n *node.Node) (NodeId, bool) {
	if c.AtCapacity() {
		return 0, false
	}
	renamed := c.labelVotes.Insert(n.Details.Chain)
	if renamed {
		c.Label, _ = c.labelVotes.Best()
	}
	id := c.Nodes.Insert(n)
	c.serializer.Push(feed.ActionAddedNode, addedNodeRow(id, n)...)
	return id, true
}

func addedNodeRow(id NodeId, n *node.Node) []any {
	return []any{
		id,
		feed.NodeDetailsRow(n.Details),
		[2]uint64{n.Stats.Peers, n.Stats.TxCount},
		n.IO.Values(),
		[3][]float64{n.Hardware.Upload.Values(), n.Hardware.Download.Values(), n.Hardware.ChartStamps.Values()},
		blockDetailsRow(n),
		locationRow(n.Location),
		n.StartupTime,
	}
}

// blockDetailsRow builds the 5-tuple [height, hash, block_time_ms,
// block_timestamp_ms, propagation_time_ms?] spec §4.6 calls block_details.
func blockDetailsRow(n *node.Node) [5]any {
	return [5]any{
		n.Best.Block.Height,
		n.Best.Block.Hash,
		n.Best.BlockTimeMs,
		n.Best.BlockTimestampMs,
		n.Best.PropagationTimeMs,
	}
}

// locationRow encodes a node's geolocation as the positional [lat, long,
// city] array spec §4.6 requires, matching HandleLocation's LocatedNode
// shape. nil when the node hasn't been located yet.
func locationRow(loc *telemetry.Location) any {
	if loc == nil {
		return nil
	}
	return [3]any{loc.Latitude, loc.Longitude, loc.City}
}

// RemoveNode drops a node, withdraws its label vote, and emits
// RemovedNode.
func (c *Chain) RemoveNode(id NodeId) {
	n, ok := c.Nodes.Remove(id)
	if !ok {
		return
	}
	renamed := c.labelVotes.Remove(n.Details.Chain)
	if renamed {
		c.Label, _ = c.labelVotes.Best()
	}
	c.serializer.Push(feed.ActionRemovedNode, id)
}

// IsEmpty reports whether the chain has no nodes left and should be
// dropped by its owner.
func (c *Chain) IsEmpty() bool {
	return c.Nodes.Len() == 0
}

// HandleUpdate applies one decoded node payload, mutating chain/node
// state and queuing the feed messages it produces. now/nowMs must be
// consistent (nowMs = now in epoch milliseconds).
func (c *Chain) HandleUpdate(id NodeId, payload shardmsg.Payload, now time.Time, nowMs uint64) {
	c.sweepStale(nowMs)

	n, ok := c.Nodes.Get(id)
	if !ok {
		return
	}

	if b, ok := payload.BestBlock(); ok {
		c.handleBlock(id, n, b, now, nowMs)
	}

	switch payload.Kind {
	case shardmsg.KindSystemInterval:
		si := payload.SystemInterval
		if n.UpdateHardware(si.BandwidthUpload, si.BandwidthDownload, nowMs) {
			c.serializer.Push(feed.ActionHardware, id, hardwareRow(n))
		}
		if n.UpdateStats(si.Peers, si.TxCount) {
			c.serializer.Push(feed.ActionNodeStatsUpdate, id, [2]uint64{n.Stats.Peers, n.Stats.TxCount})
		}
		if n.UpdateIO(si.UsedStateCacheSize) {
			c.serializer.Push(feed.ActionNodeIOUpdate, id, n.IO.Values())
		}
	case shardmsg.KindAfgAuthoritySet:
		n.SetValidatorAddress(payload.AfgAuthoritySet.AuthorityID)
	case shardmsg.KindAfgFinalized:
		if n.Details.Validator != nil {
			if num, err := strconv.ParseUint(payload.AfgFinalized.FinalizedNumber, 10, 64); err == nil {
				c.finalitySerializer.Push(feed.ActionAfgFinalized, *n.Details.Validator, num, payload.AfgFinalized.FinalizedHash)
			}
		}
	case shardmsg.KindAfgReceivedPrevote, shardmsg.KindAfgReceivedPrecommit:
		if n.Details.Validator != nil {
			if num, err := strconv.ParseUint(payload.AfgReceived.TargetNumber, 10, 64); err == nil {
				action := feed.ActionAfgReceivedPrevote
				if payload.Kind == shardmsg.KindAfgReceivedPrecommit {
					action = feed.ActionAfgReceivedPrecommit
				}
				c.finalitySerializer.Push(action, *n.Details.Validator, num, payload.AfgReceived.TargetHash, payload.AfgReceived.Voter)
			}
		}
	}

	if b, ok := payload.FinalizedBlock(); ok {
		if n.UpdateFinalized(b) {
			c.serializer.Push(feed.ActionFinalizedBlock, id, b.Height, b.Hash)
			if b.Height > c.Finalized.Height {
				c.Finalized = b
				c.serializer.Push(feed.ActionBestFinalized, b.Height, b.Hash)
			}
		}
	}
}

func hardwareRow(n *node.Node) [3][]float64 {
	return [3][]float64{n.Hardware.Upload.Values(), n.Hardware.Download.Values(), n.Hardware.ChartStamps.Values()}
}

func (c *Chain) handleBlock(id NodeId, n *node.Node, b telemetry.Block, now time.Time, nowMs uint64) {
	var propagationMs *uint64
	if !n.UpdateBlock(b) {
		return
	}

	if b.Height > c.Best.Height {
		c.Best = b
		if c.timestampMs != nil {
			delta := nowMs - *c.timestampMs
			c.blockTimes.Push(delta)
			avg := c.blockTimes.Average()
			c.AverageBlockTimeMs = &avg
		}
		c.timestampMs = &nowMs
		c.serializer.Push(feed.ActionBestBlock, b.Height, nowMs, c.AverageBlockTimeMs)
		zero := uint64(0)
		propagationMs = &zero
	} else if b.Height == c.Best.Height && c.timestampMs != nil {
		delta := nowMs - *c.timestampMs
		propagationMs = &delta
	}

	emit := n.UpdateDetails(now, nowMs, propagationMs)
	if emit {
		c.serializer.Push(feed.ActionImportedBlock, id, blockDetailsRow(n))
	}
}

// HandleLocation records a located node and emits LocatedNode.
func (c *Chain) HandleLocation(id NodeId, loc telemetry.Location) {
	n, ok := c.Nodes.Get(id)
	if !ok {
		return
	}
	n.UpdateLocation(loc)
	c.serializer.Push(feed.ActionLocatedNode, id, loc.Latitude, loc.Longitude, loc.City)
}

// sweepStale runs the stale-node recompute described in spec §4.4: once
// the chain hasn't seen a new best block for StaleTimeout, recompute
// best/finalized from the non-stale nodes only and mark the rest stale.
func (c *Chain) sweepStale(nowMs uint64) {
	if c.timestampMs == nil {
		return
	}
	staleMs := uint64(node.StaleTimeout.Milliseconds())
	if nowMs < staleMs {
		return
	}
	threshold := nowMs - staleMs
	if *c.timestampMs > threshold {
		return
	}

	var best, finalized telemetry.Block
	var timestamp *uint64

	c.Nodes.Each(func(id NodeId, n *node.Node) {
		if n.UpdateStale(threshold) {
			c.serializer.Push(feed.ActionStaleNode, id)
			return
		}
		if n.Best.Block.Height > best.Height {
			best = n.Best.Block
			ts := uint64(n.Best.BlockTimestampMs)
			timestamp = &ts
		}
		if n.Finalized.Height > finalized.Height {
			finalized = n.Finalized
		}
	})

	if c.Best.Height != 0 || c.Finalized.Height != 0 {
		c.Best = best
		c.Finalized = finalized
		c.blockTimes.Reset()
		c.timestampMs = timestamp

		ts := nowMs
		if timestamp != nil {
			ts = *timestamp
		}
		c.serializer.Push(feed.ActionBestBlock, c.Best.Height, ts, c.AverageBlockTimeMs)
		c.serializer.Push(feed.ActionBestFinalized, c.Finalized.Height, c.Finalized.Hash)
	}
}

// TakeFeedBatch drains the accumulated feed messages for broadcast to
// every subscriber of this chain.
func (c *Chain) TakeFeedBatch() ([]byte, bool) {
	return c.serializer.Finalize()
}

// TakeFinalityBatch drains the accumulated raw-GRANDPA feed messages
// (AfgFinalized, AfgReceivedPrevote/Precommit) meant only for feeds that
// opted into the finality stream via send-finality.
func (c *Chain) TakeFinalityBatch() ([]byte, bool) {
	return c.finalitySerializer.Finalize()
}

// snapshotFlushEvery is how many nodes Snapshot batches per frame,
// matching the original's Handler<Subscribe> ("send batches of 32
// nodes a time over the wire").
const snapshotFlushEvery = 32

// Snapshot builds the frames a newly subscribing feed needs to catch up
// on this chain's current state: subscription confirmation, time sync,
// chain head, then every node in batches of 32. The caller (the
// aggregator) is responsible for delivering the frames, in order, to
// the subscribing feed alone.
func (c *Chain) Snapshot(nowMs uint64) [][]byte {
	s := feed.NewSerializer()
	s.Push(feed.ActionSubscribedTo, c.Label)
	s.Push(feed.ActionTimeSync, nowMs)
	var timestamp uint64
	if c.timestampMs != nil {
		timestamp = *c.timestampMs
	}
	s.Push(feed.ActionBestBlock, c.Best.Height, timestamp, c.AverageBlockTimeMs)
	s.Push(feed.ActionBestFinalized, c.Finalized.Height, c.Finalized.Hash)

	var frames [][]byte
	idx := 0
	c.Nodes.Each(func(id NodeId, n *node.Node) {
		if idx%snapshotFlushEvery == 0 {
			if frame, ok := s.Finalize(); ok {
				frames = append(frames, frame)
			}
		}
		idx++

		s.Push(feed.ActionAddedNode, addedNodeRow(id, n)...)
		s.Push(feed.ActionFinalizedBlock, id, n.Finalized.Height, n.Finalized.Hash)
		if n.Stale {
			s.Push(feed.ActionStaleNode, id)
		}
	})

	if frame, ok := s.Finalize(); ok {
		frames = append(frames, frame)
	}
	return frames
}
