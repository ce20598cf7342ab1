// Package node holds per-node state: identity, latest block, stats,
// hardware time series, and the staleness/throttle bookkeeping the owning
// Chain drives.
package node

import (
	"time"

	"github.com/odin-telemetry/core/internal/meanlist"
	"github.com/odin-telemetry/core/internal/telemetry"
)

// ThrottleThreshold and ThrottleInterval implement the per-node
// ImportedBlock throttle from spec §4.4: a node producing blocks faster
// than once per ThrottleThreshold stops emitting ImportedBlock until
// ThrottleInterval has elapsed since the throttle engaged.
const (
	ThrottleThreshold = 100 * time.Millisecond
	ThrottleInterval  = 1000 * time.Millisecond
)

// StaleTimeout is how long a chain can go without a new best block before
// the stale sweep runs, and how old a node's own best-block timestamp can
// get before that node is individually marked stale.
const StaleTimeout = 120 * time.Second

// Stats are the node-reported counters from SystemInterval.
type Stats struct {
	Peers   uint64
	TxCount uint64
}

// Best is the node's most recently imported block plus its import timing.
type Best struct {
	Block              telemetry.Block
	BlockTimeMs        uint64
	BlockTimestampMs   telemetry.Timestamp
	PropagationTimeMs  *uint64
}

// Hardware holds the node's upload/download bandwidth and chart-timestamp
// series, each independently down-sampled.
type Hardware struct {
	Upload      *meanlist.MeanList[float64]
	Download    *meanlist.MeanList[float64]
	ChartStamps *meanlist.MeanList[float64]
}

// Node is one connected telemetry-reporting node.
type Node struct {
	Details telemetry.NodeDetails

	Stats Stats
	IO    *meanlist.MeanList[float32] // used_state_cache_size

	Best      Best
	Finalized telemetry.Block

	Hardware Hardware

	Location    *telemetry.Location
	Stale       bool
	StartupTime *telemetry.Timestamp

	// throttle tracks the ImportedBlock emission gate described above.
	throttling      bool
	throttleUntil   time.Time
	lastImportAt    time.Time
	hasLastImportAt bool
}

// New constructs a Node from its immutable connect-time details.
func New(details telemetry.NodeDetails) *Node {
	return &Node{
		Details: details,
		IO:      meanlist.New[float32](),
		Hardware: Hardware{
			Upload:      meanlist.New[float64](),
			Download:    meanlist.New[float64](),
			ChartStamps: meanlist.New[float64](),
		},
	}
}

// ObserveImport updates the throttle state for a newly imported block and
// reports whether ImportedBlock should be emitted for it (still records
// the import internally even when throttled).
func (n *Node) ObserveImport(now time.Time) bool {
	if n.hasLastImportAt {
		gap := now.Sub(n.lastImportAt)
		if gap < ThrottleThreshold {
			n.throttling = true
			n.throttleUntil = now.Add(ThrottleInterval)
		}
	}
	n.lastImportAt = now
	n.hasLastImportAt = true

	if n.throttling {
		if now.Before(n.throttleUntil) {
			return false
		}
		n.throttling = false
	}
	return true
}

// IsStaleAt reports whether the node's best-block timestamp is older than
// StaleTimeout relative to now, in milliseconds since the epoch.
func (n *Node) IsStaleAt(nowMs uint64) bool {
	return uint64(n.Best.BlockTimestampMs) < nowMs-uint64(StaleTimeout.Milliseconds())
}

// UpdateBlock records a newly reported block as the node's best if it is
// taller than what the node already has, returning whether it changed.
func (n *Node) UpdateBlock(b telemetry.Block) bool {
	if b.Height <= n.Best.Block.Height && !n.Best.Block.IsZero() {
		return false
	}
	n.Best.Block = b
	return true
}

// UpdateDetails stamps import timing onto the node's Best record and
// reports whether ImportedBlock should be emitted for it, honoring the
// throttle. BlockTimeMs is the gap from this node's previous import, mirroring
// the original's timestamp - previous_block_timestamp (state/node.rs).
func (n *Node) UpdateDetails(now time.Time, nowMs uint64, propagationMs *uint64) bool {
	if n.hasLastImportAt {
		prev := uint64(n.Best.BlockTimestampMs)
		if nowMs > prev {
			n.Best.BlockTimeMs = nowMs - prev
		}
	}
	n.Best.BlockTimestampMs = telemetry.Timestamp(nowMs)
	n.Best.PropagationTimeMs = propagationMs
	return n.ObserveImport(now)
}

// UpdateFinalized records a newly reported finalized block if it is taller
// than what the node already has, returning whether it changed.
func (n *Node) UpdateFinalized(b telemetry.Block) bool {
	if b.Height <= n.Finalized.Height && !n.Finalized.IsZero() {
		return false
	}
	n.Finalized = b
	return true
}

// UpdateStats overwrites the node's peers/txcount counters, returning
// whether either value changed.
func (n *Node) UpdateStats(peers, txCount *uint64) bool {
	changed := false
	if peers != nil && *peers != n.Stats.Peers {
		n.Stats.Peers = *peers
		changed = true
	}
	if txCount != nil && *txCount != n.Stats.TxCount {
		n.Stats.TxCount = *txCount
		changed = true
	}
	return changed
}

// UpdateIO pushes a used_state_cache_size sample, reporting whether one
// was recorded.
func (n *Node) UpdateIO(usedStateCacheSize *float32) bool {
	if usedStateCacheSize == nil {
		return false
	}
	n.IO.Push(*usedStateCacheSize)
	return true
}

// UpdateHardware pushes bandwidth samples, reporting whether either was
// recorded.
func (n *Node) UpdateHardware(upload, download *float64, nowMs uint64) bool {
	if upload == nil && download == nil {
		return false
	}
	if upload != nil {
		n.Hardware.Upload.Push(*upload)
	}
	if download != nil {
		n.Hardware.Download.Push(*download)
	}
	n.Hardware.ChartStamps.Push(float64(nowMs))
	return true
}

// UpdateLocation stores a located geolocation for this node.
func (n *Node) UpdateLocation(loc telemetry.Location) {
	n.Location = &loc
}

// SetValidatorAddress records the GRANDPA voting address this node
// announced on afg.authority_set.
func (n *Node) SetValidatorAddress(addr string) {
	n.Details.Validator = &addr
}

// UpdateStale marks the node stale if its best-block timestamp predates
// threshold, clearing staleness otherwise, and returns the resulting
// stale state.
func (n *Node) UpdateStale(thresholdMs uint64) bool {
	if uint64(n.Best.BlockTimestampMs) > thresholdMs {
		n.Stale = false
		return false
	}
	n.Stale = true
	return true
}
