// Package shardmsg defines the node-facing telemetry payloads accepted by
// ShardIngest (spec §4.1), grounded on the "msg"-tagged payload union the
// original telemetry nodes speak. The shard->core messages that carry
// them are defined in package wire.
package shardmsg

import (
	"encoding/json"
	"fmt"

	"github.com/odin-telemetry/core/internal/telemetry"
)

// ConnId is the per-websocket-connection multiplexing key a node message
// carries in its "id" field (spec §4.7); zero means the legacy
// single-node-per-connection form.
type ConnId uint64

// Envelope is the outer shape every node message parses into before its
// Payload is dispatched on "msg".
type Envelope struct {
	Id      ConnId
	Payload Payload
}

// Kind identifies the tagged variant carried by a node message.
type Kind string

const (
	KindSystemConnected  Kind = "system.connected"
	KindSystemInterval   Kind = "system.interval"
	KindBlockImport      Kind = "block.import"
	KindNotifyFinalized  Kind = "notify.finalized"
	KindAfgFinalized     Kind = "afg.finalized"
	KindAfgReceivedPrevote   Kind = "afg.received_prevote"
	KindAfgReceivedPrecommit Kind = "afg.received_precommit"
	KindAfgAuthoritySet      Kind = "afg.authority_set"
)

// Payload is the decoded form of one node message, with only the fields
// ShardIngest/Chain care about populated.
type Payload struct {
	Kind Kind

	SystemConnected *SystemConnected
	SystemInterval  *SystemInterval
	BlockImport     *telemetry.Block
	NotifyFinalized *NotifyFinalized
	AfgFinalized    *AfgFinalized
	AfgReceived     *AfgReceived // covers both prevote and precommit, Kind disambiguates
	AfgAuthoritySet *AfgAuthoritySet
}

// SystemConnected is the identity handshake every node sends first.
type SystemConnected struct {
	GenesisHash telemetry.BlockHash
	Node        telemetry.NodeDetails
}

// SystemInterval is the periodic stats/hardware heartbeat.
type SystemInterval struct {
	Peers                *uint64
	TxCount              *uint64
	BandwidthUpload      *float64
	BandwidthDownload    *float64
	FinalizedHeight      *telemetry.BlockNumber
	FinalizedHash        *telemetry.BlockHash
	Block                *telemetry.Block
	UsedStateCacheSize   *float32
}

// NotifyFinalized is a dedicated finalization notice some nodes send
// outside of SystemInterval.
type NotifyFinalized struct {
	Hash   telemetry.BlockHash
	Height string // decimal, parsed by the caller; nodes send it as a string
}

// AfgFinalized is a GRANDPA finality vote.
type AfgFinalized struct {
	FinalizedHash   telemetry.BlockHash
	FinalizedNumber string
}

// AfgReceived backs both afg.received_prevote and afg.received_precommit.
type AfgReceived struct {
	TargetHash   telemetry.BlockHash
	TargetNumber string
	Voter        *string
}

// AfgAuthoritySet carries the validator address a node votes under.
type AfgAuthoritySet struct {
	AuthorityID string
}

// wireEnvelope is the JSON shape accepted on the wire: either the legacy
// untagged form (no "id") or the newer {id, payload} form.
type wireEnvelope struct {
	Id      ConnId          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

type wirePayload struct {
	Msg string `json:"msg"`
}

// Decode parses one raw node message, tolerating both the legacy and
// id-tagged envelope shapes and ignoring message kinds it doesn't model.
func Decode(raw []byte) (Envelope, error) {
	var probe struct {
		Id      *ConnId         `json:"id"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Envelope{}, fmt.Errorf("decode node message envelope: %w", err)
	}

	body := raw
	var id ConnId
	if probe.Id != nil && len(probe.Payload) > 0 {
		id = *probe.Id
		body = probe.Payload
	}

	var tag wirePayload
	if err := json.Unmarshal(body, &tag); err != nil {
		return Envelope{}, fmt.Errorf("decode node message payload: %w", err)
	}

	payload, err := decodePayload(Kind(tag.Msg), body)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Id: id, Payload: payload}, nil
}

func decodePayload(kind Kind, body []byte) (Payload, error) {
	switch kind {
	case KindSystemConnected:
		var v SystemConnected
		if err := json.Unmarshal(body, &jsonSystemConnected{&v}); err != nil {
			return Payload{}, fmt.Errorf("decode system.connected: %w", err)
		}
		return Payload{Kind: kind, SystemConnected: &v}, nil
	case KindSystemInterval:
		var v SystemInterval
		if err := json.Unmarshal(body, &jsonSystemInterval{&v}); err != nil {
			return Payload{}, fmt.Errorf("decode system.interval: %w", err)
		}
		return Payload{Kind: kind, SystemInterval: &v}, nil
	case KindBlockImport:
		var v telemetry.Block
		if err := json.Unmarshal(body, &v); err != nil {
			return Payload{}, fmt.Errorf("decode block.import: %w", err)
		}
		return Payload{Kind: kind, BlockImport: &v}, nil
	case KindNotifyFinalized:
		var v jsonNotifyFinalized
		if err := json.Unmarshal(body, &v); err != nil {
			return Payload{}, fmt.Errorf("decode notify.finalized: %w", err)
		}
		return Payload{Kind: kind, NotifyFinalized: &NotifyFinalized{Hash: v.Best, Height: v.Height}}, nil
	case KindAfgFinalized:
		var v jsonAfgFinalized
		if err := json.Unmarshal(body, &v); err != nil {
			return Payload{}, fmt.Errorf("decode afg.finalized: %w", err)
		}
		return Payload{Kind: kind, AfgFinalized: &AfgFinalized{FinalizedHash: v.FinalizedHash, FinalizedNumber: v.FinalizedNumber}}, nil
	case KindAfgReceivedPrevote, KindAfgReceivedPrecommit:
		var v jsonAfgReceived
		if err := json.Unmarshal(body, &v); err != nil {
			return Payload{}, fmt.Errorf("decode %s: %w", kind, err)
		}
		return Payload{Kind: kind, AfgReceived: &AfgReceived{TargetHash: v.TargetHash, TargetNumber: v.TargetNumber, Voter: v.Voter}}, nil
	case KindAfgAuthoritySet:
		var v jsonAfgAuthoritySet
		if err := json.Unmarshal(body, &v); err != nil {
			return Payload{}, fmt.Errorf("decode afg.authority_set: %w", err)
		}
		return Payload{Kind: kind, AfgAuthoritySet: &AfgAuthoritySet{AuthorityID: v.AuthorityID}}, nil
	default:
		// Unknown/uninteresting kinds (txpool.import, aura.*, ...) are
		// accepted and simply carry no payload.
		return Payload{Kind: kind}, nil
	}
}

type jsonSystemConnected struct{ v *SystemConnected }

func (j *jsonSystemConnected) UnmarshalJSON(data []byte) error {
	var raw struct {
		GenesisHash    telemetry.BlockHash `json:"genesis_hash"`
		Chain          string              `json:"chain"`
		Name           string              `json:"name"`
		Implementation string              `json:"implementation"`
		Version        string              `json:"version"`
		Validator      *string             `json:"validator"`
		NetworkID      *string             `json:"network_id"`
		StartupTime    *string             `json:"startup_time"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	j.v.GenesisHash = raw.GenesisHash
	j.v.Node = telemetry.NodeDetails{
		Chain:          raw.Chain,
		Name:           raw.Name,
		Implementation: raw.Implementation,
		Version:        raw.Version,
		Validator:      raw.Validator,
		NetworkID:      raw.NetworkID,
		StartupTime:    raw.StartupTime,
	}
	return nil
}

type jsonSystemInterval struct{ v *SystemInterval }

func (j *jsonSystemInterval) UnmarshalJSON(data []byte) error {
	var raw struct {
		Peers              *uint64                `json:"peers"`
		TxCount            *uint64                `json:"txcount"`
		BandwidthUpload    *float64               `json:"bandwidth_upload"`
		BandwidthDownload  *float64               `json:"bandwidth_download"`
		FinalizedHeight    *telemetry.BlockNumber `json:"finalized_height"`
		FinalizedHash      *telemetry.BlockHash   `json:"finalized_hash"`
		Height             *telemetry.BlockNumber `json:"height"`
		Hash               *telemetry.BlockHash   `json:"best"`
		UsedStateCacheSize *float32               `json:"used_state_cache_size"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	j.v.Peers = raw.Peers
	j.v.TxCount = raw.TxCount
	j.v.BandwidthUpload = raw.BandwidthUpload
	j.v.BandwidthDownload = raw.BandwidthDownload
	j.v.FinalizedHeight = raw.FinalizedHeight
	j.v.FinalizedHash = raw.FinalizedHash
	j.v.UsedStateCacheSize = raw.UsedStateCacheSize
	if raw.Height != nil && raw.Hash != nil {
		j.v.Block = &telemetry.Block{Height: *raw.Height, Hash: *raw.Hash}
	}
	return nil
}

type jsonNotifyFinalized struct {
	Best   telemetry.BlockHash `json:"best"`
	Height string              `json:"height"`
}

type jsonAfgFinalized struct {
	FinalizedHash   telemetry.BlockHash `json:"finalized_hash"`
	FinalizedNumber string              `json:"finalized_number"`
}

type jsonAfgReceived struct {
	TargetHash   telemetry.BlockHash `json:"target_hash"`
	TargetNumber string              `json:"target_number"`
	Voter        *string             `json:"voter"`
}

type jsonAfgAuthoritySet struct {
	AuthorityID string `json:"authority_id"`
}

// BestBlock returns the block this payload reports as its chain head, if
// any (block.import messages, or the embedded block on system.interval).
func (p Payload) BestBlock() (telemetry.Block, bool) {
	switch p.Kind {
	case KindBlockImport:
		return *p.BlockImport, true
	case KindSystemInterval:
		if p.SystemInterval.Block != nil {
			return *p.SystemInterval.Block, true
		}
	}
	return telemetry.Block{}, false
}

// FinalizedBlock returns the block this payload reports as finalized, if
// any.
func (p Payload) FinalizedBlock() (telemetry.Block, bool) {
	switch p.Kind {
	case KindSystemInterval:
		if p.SystemInterval.FinalizedHash != nil && p.SystemInterval.FinalizedHeight != nil {
			return telemetry.Block{Hash: *p.SystemInterval.FinalizedHash, Height: *p.SystemInterval.FinalizedHeight}, true
		}
	case KindNotifyFinalized:
		var height uint64
		if _, err := fmt.Sscanf(p.NotifyFinalized.Height, "%d", &height); err == nil {
			return telemetry.Block{Hash: p.NotifyFinalized.Hash, Height: telemetry.BlockNumber(height)}, true
		}
	}
	return telemetry.Block{}, false
}
