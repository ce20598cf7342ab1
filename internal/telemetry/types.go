// Package telemetry holds the wire-level value types shared by every
// subsystem: block identity, node details, and the scalar fields nodes
// report about themselves.
package telemetry

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// BlockHash is a 32-byte opaque chain identifier, compared by value.
type BlockHash [32]byte

// String renders the hash as "0x" + lowercase hex, matching what the
// dashboard and the wire protocol both expect.
func (h BlockHash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h BlockHash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *BlockHash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return h.UnmarshalText([]byte(s))
}

func (h *BlockHash) UnmarshalText(text []byte) error {
	s := string(text)
	if len(s) >= 2 && s[0:2] == "0x" {
		s = s[2:]
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid block hash %q: %w", string(text), err)
	}
	if len(decoded) != len(h) {
		return fmt.Errorf("invalid block hash length %q: got %d bytes, want %d", string(text), len(decoded), len(h))
	}
	copy(h[:], decoded)
	return nil
}

// BlockNumber is a chain height.
type BlockNumber uint64

// Timestamp is milliseconds since the Unix epoch.
type Timestamp uint64

// Block identifies a single block. The zero value is height 0 at the
// all-zero hash, matching an unset "best"/"finalized" slot.
type Block struct {
	Hash   BlockHash   `json:"hash"`
	Height BlockNumber `json:"height"`
}

// IsZero reports whether b is the unset zero block.
func (b Block) IsZero() bool {
	return b.Height == 0 && b.Hash == BlockHash{}
}

// NodeDetails is the immutable-after-add identity a node asserts on
// system.connected. Chain is the node's own human label, not a
// canonical identifier — State/Chain dedupe it via MostSeenLabel.
type NodeDetails struct {
	Chain          string  `json:"chain"`
	Name           string  `json:"name"`
	Implementation string  `json:"implementation"`
	Version        string  `json:"version"`
	Validator      *string `json:"validator,omitempty"`
	NetworkID      *string `json:"networkId,omitempty"`
	StartupTime    *string `json:"startupTime,omitempty"`
}

// Location is a geolocation result handed back by the Locator.
type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	City      string  `json:"city"`
}
