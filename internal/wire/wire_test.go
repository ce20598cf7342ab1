package wire

import (
	"testing"

	"github.com/odin-telemetry/core/internal/telemetry"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := Message{
		Kind: KindAddNode,
		AddNode: &AddNode{
			LocalId: 42,
			IP:      "10.0.0.1",
			Node: telemetry.NodeDetails{
				Chain:          "Polkadot",
				Name:           "node-a",
				Implementation: "substrate",
				Version:        "1.0.0",
			},
			GenesisHash: telemetry.BlockHash{1, 2, 3},
		},
	}

	frame, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.Kind != KindAddNode {
		t.Fatalf("Kind = %v, want KindAddNode", decoded.Kind)
	}
	if decoded.AddNode == nil || decoded.AddNode.LocalId != 42 || decoded.AddNode.Node.Chain != "Polkadot" {
		t.Fatalf("AddNode = %+v, want round-tripped original", decoded.AddNode)
	}
}

func TestEncodeDecodeMute(t *testing.T) {
	frame, err := Encode(Message{Kind: KindMute, Mute: &Mute{LocalId: 7, Reason: MuteOverquota}})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	decoded, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.Mute == nil || decoded.Mute.Reason != MuteOverquota {
		t.Fatalf("Mute = %+v, want Overquota", decoded.Mute)
	}
}
