package client

import (
	"github.com/vmihailenco/msgpack/v5"
)

// Control frames ride the per-peer data channel next to the media.
// They carry the flags the relay never sees: who is speaking, muted
// or deafened right now. msgpack keeps them a few bytes each, which
// matters at one frame per speaking flip times every peer.
const (
	ctrlState uint8 = 1
)

type stateFrame struct {
	Kind     uint8 `msgpack:"kind"`
	Speaking bool  `msgpack:"speaking"`
	Muted    bool  `msgpack:"muted"`
	Deafened bool  `msgpack:"deafened"`
}

func encodeState(speaking, muted, deafened bool) ([]byte, error) {
	return msgpack.Marshal(stateFrame{
		Kind:     ctrlState,
		Speaking: speaking,
		Muted:    muted,
		Deafened: deafened,
	})
}

func decodeFrame(data []byte) (stateFrame, error) {
	var f stateFrame
	err := msgpack.Unmarshal(data, &f)
	return f, err
}

// PeerState is the last known presence of one room member, assembled
// from the roster and the peer's own control frames.
type PeerState struct {
	Id       string
	Username string
	Speaking bool
	Muted    bool
	Deafened bool
	// Gone marks the final update for a member who left.
	Gone bool
}
