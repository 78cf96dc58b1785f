// Package syncer implements the block synchronization core of a
// proof-of-work full node: peer candidate selection, ancestor
// discovery, pipelined block fetching, and the state machine that
// drives them.
package syncer

import (
	"github.com/holiman/uint256"
	"github.com/iron-fish/ironfish-sub009/common"
)

// GenesisSequence is the height of the genesis block.
const GenesisSequence uint64 = 1

// ConnState is the connection state of a PeerHandle.
type ConnState int

const (
	Connected ConnState = iota
	Connecting
	Disconnected
)

func (s ConnState) String() string {
	switch s {
	case Connected:
		return "connected"
	case Connecting:
		return "connecting"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Tip is a chain tip: hash, height, and cumulative work. Any field
// may be unknown for a peer that has not yet advertised one; the zero
// value of Work is treated as "unknown" by comparisons in this
// package.
type Tip struct {
	Hash     common.Hash
	Sequence uint64
	Work     *uint256.Int
}

// WorkOrZero returns t.Work, or the zero value if t.Work is nil.
func (t Tip) WorkOrZero() *uint256.Int {
	if t.Work == nil {
		return uint256.NewInt(0)
	}
	return t.Work
}

// PeerHandle is the core's non-owning view of a connected peer. It is
// owned by the peer manager; the core must tolerate a peer
// disappearing between ticks (PeerManager.GetPeer returning false).
type PeerHandle struct {
	ID          common.PeerID
	DisplayName string
	State       ConnState
	Tip         Tip

	// SupportsSyncing is authoritative for loader eligibility per
	// spec.md §9: peers without this bit may be a gossip source but
	// are never elected as loader.
	SupportsSyncing bool

	BanScore int
}

// ChainHead is the local chain's current tip.
type ChainHead = Tip

// BlockHeader is the header of a single block.
type BlockHeader struct {
	Hash         common.Hash
	PreviousHash common.Hash
	Sequence     uint64
	Work         *uint256.Int
}

// WorkOrZero returns h.Work, or the zero value if h.Work is nil.
func (h BlockHeader) WorkOrZero() *uint256.Int {
	if h.Work == nil {
		return uint256.NewInt(0)
	}
	return h.Work
}

// Tip returns the Tip view of this header, for comparison against a
// peer's advertised Tip.
func (h BlockHeader) Tip() Tip {
	return Tip{Hash: h.Hash, Sequence: h.Sequence, Work: h.Work}
}

// Block is a header plus an opaque, validator-owned payload. The core
// never inspects Payload; it only forwards it to ChainStore.AddBlock.
type Block struct {
	Header  BlockHeader
	Payload any
}

// State is the tag of SyncerState.
type State int

const (
	Stopped State = iota
	Idle
	Measuring
	Syncing
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Idle:
		return "idle"
	case Measuring:
		return "measuring"
	case Syncing:
		return "syncing"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// FetchWindow is the in-flight bookkeeping for one Syncing episode.
// OutstandingRequest is set only while a request awaits a response;
// at most one outstanding block request may exist per loader.
type FetchWindow struct {
	StartHash          common.Hash
	StartSequence      uint64
	OutstandingRequest bool
	AppliedCount       int
	SkippedCount       int
}

// MeasurementResult is the ephemeral RTT table built during Measuring,
// discarded once a loader is elected.
type MeasurementResult map[common.PeerID]int64

// StatusSnapshot is the read-only observable state of spec.md §6.
type StatusSnapshot struct {
	State             State
	DownloadSpeed     float64
	ApplySpeed        float64
	LoaderDisplayName string
}
