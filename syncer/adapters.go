package syncer

import (
	"context"

	"github.com/iron-fish/ironfish-sub009/common"
)

// AddBlockOutcome is the validator's verdict on one block, returned
// by ChainStore.AddBlock.
type AddBlockOutcome int

const (
	Added AddBlockOutcome = iota
	Orphan
	Duplicate
	Invalid
)

// AddBlockResult carries the outcome plus, for Invalid, the
// misbehavior score and reason the validator assigned.
type AddBlockResult struct {
	Outcome AddBlockOutcome
	Score   int
	Reason  string
}

// ChainStore is the local chain: the block validator and storage
// layer, consumed only through this interface. Implemented elsewhere
// in the node; out of scope here.
type ChainStore interface {
	Genesis(ctx context.Context) (BlockHeader, error)
	Head(ctx context.Context) (BlockHeader, error)
	GetHeader(ctx context.Context, hash common.Hash) (BlockHeader, bool, error)
	IsOnMainChain(ctx context.Context, header BlockHeader) (bool, error)
	AddBlock(ctx context.Context, block Block) (AddBlockResult, error)
}

// PeerManager owns the peer table. The core holds no lock across a
// suspension point against it.
//
// UpdateTip is not named in spec.md §4.6, which lists only the
// read/punish/close surface; it is added here to give the block
// fetcher's "update the peer's advertised tip if this block exceeds
// it" requirement (spec.md §4.4) a concrete contract method, per
// design note in spec.md §9 that dynamic peer mutation must go
// through an owned update, never a lock-protected in-place write.
type PeerManager interface {
	ConnectedPeers(ctx context.Context) ([]PeerHandle, error)
	GetPeer(ctx context.Context, id common.PeerID) (PeerHandle, bool, error)
	Punish(ctx context.Context, id common.PeerID, score int, reason string)
	Close(ctx context.Context, id common.PeerID, err error)
	UpdateTip(ctx context.Context, id common.PeerID, tip Tip)
}

// HeadersResponse is the result of a header-by-sequence request.
type HeadersResponse struct {
	Headers   []BlockHeader
	ElapsedMS int64
}

// BlocksResponse is the result of a blocks-from-hash request.
// IsFull is true iff len(Blocks) == the requested limit.
type BlocksResponse struct {
	Blocks    []Block
	ElapsedMS int64
	IsFull    bool
}

// WireProtocol is the block/header request protocol. Both methods may
// fail; a failure is treated as loader failure by the caller.
type WireProtocol interface {
	GetBlockHeaders(ctx context.Context, peer common.PeerID, startSequence uint64, count int) (HeadersResponse, error)
	GetBlocks(ctx context.Context, peer common.PeerID, startHash common.Hash, limit int) (BlocksResponse, error)
}
