package syncer

import (
	"context"

	"github.com/iron-fish/ironfish-sub009/common"
)

// AncestorResult is the outcome of findAncestor: the highest block on
// both chains, and how many header requests it took to find it
// (spec.md §4.3, §8 invariant 6).
type AncestorResult struct {
	Hash         common.Hash
	Sequence     uint64
	RequestCount int
}

// findAncestor implements spec.md §4.3: a linear scan over the last
// few common heights, falling back to a binary search over
// [GenesisSequence, remote.Sequence]. Every probe either narrows the
// interval or terminates the loop, bounding total probes by
// LinearAncestorWindow + ceil(log2(remote.Sequence+1)).
func (s *Syncer) findAncestor(ctx context.Context, peer common.PeerID, remote Tip) (AncestorResult, error) {
	head, err := s.chain.Head(ctx)
	if err != nil {
		return AncestorResult{}, err
	}
	if head.Sequence == GenesisSequence {
		return AncestorResult{Hash: head.Hash, Sequence: head.Sequence, RequestCount: 0}, nil
	}

	requests := 0
	for i := 0; i < s.cfg.LinearAncestorWindow; i++ {
		select {
		case <-ctx.Done():
			return AncestorResult{}, ErrAbortSync
		default:
		}

		needle := minU64(head.Sequence, remote.Sequence) - uint64(2*i)
		if needle < GenesisSequence {
			continue
		}
		requests++

		resp, err := s.wire.GetBlockHeaders(ctx, peer, needle, 1)
		if err != nil {
			return AncestorResult{}, &TransientWireFailure{Err: err}
		}
		if len(resp.Headers) == 0 {
			continue
		}
		remoteHeader := resp.Headers[0]

		local, found, err := s.chain.GetHeader(ctx, remoteHeader.Hash)
		if err != nil {
			return AncestorResult{}, err
		}
		if !found {
			continue
		}
		onMain, err := s.chain.IsOnMainChain(ctx, local)
		if err != nil {
			return AncestorResult{}, err
		}
		if !onMain {
			continue
		}
		if local.Sequence != needle {
			s.peers.Punish(ctx, peer, scoreFor(ReasonHeaderNotMatchSequence), ReasonHeaderNotMatchSequence)
			return AncestorResult{}, &ProtocolViolation{Reason: ReasonHeaderNotMatchSequence}
		}
		return AncestorResult{Hash: local.Hash, Sequence: local.Sequence, RequestCount: requests}, nil
	}

	return s.findAncestorBinary(ctx, peer, remote, requests)
}

func (s *Syncer) findAncestorBinary(ctx context.Context, peer common.PeerID, remote Tip, priorRequests int) (AncestorResult, error) {
	lower := GenesisSequence
	upper := remote.Sequence
	requests := priorRequests

	var best *AncestorResult
	for lower <= upper {
		select {
		case <-ctx.Done():
			return AncestorResult{}, ErrAbortSync
		default:
		}

		needle := lower + (upper-lower)/2
		requests++

		resp, err := s.wire.GetBlockHeaders(ctx, peer, needle, 1)
		if err != nil {
			return AncestorResult{}, &TransientWireFailure{Err: err}
		}

		var onMain bool
		var local BlockHeader
		if len(resp.Headers) == 1 {
			found := false
			local, found, err = s.chain.GetHeader(ctx, resp.Headers[0].Hash)
			if err != nil {
				return AncestorResult{}, err
			}
			if found {
				onMain, err = s.chain.IsOnMainChain(ctx, local)
				if err != nil {
					return AncestorResult{}, err
				}
			}
		}

		if !onMain {
			if needle == GenesisSequence {
				s.peers.Punish(ctx, peer, scoreFor(ReasonInvalidGenesisBlock), ReasonInvalidGenesisBlock)
				return AncestorResult{}, &ProtocolViolation{Reason: ReasonInvalidGenesisBlock}
			}
			upper = needle - 1
			continue
		}

		if local.Sequence != needle {
			s.peers.Punish(ctx, peer, scoreFor(ReasonHeaderNotMatchSequence), ReasonHeaderNotMatchSequence)
			return AncestorResult{}, &ProtocolViolation{Reason: ReasonHeaderNotMatchSequence}
		}

		best = &AncestorResult{Hash: local.Hash, Sequence: local.Sequence, RequestCount: requests}
		lower = needle + 1
	}

	if best == nil {
		// No match was ever recorded. A rejected genesis probe already
		// returned above, so this is reached only when remote.Sequence
		// is below GenesisSequence (an unknown tip) and the loop never
		// ran; the peer is not punished on this path.
		return AncestorResult{}, &ProtocolViolation{Reason: ReasonInvalidGenesisBlock}
	}
	return *best, nil
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
