package syncer

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/holiman/uint256"
	"github.com/iron-fish/ironfish-sub009/common"
)

// episodeOutcome tells OnTick/the state machine what should happen
// after one fetchEpisode call returns.
type episodeOutcome int

const (
	episodeContinue   episodeOutcome = iota // window drained cleanly mid-episode (should not normally escape fetchEpisode)
	episodeCompleted                        // remote had no more blocks; return to Idle
	episodeFailed                           // protocol violation or validator rejection; return to Idle
	episodeAborted                          // ErrAbortSync observed; stop() is in progress
	episodeRemeasure                        // remeasure_deadline elapsed; re-elect, seeding this loader first
)

// fetchEpisode runs the pipelined, windowed block download described
// in spec.md §4.4, starting just after the given ancestor. It returns
// once the episode ends: the remote ran out of blocks, a block came
// back as an orphan, the loader misbehaved, a wire request failed, the
// remeasure deadline elapsed, or the syncer was stopped.
func (s *Syncer) fetchEpisode(ctx context.Context, peer common.PeerID, ancestor AncestorResult) (episodeOutcome, error) {
	window := &FetchWindow{StartHash: ancestor.Hash, StartSequence: ancestor.Sequence}
	currentHash := ancestor.Hash
	currentSeq := ancestor.Sequence
	// seen guards against a peer resending a hash already applied
	// this episode, independent of the sequence-contiguity check,
	// which only catches gaps and reorderings, not replays.
	seen := mapset.NewThreadUnsafeSet[common.Hash](ancestor.Hash)

	if s.remeasureElapsed() {
		return episodeRemeasure, nil
	}
	resp, err := s.requestBatch(ctx, peer, currentHash, window)
	if err != nil {
		return s.classifyFetchErr(err)
	}

	for {
		if !s.isLoader(peer) {
			return episodeAborted, ErrAbortSync
		}
		if len(resp.Blocks) == 0 {
			s.peers.Punish(ctx, peer, scoreFor(ReasonEmptyBlockBatch), ReasonEmptyBlockBatch)
			return episodeFailed, &ProtocolViolation{Reason: ReasonEmptyBlockBatch}
		}

		// Pipelining: optimistically issue the next request, anchored
		// at the last block of this batch, before applying this batch
		// (spec.md §4.4 "Pipelining"). The remeasure deadline is only
		// consulted here, at the scheduling of the next request; it
		// never preempts the application of a batch already in hand.
		var nextResp *BlocksResponse
		var nextErr error
		deferredRemeasure := false
		if resp.IsFull {
			if s.remeasureElapsed() {
				deferredRemeasure = true
			} else {
				nextAnchor := resp.Blocks[len(resp.Blocks)-1].Header.Hash
				r, err := s.requestBatch(ctx, peer, nextAnchor, window)
				if err != nil {
					nextErr = err
				} else {
					nextResp = &r
				}
			}
		}

		for _, b := range resp.Blocks[1:] { // skip the anchor, already applied
			if !s.isLoader(peer) {
				return episodeAborted, ErrAbortSync
			}

			if b.Header.Sequence != currentSeq+1 {
				s.peers.Punish(ctx, peer, scoreFor(ReasonOutOfSequenceBlock), ReasonOutOfSequenceBlock)
				return episodeFailed, &ProtocolViolation{Reason: ReasonOutOfSequenceBlock}
			}
			if seen.Contains(b.Header.Hash) {
				window.SkippedCount++
				continue
			}

			result, err := s.chain.AddBlock(ctx, b)
			if err != nil {
				return episodeFailed, err
			}

			switch result.Outcome {
			case Added:
				window.AppliedCount++
				currentHash, currentSeq = b.Header.Hash, b.Header.Sequence
				seen.Add(b.Header.Hash)
				s.bumpPeerTip(ctx, peer, b.Header)
				s.metrics.RecordApplied(1)
			case Duplicate:
				window.SkippedCount++
			case Orphan:
				s.log.Info("orphan block during fetch, ending episode", "peer", peer, "hash", b.Header.Hash)
				return episodeCompleted, nil
			case Invalid:
				s.peers.Punish(ctx, peer, result.Score, result.Reason)
				return episodeFailed, &ValidatorRejection{Reason: result.Reason, Score: result.Score}
			}
		}

		if !resp.IsFull {
			return episodeCompleted, nil
		}
		if deferredRemeasure {
			return episodeRemeasure, nil
		}
		if nextErr != nil {
			return s.classifyFetchErr(nextErr)
		}
		resp = *nextResp
	}
}

// requestBatch issues one get_blocks(WINDOW+1) call and marks the
// window's single outstanding-request slot around it, per spec.md §3
// FetchWindow invariant ("at most one outstanding block request per
// loader").
func (s *Syncer) requestBatch(ctx context.Context, peer common.PeerID, startHash common.Hash, window *FetchWindow) (BlocksResponse, error) {
	window.OutstandingRequest = true
	defer func() { window.OutstandingRequest = false }()

	resp, err := s.wire.GetBlocks(ctx, peer, startHash, s.cfg.BlocksPerRequest+1)
	if err != nil {
		return BlocksResponse{}, err
	}
	return resp, nil
}

// bumpPeerTip updates the loader's advertised tip when a newly
// applied block exceeds it (spec.md §4.4).
func (s *Syncer) bumpPeerTip(ctx context.Context, peer common.PeerID, h BlockHeader) {
	current, ok, err := s.peers.GetPeer(ctx, peer)
	if err != nil || !ok {
		return
	}
	work := h.Work
	if work == nil {
		work = uint256.NewInt(0)
	}
	if h.Sequence > current.Tip.Sequence || current.Tip.WorkOrZero().Cmp(work) < 0 {
		s.peers.UpdateTip(ctx, peer, Tip{Hash: h.Hash, Sequence: h.Sequence, Work: work})
	}
}

// isLoader re-checks the cancellation condition required around every
// suspension point (spec.md §4.4 "Cancellation", §5).
func (s *Syncer) isLoader(peer common.PeerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == Syncing && s.loader != nil && *s.loader == peer
}

// classifyFetchErr turns a raw wire error into the episode outcome
// and TransientWireFailure the caller surfaces, unless ctx was
// already cancelled, in which case this is a cooperative abort.
func (s *Syncer) classifyFetchErr(err error) (episodeOutcome, error) {
	if err == context.Canceled || err == ErrAbortSync {
		return episodeAborted, ErrAbortSync
	}
	return episodeFailed, &TransientWireFailure{Err: err}
}
