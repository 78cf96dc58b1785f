package syncer

import (
	"context"
	"math/rand"
	"time"

	"github.com/iron-fish/ironfish-sub009/common"
)

// measure implements spec.md §4.2: filter, shuffle (seeding the
// previous loader first), probe candidates in that order until
// CandidatesPerMeasurement of them have a recorded RTT (fresh or from
// the RTT cache), and elect the one with the smallest round-trip time.
//
// It returns ErrNoCandidates if no peer qualifies.
func (s *Syncer) measure(ctx context.Context, previousLoader *common.PeerID) (common.PeerID, MeasurementResult, error) {
	log := s.log.With("component", "measurer")

	peers, err := s.peers.ConnectedPeers(ctx)
	if err != nil {
		return "", nil, err
	}

	head, err := s.chain.Head(ctx)
	if err != nil {
		return "", nil, err
	}

	candidates := s.filterCandidates(peers, head.Tip())
	if len(candidates) == 0 {
		return "", nil, ErrNoCandidates
	}
	if len(candidates) == 1 {
		log.Debug("single qualifying candidate, skipping probes", "peer", candidates[0].ID)
		return candidates[0].ID, MeasurementResult{}, nil
	}

	order := s.shuffleWithPreviousFirst(candidates, previousLoader)

	result := make(MeasurementResult)
	for _, cand := range order {
		if len(result) >= s.cfg.CandidatesPerMeasurement {
			break
		}
		select {
		case <-ctx.Done():
			return "", nil, ErrAbortSync
		default:
		}

		current, ok, err := s.peers.GetPeer(ctx, cand.ID)
		if err != nil || !ok || current.State != Connected {
			log.Debug("peer unavailable during measurement, skipping", "peer", cand.ID)
			continue
		}

		if v, ok := s.rttCache.Get(cand.ID); ok {
			cached := v.(rttCacheEntry)
			if time.Since(cached.at) < rttCacheTTL {
				result[cand.ID] = cached.rtt
				continue
			}
		}

		resp, err := s.wire.GetBlockHeaders(ctx, cand.ID, GenesisSequence, 1)
		if err != nil {
			log.Debug("measurement probe failed, skipping", "peer", cand.ID, "err", err)
			continue
		}
		if len(resp.Headers) != 1 {
			s.peers.Punish(ctx, cand.ID, scoreFor(ReasonInvalidMeasurementResponse), ReasonInvalidMeasurementResponse)
			s.peers.Close(ctx, cand.ID, &ProtocolViolation{Reason: ReasonInvalidMeasurementResponse})
			continue
		}
		genesis, err := s.chain.Genesis(ctx)
		if err != nil {
			return "", nil, err
		}
		if resp.Headers[0].Hash != genesis.Hash {
			s.peers.Punish(ctx, cand.ID, scoreFor(ReasonInvalidMeasurementResponse), ReasonInvalidMeasurementResponse)
			s.peers.Close(ctx, cand.ID, &ProtocolViolation{Reason: ReasonInvalidMeasurementResponse})
			continue
		}
		result[cand.ID] = resp.ElapsedMS
		s.rttCache.Add(cand.ID, rttCacheEntry{rtt: resp.ElapsedMS, at: time.Now()})
	}

	if len(result) == 0 {
		return "", nil, ErrNoCandidates
	}

	elected := electSmallestRTT(order, result)
	return elected, result, nil
}

// filterCandidates applies the eligibility rule from spec.md §4.2
// step 1, plus the optional display-name allowlist from SPEC_FULL.md
// §10.2.
func (s *Syncer) filterCandidates(peers []PeerHandle, head ChainHead) []PeerHandle {
	var allow map[string]bool
	if len(s.cfg.SyncingPeerFilter) > 0 {
		allow = make(map[string]bool, len(s.cfg.SyncingPeerFilter))
		for _, name := range s.cfg.SyncingPeerFilter {
			allow[name] = true
		}
	}

	out := make([]PeerHandle, 0, len(peers))
	for _, p := range peers {
		if p.State != Connected || !p.SupportsSyncing {
			continue
		}
		if p.Tip.WorkOrZero().Cmp(head.WorkOrZero()) <= 0 {
			continue
		}
		if allow != nil && !allow[p.DisplayName] {
			continue
		}
		out = append(out, p)
	}
	return out
}

// shuffleWithPreviousFirst randomizes candidate order, then moves a
// still-qualifying previous loader to the front so good neighbors
// survive across measurements (spec.md §4.2 step 3).
func (s *Syncer) shuffleWithPreviousFirst(candidates []PeerHandle, previousLoader *common.PeerID) []PeerHandle {
	order := make([]PeerHandle, len(candidates))
	copy(order, candidates)
	s.rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	if previousLoader == nil {
		return order
	}
	for i, p := range order {
		if p.ID == *previousLoader {
			order = append(order[:i:i], order[i+1:]...)
			order = append([]PeerHandle{p}, order...)
			break
		}
	}
	return order
}

// electSmallestRTT returns the peer with the smallest recorded RTT.
// Ties resolve in favor of the earlier-probed peer (order is the
// shuffle order with the previous loader seeded first, so a previous
// loader wins ties per spec.md §4.2 step 5).
func electSmallestRTT(order []PeerHandle, result MeasurementResult) common.PeerID {
	var best common.PeerID
	bestRTT := int64(-1)
	for _, p := range order {
		rtt, ok := result[p.ID]
		if !ok {
			continue
		}
		if bestRTT == -1 || rtt < bestRTT {
			best = p.ID
			bestRTT = rtt
		}
	}
	return best
}

// newRand returns the per-syncer randomization source used for
// candidate shuffling, satisfying spec.md §4.2's "randomization
// source" input.
func newRand() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
