package syncer

import (
	"context"
	"math/rand"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/iron-fish/ironfish-sub009/common"
	"github.com/iron-fish/ironfish-sub009/syncer/config"
	"github.com/iron-fish/ironfish-sub009/synclog"
	"github.com/iron-fish/ironfish-sub009/syncmetrics"
)

// rttCacheSize bounds the measurement RTT cache; a handful of peers
// beyond CandidatesPerMeasurement is plenty. The LRU evicts entries
// only by replacement; staleness is checked separately against
// rttCacheTTL when an entry is read.
const rttCacheSize = 256

// rttCacheTTL is how long a cached RTT is trusted before a fresh
// probe is required during the next measurement round.
const rttCacheTTL = 30 * time.Second

type rttCacheEntry struct {
	rtt int64
	at  time.Time
}

// Syncer owns the block synchronization state machine (spec.md §4.1).
// All state transitions happen on a single goroutine; exported
// methods submit work to it through a command channel and block until
// that command has run to completion, giving callers (including
// tests) the "exactly one logical tick at a time" guarantee from
// spec.md §4.1 without an explicit lock around the whole operation.
type Syncer struct {
	cfg      config.Config
	chain    ChainStore
	peers    PeerManager
	wire     WireProtocol
	log      synclog.Logger
	metrics  *syncmetrics.Registry
	rand     *rand.Rand
	rttCache *lru.Cache // keys are common.PeerID, values are rttCacheEntry

	mu                sync.RWMutex
	state             State
	loader            *common.PeerID
	window            *FetchWindow
	previousLoader    *common.PeerID
	remeasureDeadline time.Time
	measurementPhases int // global counter, spec.md §4.1 & §9 "never reset until stop()"

	cmds   chan cmdFunc
	cancel context.CancelFunc
	done   chan struct{}
}

type cmdFunc func(ctx context.Context)

// New constructs a Syncer in the Stopped state.
func New(cfg config.Config, chain ChainStore, peers PeerManager, wire WireProtocol) *Syncer {
	cache, _ := lru.New(rttCacheSize) // only errs on a non-positive size
	return &Syncer{
		cfg:      cfg,
		chain:    chain,
		peers:    peers,
		wire:     wire,
		log:      synclog.New("component", "syncer"),
		metrics:  syncmetrics.NewRegistry(),
		rand:     newRand(),
		rttCache: cache,
		state:    Stopped,
	}
}

// Start transitions Stopped -> Idle and launches the event loop
// (spec.md §4.1 "start()"). It fails with ErrAlreadyRunning if the
// syncer is not Stopped.
func (s *Syncer) Start() error {
	s.mu.Lock()
	if s.state != Stopped {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state = Idle
	s.measurementPhases = 0
	s.previousLoader = nil
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.cmds = make(chan cmdFunc)

	go s.run(ctx)
	return nil
}

// Stop transitions to Stopping, cancels any outstanding wire request,
// awaits the in-flight handler, then Stopped. Idempotent from
// Stopped/Stopping (spec.md §4.1 "stop()").
func (s *Syncer) Stop() {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return
	}
	s.state = Stopping
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	s.mu.Lock()
	s.state = Stopped
	s.loader = nil
	s.window = nil
	s.mu.Unlock()
}

// OnTick is the only state-advancing entry point besides Stop.
func (s *Syncer) OnTick() {
	s.submit(func(ctx context.Context) { s.doTick(ctx) })
}

// OnGossipBlock is the second legitimate entry point (spec.md §9): a
// gossiped block that the chain store reports as an orphan (its parent
// is unknown locally) may start a sync from its origin peer when the
// syncer is otherwise Idle.
func (s *Syncer) OnGossipBlock(peer common.PeerID, block Block) error {
	var result error
	s.submit(func(ctx context.Context) {
		result = s.handleGossip(ctx, peer, block)
	})
	return result
}

// Status returns a read-only snapshot of the observable state named
// in spec.md §6.
func (s *Syncer) Status() StatusSnapshot {
	s.mu.RLock()
	state := s.state
	loader := s.loader
	s.mu.RUnlock()

	snap := StatusSnapshot{State: state}
	if s.metrics != nil {
		m := s.metrics.Snapshot()
		snap.DownloadSpeed, snap.ApplySpeed = m.DownloadSpeed, m.ApplySpeed
	}
	if loader != nil {
		if peer, ok, err := s.peers.GetPeer(context.Background(), *loader); err == nil && ok {
			snap.LoaderDisplayName = peer.DisplayName
		}
	}
	return snap
}

// Close releases background resources (the metrics registry's
// ticker). Call after the syncer is Stopped.
func (s *Syncer) Close() {
	if s.metrics != nil {
		s.metrics.Close()
	}
}

func (s *Syncer) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.doTick(ctx)
		case c := <-s.cmds:
			c(ctx)
		}
	}
}

// submit enqueues fn on the loop goroutine and blocks until it has
// run, or the loop has already exited.
func (s *Syncer) submit(fn cmdFunc) bool {
	s.mu.RLock()
	cmds, doneCh := s.cmds, s.done
	s.mu.RUnlock()
	if cmds == nil {
		return false
	}

	finished := make(chan struct{})
	wrapped := func(ctx context.Context) {
		fn(ctx)
		close(finished)
	}

	select {
	case cmds <- wrapped:
	case <-doneCh:
		return false
	}
	select {
	case <-finished:
		return true
	case <-doneCh:
		return false
	}
}

// doTick implements the unconditional Idle -> Measuring transition;
// all other states are advanced synchronously to completion by the
// call that entered them (drive/runEpisode), so a tick observing
// Measuring or Syncing here would only happen if the loop were
// re-entered concurrently, which the single command channel prevents.
func (s *Syncer) doTick(ctx context.Context) {
	s.mu.RLock()
	state := s.state
	prev := s.previousLoader
	s.mu.RUnlock()

	if state != Idle {
		return
	}
	s.drive(ctx, prev)
}

// drive runs Measuring -> Syncing (possibly repeatedly across
// remeasurements) until the syncer lands back in Idle or is aborted.
func (s *Syncer) drive(ctx context.Context, prev *common.PeerID) {
	for {
		s.mu.Lock()
		s.state = Measuring
		s.mu.Unlock()

		elected, _, err := s.measure(ctx, prev)
		s.measurementPhases++
		if err != nil {
			s.toIdle(err)
			return
		}

		peer, ok, err := s.peers.GetPeer(ctx, elected)
		if err != nil || !ok {
			s.toIdle(err)
			return
		}
		head, err := s.chain.Head(ctx)
		if err != nil {
			s.toIdle(err)
			return
		}
		if peer.Tip.WorkOrZero().Cmp(head.WorkOrZero()) <= 0 {
			s.toIdle(nil)
			return
		}

		s.beginSyncing(elected)

		outcome, epErr := s.runEpisode(ctx, elected, peer.Tip, nil)
		switch outcome {
		case episodeRemeasure:
			id := elected
			prev = &id
			continue
		case episodeAborted:
			return
		default:
			s.finishEpisode(ctx, elected, epErr)
			return
		}
	}
}

func (s *Syncer) toIdle(err error) {
	if err == ErrAbortSync {
		return
	}
	s.mu.Lock()
	s.state = Idle
	s.mu.Unlock()
}

func (s *Syncer) beginSyncing(peer common.PeerID) {
	s.mu.Lock()
	s.state = Syncing
	id := peer
	s.loader = &id
	s.remeasureDeadline = s.nextRemeasureDeadline()
	s.mu.Unlock()
}

// nextRemeasureDeadline implements spec.md §4.1's exponential backoff:
// min(MaxMeasurementDelta, 60_000ms * 2^(n+1)), where n is the number
// of completed measurement phases. InitialMeasurementDelta is defined
// as the n=0 output (120_000ms), so the per-step base is half of it.
func (s *Syncer) nextRemeasureDeadline() time.Time {
	n := s.measurementPhases
	if n > 30 { // guard against shift overflow on a very long-lived node
		n = 30
	}
	base := s.cfg.InitialMeasurementDelta / 2
	delta := base * time.Duration(uint64(1)<<uint(n+1))
	if delta > s.cfg.MaxMeasurementDelta {
		delta = s.cfg.MaxMeasurementDelta
	}
	return time.Now().Add(delta)
}

func (s *Syncer) remeasureElapsed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.remeasureDeadline.IsZero() && time.Now().After(s.remeasureDeadline)
}

// runEpisode resolves the ancestor (optionally seeded by a gossip
// hint) and, unless already caught up with the peer, runs the
// pipelined block fetch.
func (s *Syncer) runEpisode(ctx context.Context, peer common.PeerID, remoteTip Tip, hint *common.Hash) (episodeOutcome, error) {
	ancestor, err := s.resolveAncestor(ctx, peer, remoteTip, hint)
	if err != nil {
		if err == ErrAbortSync {
			return episodeAborted, err
		}
		return episodeFailed, err
	}
	if ancestor.Hash == remoteTip.Hash && ancestor.Sequence == remoteTip.Sequence {
		return episodeCompleted, nil
	}
	return s.fetchEpisode(ctx, peer, ancestor)
}

func (s *Syncer) resolveAncestor(ctx context.Context, peer common.PeerID, remoteTip Tip, hint *common.Hash) (AncestorResult, error) {
	if hint != nil {
		if h, found, err := s.chain.GetHeader(ctx, *hint); err == nil && found {
			if onMain, err := s.chain.IsOnMainChain(ctx, h); err == nil && onMain {
				return AncestorResult{Hash: h.Hash, Sequence: h.Sequence, RequestCount: 0}, nil
			}
		}
	}
	return s.findAncestor(ctx, peer, remoteTip)
}

// finishEpisode implements the close/punish propagation rule from
// spec.md §7: ProtocolViolation, ValidatorRejection, and
// TransientWireFailure all close the peer before returning to Idle;
// a clean completion (err == nil) does not. The loader becomes the
// next Measuring phase's previous_loader either way (spec.md §3
// SyncerState data model).
func (s *Syncer) finishEpisode(ctx context.Context, peer common.PeerID, err error) {
	if err != nil && err != ErrAbortSync {
		s.peers.Close(ctx, peer, err)
	}
	s.mu.Lock()
	id := peer
	s.previousLoader = &id
	s.loader = nil
	s.window = nil
	s.state = Idle
	s.mu.Unlock()
}

func (s *Syncer) handleGossip(ctx context.Context, peer common.PeerID, block Block) error {
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	if state != Idle {
		return nil
	}

	result, err := s.chain.AddBlock(ctx, block)
	if err != nil {
		return err
	}

	switch result.Outcome {
	case Added:
		s.metrics.RecordApplied(1)
		return nil
	case Duplicate:
		return nil
	case Invalid:
		rej := &ValidatorRejection{Reason: result.Reason, Score: result.Score}
		s.peers.Punish(ctx, peer, result.Score, result.Reason)
		s.peers.Close(ctx, peer, rej)
		return rej
	case Orphan:
		return s.startSyncFromGossip(ctx, peer, block)
	default:
		return nil
	}
}

// startSyncFromGossip begins a Syncing episode directly from Idle,
// per spec.md §9's second entry point, seeding the ancestor search
// with the gossiped block's claimed parent as a hint.
func (s *Syncer) startSyncFromGossip(ctx context.Context, peer common.PeerID, block Block) error {
	handle, ok, err := s.peers.GetPeer(ctx, peer)
	if err != nil || !ok || handle.State != Connected {
		return nil
	}

	s.log.Info("starting sync from gossiped orphan", "peer", peer, "hash", block.Header.Hash)
	s.beginSyncing(peer)

	hint := block.Header.PreviousHash
	outcome, epErr := s.runEpisode(ctx, peer, handle.Tip, &hint)
	switch outcome {
	case episodeRemeasure:
		id := peer
		s.drive(ctx, &id)
	case episodeAborted:
	default:
		s.finishEpisode(ctx, peer, epErr)
	}
	return nil
}
