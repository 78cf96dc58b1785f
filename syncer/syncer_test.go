package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/iron-fish/ironfish-sub009/common"
	"github.com/iron-fish/ironfish-sub009/syncer/config"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.TickPeriod = time.Hour // tests drive ticks manually
	cfg.CandidatesPerMeasurement = 8
	cfg.LinearAncestorWindow = 3
	cfg.BlocksPerRequest = 5
	return cfg
}

func newTestSyncer(t *testing.T, chain *fakeChain, peers *fakePeers, wire *fakeWire) *Syncer {
	t.Helper()
	s := New(testConfig(), chain, peers, wire)
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		s.Stop()
		s.Close()
	})
	return s
}

// A 25-block remote chain with no forks syncs to completion in one
// Idle tick: election picks the sole candidate, the ancestor is
// genesis, and the windowed fetcher applies every block.
func TestSync_HappyPath25Blocks(t *testing.T) {
	chain := newFakeChain()
	peers := newFakePeers()
	wire := newFakeWire()

	remote := makeRemoteChain("peerA", 25)
	tip := remote[len(remote)-1]
	peers.add(PeerHandle{ID: "peerA", DisplayName: "peerA", State: Connected, SupportsSyncing: true, Tip: Tip{Hash: tip.Hash, Sequence: tip.Sequence, Work: tip.Work}})
	wire.setChain("peerA", 10, remote)

	s := newTestSyncer(t, chain, peers, wire)
	s.OnTick()

	require.Equal(t, uint64(26), chain.headAt().Sequence)
	require.Equal(t, Idle, s.Status().State)
	require.False(t, peers.wasPunished("peerA"))
}

// A peer whose chain forks at height 10 still converges: the ancestor
// finder must land exactly on block 10, not before or after.
func TestFindAncestor_ForkAtHeightTen(t *testing.T) {
	chain := newFakeChain()
	peers := newFakePeers()
	wire := newFakeWire()

	shared := makeRemoteChain("shared", 10)
	for _, h := range shared[1:] { // apply the shared prefix locally
		_, err := chain.AddBlock(context.Background(), Block{Header: h})
		require.NoError(t, err)
	}
	remote := append(append([]BlockHeader{}, shared...), makeForkTail(shared[len(shared)-1], "fork", 5)...)
	tip := remote[len(remote)-1]

	peers.add(PeerHandle{ID: "peerB", DisplayName: "peerB", State: Connected, SupportsSyncing: true, Tip: Tip{Hash: tip.Hash, Sequence: tip.Sequence, Work: tip.Work}})
	wire.setChain("peerB", 10, remote)

	s := New(testConfig(), chain, peers, wire)
	result, err := s.findAncestor(context.Background(), "peerB", Tip{Hash: tip.Hash, Sequence: tip.Sequence})
	require.NoError(t, err)
	require.Equal(t, uint64(10), result.Sequence)
	require.Equal(t, shared[len(shared)-1].Hash, result.Hash)
}

func makeForkTail(parent BlockHeader, label string, n int) []BlockHeader {
	out := make([]BlockHeader, 0, n)
	prev := parent
	for i := 1; i <= n; i++ {
		h := BlockHeader{
			Hash:         hashForSeq(label, parent.Sequence+uint64(i)),
			PreviousHash: prev.Hash,
			Sequence:     parent.Sequence + uint64(i),
		}
		out = append(out, h)
		prev = h
	}
	return out
}

// A peer that claims a header belongs to a sequence it does not
// (verified against the node's own copy of that block) is a protocol
// violation: the ancestor finder punishes the peer and returns a
// *ProtocolViolation. Closing the peer is left to finishEpisode, which
// this test does not reach.
func TestFindAncestor_SequenceLiePunishes(t *testing.T) {
	chain := newFakeChain()
	peers := newFakePeers()
	wire := newFakeWire()

	local := makeRemoteChain("shared", 5)
	for _, h := range local[1:] {
		_, err := chain.AddBlock(context.Background(), Block{Header: h})
		require.NoError(t, err)
	}
	genesisHash := local[0].Hash

	remote := makeRemoteChain("shared", 5)
	tip := remote[len(remote)-1]
	peers.add(PeerHandle{ID: "liar", DisplayName: "liar", State: Connected, SupportsSyncing: true, Tip: Tip{Hash: tip.Hash, Sequence: tip.Sequence}})
	wire.setChain("liar", 5, remote)

	// However the node asks, the peer always claims the genesis hash
	// belongs to the requested sequence — a lie as soon as a probe
	// asks for anything past genesis.
	wire.headers = func(peer common.PeerID, startSeq uint64, count int, h []BlockHeader) (HeadersResponse, error) {
		return HeadersResponse{Headers: []BlockHeader{{Hash: genesisHash, Sequence: startSeq}}, ElapsedMS: 5}, nil
	}

	s := New(testConfig(), chain, peers, wire)
	_, err := s.findAncestor(context.Background(), "liar", Tip{Hash: tip.Hash, Sequence: tip.Sequence})
	require.Error(t, err)

	_, ok := err.(*ProtocolViolation)
	require.True(t, ok)
	require.True(t, peers.wasPunished("liar"))
}

// An out-of-sequence block mid-batch is a protocol violation that
// ends the episode immediately.
func TestFetch_OutOfOrderBlockIsViolation(t *testing.T) {
	chain := newFakeChain()
	peers := newFakePeers()
	wire := newFakeWire()

	remote := makeRemoteChain("skippy", 4)
	remote[2].Sequence = 99 // corrupt the third header's claimed sequence

	tip := remote[len(remote)-1]
	peers.add(PeerHandle{ID: "skippy", DisplayName: "skippy", State: Connected, SupportsSyncing: true, Tip: Tip{Hash: tip.Hash, Sequence: tip.Sequence}})
	wire.setChain("skippy", 5, remote)

	s := New(testConfig(), chain, peers, wire)
	s.beginSyncing("skippy")
	outcome, err := s.fetchEpisode(context.Background(), "skippy", AncestorResult{Hash: remote[0].Hash, Sequence: remote[0].Sequence})

	require.Equal(t, episodeFailed, outcome)
	_, ok := err.(*ProtocolViolation)
	require.True(t, ok)
	require.True(t, peers.wasPunished("skippy"))
}

// Election among three candidates picks the smallest RTT, with a
// previous loader probed first so it can win ties.
func TestMeasure_ElectsSmallestRTT(t *testing.T) {
	chain := newFakeChain()
	peers := newFakePeers()
	wire := newFakeWire()

	for _, p := range []struct {
		id  common.PeerID
		rtt int64
	}{{"A", 50}, {"B", 30}, {"C", 40}} {
		remote := makeRemoteChain(string(p.id), 5)
		tip := remote[len(remote)-1]
		peers.add(PeerHandle{ID: p.id, DisplayName: string(p.id), State: Connected, SupportsSyncing: true, Tip: Tip{Hash: tip.Hash, Sequence: tip.Sequence, Work: tip.Work}})
		wire.setChain(p.id, p.rtt, remote)
	}

	s := New(testConfig(), chain, peers, wire)
	prev := common.PeerID("B")
	elected, result, err := s.measure(context.Background(), &prev)
	require.NoError(t, err)
	require.Equal(t, common.PeerID("B"), elected)
	require.Len(t, result, 3)
}

// A gossiped orphan block starts a sync from its origin peer while
// Idle, and the syncer ends up caught up with that peer.
func TestOnGossipBlock_OrphanStartsSync(t *testing.T) {
	chain := newFakeChain()
	peers := newFakePeers()
	wire := newFakeWire()

	remote := makeRemoteChain("gossiper", 6)
	tip := remote[len(remote)-1]
	peers.add(PeerHandle{ID: "gossiper", DisplayName: "gossiper", State: Connected, SupportsSyncing: true, Tip: Tip{Hash: tip.Hash, Sequence: tip.Sequence, Work: tip.Work}})
	wire.setChain("gossiper", 5, remote)

	s := newTestSyncer(t, chain, peers, wire)
	err := s.OnGossipBlock("gossiper", Block{Header: tip})
	require.NoError(t, err)
	require.Equal(t, tip.Sequence, chain.headAt().Sequence)
}

// Stop must not allow any block to be applied after it returns, even
// when a fetch is blocked mid-flight at the moment Stop is called.
func TestStop_NoBlockAppliedAfterReturn(t *testing.T) {
	chain := newFakeChain()
	peers := newFakePeers()
	wire := newFakeWire()

	remote := makeRemoteChain("slow", 25)
	tip := remote[len(remote)-1]
	peers.add(PeerHandle{ID: "slow", DisplayName: "slow", State: Connected, SupportsSyncing: true, Tip: Tip{Hash: tip.Hash, Sequence: tip.Sequence, Work: tip.Work}})
	wire.setChain("slow", 5, remote)

	inFlight := make(chan struct{})
	var once sync.Once
	wire.blocks = func(ctx context.Context, peer common.PeerID, startHash common.Hash, limit int, h []BlockHeader) (BlocksResponse, error) {
		once.Do(func() { close(inFlight) })
		<-ctx.Done() // a real wire call unblocks on cancellation, not before
		return BlocksResponse{}, ctx.Err()
	}

	s := New(testConfig(), chain, peers, wire)
	require.NoError(t, s.Start())
	t.Cleanup(s.Close)

	go s.OnTick()

	select {
	case <-inFlight:
	case <-time.After(time.Second):
		t.Fatal("fetch never reached the in-flight GetBlocks call")
	}

	s.Stop()

	require.Equal(t, GenesisSequence, chain.headAt().Sequence)
	require.False(t, peers.wasClosed("slow"))

	time.Sleep(10 * time.Millisecond)
	require.Equal(t, GenesisSequence, chain.headAt().Sequence)
}
