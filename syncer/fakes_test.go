package syncer

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/iron-fish/ironfish-sub009/common"
)

// fakeChain is a minimal in-memory ChainStore, in the spirit of
// go-ethereum's downloadTester: a single linear main chain. Only
// applied blocks are stored; a block whose parent is not on the main
// chain is reported as an orphan and dropped, since this fake has no
// side chain bookkeeping.
type fakeChain struct {
	mu       sync.Mutex
	headers  map[common.Hash]BlockHeader
	seqIndex map[uint64]common.Hash
	headSeq  uint64
	invalid  map[common.Hash]AddBlockResult
}

func hashForSeq(label string, seq uint64) common.Hash {
	return common.BytesToHash([]byte(fmt.Sprintf("%s-%d", label, seq)))
}

func newFakeChain() *fakeChain {
	g := BlockHeader{Hash: hashForSeq("genesis", GenesisSequence), Sequence: GenesisSequence, Work: uint256.NewInt(0)}
	return &fakeChain{
		headers:  map[common.Hash]BlockHeader{g.Hash: g},
		seqIndex: map[uint64]common.Hash{GenesisSequence: g.Hash},
		headSeq:  GenesisSequence,
		invalid:  map[common.Hash]AddBlockResult{},
	}
}

func (c *fakeChain) Genesis(ctx context.Context) (BlockHeader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headers[c.seqIndex[GenesisSequence]], nil
}

func (c *fakeChain) Head(ctx context.Context) (BlockHeader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headers[c.seqIndex[c.headSeq]], nil
}

func (c *fakeChain) GetHeader(ctx context.Context, hash common.Hash) (BlockHeader, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.headers[hash]
	return h, ok, nil
}

func (c *fakeChain) IsOnMainChain(ctx context.Context, header BlockHeader) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.seqIndex[header.Sequence]
	return ok && h == header.Hash, nil
}

func (c *fakeChain) AddBlock(ctx context.Context, block Block) (AddBlockResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := block.Header.Hash
	if _, ok := c.headers[h]; ok {
		return AddBlockResult{Outcome: Duplicate}, nil
	}
	if res, ok := c.invalid[h]; ok {
		return res, nil
	}
	parent, ok := c.headers[block.Header.PreviousHash]
	if !ok || c.seqIndex[parent.Sequence] != parent.Hash || block.Header.Sequence != parent.Sequence+1 {
		return AddBlockResult{Outcome: Orphan}, nil
	}

	c.headers[h] = block.Header
	c.seqIndex[block.Header.Sequence] = h
	if block.Header.Sequence > c.headSeq {
		c.headSeq = block.Header.Sequence
	}
	return AddBlockResult{Outcome: Added}, nil
}

func (c *fakeChain) markInvalid(hash common.Hash, score int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalid[hash] = AddBlockResult{Outcome: Invalid, Score: score, Reason: reason}
}

// headAt reports the fake chain's current head.
func (c *fakeChain) headAt() BlockHeader {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headers[c.seqIndex[c.headSeq]]
}

// makeRemoteChain builds n headers atop label/genesis, independent of
// any fakeChain instance, for use as the content of a fakeWire peer.
func makeRemoteChain(label string, n int) []BlockHeader {
	headers := make([]BlockHeader, 0, n+1)
	headers = append(headers, BlockHeader{Hash: hashForSeq("genesis", GenesisSequence), Sequence: GenesisSequence, Work: uint256.NewInt(0)})
	for i := 1; i <= n; i++ {
		seq := GenesisSequence + uint64(i)
		headers = append(headers, BlockHeader{
			Hash:         hashForSeq(label, seq),
			PreviousHash: headers[i-1].Hash,
			Sequence:     seq,
			Work:         uint256.NewInt(uint64(i)),
		})
	}
	return headers
}

// fakePeers is an in-memory PeerManager.
type fakePeers struct {
	mu       sync.Mutex
	peers    map[common.PeerID]PeerHandle
	punished map[common.PeerID][]string
	closedBy map[common.PeerID]error
}

func newFakePeers() *fakePeers {
	return &fakePeers{
		peers:    map[common.PeerID]PeerHandle{},
		punished: map[common.PeerID][]string{},
		closedBy: map[common.PeerID]error{},
	}
}

func (p *fakePeers) add(h PeerHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peers[h.ID] = h
}

func (p *fakePeers) ConnectedPeers(ctx context.Context) ([]PeerHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PeerHandle, 0, len(p.peers))
	for _, h := range p.peers {
		if h.State == Connected {
			out = append(out, h)
		}
	}
	return out, nil
}

func (p *fakePeers) GetPeer(ctx context.Context, id common.PeerID) (PeerHandle, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.peers[id]
	return h, ok, nil
}

func (p *fakePeers) Punish(ctx context.Context, id common.PeerID, score int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.punished[id] = append(p.punished[id], reason)
	h := p.peers[id]
	h.BanScore += score
	p.peers[id] = h
}

func (p *fakePeers) Close(ctx context.Context, id common.PeerID, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closedBy[id] = err
	h := p.peers[id]
	h.State = Disconnected
	p.peers[id] = h
}

func (p *fakePeers) UpdateTip(ctx context.Context, id common.PeerID, tip Tip) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.peers[id]
	if !ok {
		return
	}
	h.Tip = tip
	p.peers[id] = h
}

func (p *fakePeers) wasPunished(id common.PeerID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.punished[id]) > 0
}

func (p *fakePeers) wasClosed(id common.PeerID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.closedBy[id]
	return ok
}

// fakeWire is an in-memory WireProtocol: each peer owns a fixed
// header chain it serves headers and blocks from, plus optional fault
// injectors for misbehavior scenarios.
type fakeWire struct {
	mu      sync.Mutex
	chains  map[common.PeerID][]BlockHeader
	rtt     map[common.PeerID]int64
	headers func(peer common.PeerID, startSeq uint64, count int, h []BlockHeader) (HeadersResponse, error)
	blocks  func(ctx context.Context, peer common.PeerID, startHash common.Hash, limit int, h []BlockHeader) (BlocksResponse, error)
}

func newFakeWire() *fakeWire {
	return &fakeWire{chains: map[common.PeerID][]BlockHeader{}, rtt: map[common.PeerID]int64{}}
}

func (w *fakeWire) setChain(peer common.PeerID, rttMS int64, headers []BlockHeader) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chains[peer] = headers
	w.rtt[peer] = rttMS
}

func (w *fakeWire) GetBlockHeaders(ctx context.Context, peer common.PeerID, startSequence uint64, count int) (HeadersResponse, error) {
	w.mu.Lock()
	chain := w.chains[peer]
	rtt := w.rtt[peer]
	fn := w.headers
	w.mu.Unlock()

	if fn != nil {
		return fn(peer, startSequence, count, chain)
	}

	var out []BlockHeader
	for _, h := range chain {
		if h.Sequence >= startSequence && len(out) < count {
			out = append(out, h)
		}
	}
	return HeadersResponse{Headers: out, ElapsedMS: rtt}, nil
}

func (w *fakeWire) GetBlocks(ctx context.Context, peer common.PeerID, startHash common.Hash, limit int) (BlocksResponse, error) {
	w.mu.Lock()
	chain := w.chains[peer]
	fn := w.blocks
	w.mu.Unlock()

	if fn != nil {
		return fn(ctx, peer, startHash, limit, chain)
	}

	idx := -1
	for i, h := range chain {
		if h.Hash == startHash {
			idx = i
			break
		}
	}
	if idx == -1 {
		return BlocksResponse{}, nil
	}
	end := idx + limit
	if end > len(chain) {
		end = len(chain)
	}
	blocks := make([]Block, 0, end-idx)
	for _, h := range chain[idx:end] {
		blocks = append(blocks, Block{Header: h})
	}
	return BlocksResponse{Blocks: blocks, IsFull: len(blocks) == limit}, nil
}
