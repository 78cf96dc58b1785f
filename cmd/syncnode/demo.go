package main

import (
	"context"
	"sync"

	"github.com/iron-fish/ironfish-sub009/common"
	"github.com/iron-fish/ironfish-sub009/syncer"
)

// demoChainStore is a trivial linear ChainStore backing the syncnode
// demo: it has no fork choice, just a single append-only chain.
type demoChainStore struct {
	mu      sync.Mutex
	headers map[common.Hash]syncer.BlockHeader
	bySeq   map[uint64]common.Hash
	head    syncer.BlockHeader
}

func newDemoChain() *demoChainStore {
	genesis := syncer.BlockHeader{Hash: common.BytesToHash([]byte("demo-genesis")), Sequence: syncer.GenesisSequence}
	return &demoChainStore{
		headers: map[common.Hash]syncer.BlockHeader{genesis.Hash: genesis},
		bySeq:   map[uint64]common.Hash{syncer.GenesisSequence: genesis.Hash},
		head:    genesis,
	}
}

func (c *demoChainStore) Genesis(ctx context.Context) (syncer.BlockHeader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headers[c.bySeq[syncer.GenesisSequence]], nil
}

func (c *demoChainStore) Head(ctx context.Context) (syncer.BlockHeader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *demoChainStore) GetHeader(ctx context.Context, hash common.Hash) (syncer.BlockHeader, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.headers[hash]
	return h, ok, nil
}

func (c *demoChainStore) IsOnMainChain(ctx context.Context, header syncer.BlockHeader) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.bySeq[header.Sequence]
	return ok && h == header.Hash, nil
}

func (c *demoChainStore) AddBlock(ctx context.Context, block syncer.Block) (syncer.AddBlockResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.headers[block.Header.Hash]; ok {
		return syncer.AddBlockResult{Outcome: syncer.Duplicate}, nil
	}
	parent, ok := c.headers[block.Header.PreviousHash]
	if !ok || c.bySeq[parent.Sequence] != parent.Hash || block.Header.Sequence != parent.Sequence+1 {
		return syncer.AddBlockResult{Outcome: syncer.Orphan}, nil
	}

	c.headers[block.Header.Hash] = block.Header
	c.bySeq[block.Header.Sequence] = block.Header.Hash
	if block.Header.Sequence > c.head.Sequence {
		c.head = block.Header
	}
	return syncer.AddBlockResult{Outcome: syncer.Added}, nil
}

type demoPeerHandle struct {
	id   common.PeerID
	name string
	tip  syncer.Tip
}

// demoPeerManager is a fixed peer table with no real network
// connections; Punish() adds to the peer's BanScore and Close() marks
// the peer Disconnected, which drops it from ConnectedPeers().
type demoPeerManager struct {
	mu    sync.Mutex
	peers map[common.PeerID]syncer.PeerHandle
}

func newDemoPeers() *demoPeerManager {
	return &demoPeerManager{peers: map[common.PeerID]syncer.PeerHandle{}}
}

func (p *demoPeerManager) add(h demoPeerHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peers[h.id] = syncer.PeerHandle{
		ID:              h.id,
		DisplayName:     h.name,
		State:           syncer.Connected,
		Tip:             h.tip,
		SupportsSyncing: true,
	}
}

func (p *demoPeerManager) ConnectedPeers(ctx context.Context) ([]syncer.PeerHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]syncer.PeerHandle, 0, len(p.peers))
	for _, h := range p.peers {
		if h.State == syncer.Connected {
			out = append(out, h)
		}
	}
	return out, nil
}

func (p *demoPeerManager) GetPeer(ctx context.Context, id common.PeerID) (syncer.PeerHandle, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.peers[id]
	return h, ok, nil
}

func (p *demoPeerManager) Punish(ctx context.Context, id common.PeerID, score int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.peers[id]
	h.BanScore += score
	p.peers[id] = h
}

func (p *demoPeerManager) Close(ctx context.Context, id common.PeerID, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.peers[id]
	h.State = syncer.Disconnected
	p.peers[id] = h
}

func (p *demoPeerManager) UpdateTip(ctx context.Context, id common.PeerID, tip syncer.Tip) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.peers[id]
	if !ok {
		return
	}
	h.Tip = tip
	p.peers[id] = h
}

// demoWireProtocol serves headers and blocks out of a fixed,
// precomputed chain per peer, simulating a remote node without any
// real networking.
type demoWireProtocol struct {
	mu     sync.Mutex
	chains map[common.PeerID][]syncer.BlockHeader
	rtt    map[common.PeerID]int64
}

func newDemoWire() *demoWireProtocol {
	return &demoWireProtocol{chains: map[common.PeerID][]syncer.BlockHeader{}, rtt: map[common.PeerID]int64{}}
}

func (w *demoWireProtocol) setChain(peer common.PeerID, rttMS int64, headers []syncer.BlockHeader) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chains[peer] = headers
	w.rtt[peer] = rttMS
}

func (w *demoWireProtocol) GetBlockHeaders(ctx context.Context, peer common.PeerID, startSequence uint64, count int) (syncer.HeadersResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	chain := w.chains[peer]

	var out []syncer.BlockHeader
	for _, h := range chain {
		if h.Sequence >= startSequence && len(out) < count {
			out = append(out, h)
		}
	}
	return syncer.HeadersResponse{Headers: out, ElapsedMS: w.rtt[peer]}, nil
}

func (w *demoWireProtocol) GetBlocks(ctx context.Context, peer common.PeerID, startHash common.Hash, limit int) (syncer.BlocksResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	chain := w.chains[peer]

	idx := -1
	for i, h := range chain {
		if h.Hash == startHash {
			idx = i
			break
		}
	}
	if idx == -1 {
		return syncer.BlocksResponse{}, nil
	}
	end := idx + limit
	if end > len(chain) {
		end = len(chain)
	}
	blocks := make([]syncer.Block, 0, end-idx)
	for _, h := range chain[idx:end] {
		blocks = append(blocks, syncer.Block{Header: h})
	}
	return syncer.BlocksResponse{Blocks: blocks, IsFull: len(blocks) == limit}, nil
}
