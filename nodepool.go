package tdb

import "sync"

// nodePool recycles KeyValuePair allocations made while walking the cluster
// tree, adapted from the teacher's NodePool.go sync.Pool wrapper. Reached
// through txContext.newRow/releaseRow (alloc.go): every leafRowAt call
// draws from the pool, but only call sites where the row provably never
// escapes to a caller (rebuildTree, greatestKey) return it. It does not
// pool array/*array values themselves: those are cheap, short-lived
// accessor structs whose lifetime is tied to a single transaction and not
// worth recycling across transactions that may run on different goroutines
// concurrently.
type nodePool struct {
	rows sync.Pool
	max  int64
	inUse int64
	mu   sync.Mutex
}

func newNodePool(size int64) *nodePool {
	if size <= 0 {
		size = 1024
	}
	np := &nodePool{max: size}
	np.rows.New = func() any { return &KeyValuePair{} }
	return np
}

func (p *nodePool) get() *KeyValuePair {
	p.mu.Lock()
	p.inUse++
	p.mu.Unlock()
	return p.rows.Get().(*KeyValuePair)
}

func (p *nodePool) put(kv *KeyValuePair) {
	kv.Key = 0
	kv.Values = nil
	kv.Version = 0
	p.rows.Put(kv)

	p.mu.Lock()
	if p.inUse > 0 {
		p.inUse--
	}
	p.mu.Unlock()
}

func (p *nodePool) inFlight() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}
