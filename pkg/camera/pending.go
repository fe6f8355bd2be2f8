package camera

import (
	"sync"

	"github.com/ethan/nanit-relay/pkg/protocol"
)

// pendingTable correlates responses back to in-flight requests. IDs are
// allocated monotonically starting at 1; each waiter is a single-shot
// buffered channel so a resolve never blocks the read loop.
type pendingTable struct {
	mu      sync.Mutex
	nextID  uint32
	waiters map[uint32]chan *protocol.Response
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		nextID:  1,
		waiters: make(map[uint32]chan *protocol.Response),
	}
}

// track allocates a request ID and registers its waiter. The channel yields
// exactly one response, or is closed on cancellation.
func (p *pendingTable) track() (uint32, <-chan *protocol.Response) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	if p.nextID == 0 {
		p.nextID = 1
	}

	ch := make(chan *protocol.Response, 1)
	p.waiters[id] = ch
	return id, ch
}

// resolve delivers a response to its waiter. Unmatched responses report false
// and are dropped by the caller.
func (p *pendingTable) resolve(resp *protocol.Response) bool {
	p.mu.Lock()
	ch, ok := p.waiters[resp.RequestID]
	if ok {
		delete(p.waiters, resp.RequestID)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	ch <- resp
	return true
}

// drop forgets a waiter, after a timeout or context cancellation. A response
// arriving later counts as unmatched.
func (p *pendingTable) drop(id uint32) {
	p.mu.Lock()
	delete(p.waiters, id)
	p.mu.Unlock()
}

// cancelAll closes every waiter, failing all in-flight requests. Used when
// the transport drops or is replaced.
func (p *pendingTable) cancelAll() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.waiters)
	for id, ch := range p.waiters {
		close(ch)
		delete(p.waiters, id)
	}
	return n
}

// size reports the number of in-flight requests.
func (p *pendingTable) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}
