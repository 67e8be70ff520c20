package wiremesh

import "sync"

// Pools holds named, ordered sets of session ids used for broadcast
// delivery (spec §3, §4.4). Membership survives a member's disconnect —
// it is removed only by an explicit Remove or ReapSession call; a
// session's expiry out of the SessionRegistry does not by itself touch
// pools — resolving spec's pool-membership Open Question the way
// relaydns's lease/connection split does: a lease outlives any one TCP
// connection, and so does pool membership here.
type Pools struct {
	mu      sync.RWMutex
	members map[string][]string // pool name -> ordered session ids
}

// NewPools constructs an empty pool table.
func NewPools() *Pools {
	return &Pools{members: make(map[string][]string)}
}

// Add appends sessionID to pool, if not already a member.
func (p *Pools) Add(pool, sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range p.members[pool] {
		if id == sessionID {
			return
		}
	}
	p.members[pool] = append(p.members[pool], sessionID)
}

// Remove drops sessionID from pool. A no-op if absent.
func (p *Pools) Remove(pool, sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	members := p.members[pool]
	for i, id := range members {
		if id == sessionID {
			p.members[pool] = append(members[:i], members[i+1:]...)
			return
		}
	}
}

// Members returns a snapshot of pool's session ids in join order.
func (p *Pools) Members(pool string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	members := p.members[pool]
	out := make([]string, len(members))
	copy(out, members)
	return out
}

// ReapSession removes sessionID from every pool it belongs to. Nothing
// in the framework calls it: SessionRegistry's Get and Sweep evict
// expired sessions without reaping their pool membership.
func (p *Pools) ReapSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for pool, members := range p.members {
		for i, id := range members {
			if id == sessionID {
				p.members[pool] = append(members[:i], members[i+1:]...)
				break
			}
		}
	}
}

// Broadcast calls deliver for every member of pool, in join order,
// collecting delivery errors by session id rather than aborting on the
// first failure (spec §4.4: one unreachable member must not stall the
// rest of the pool).
func (p *Pools) Broadcast(pool string, deliver func(sessionID string) error) map[string]error {
	members := p.Members(pool)
	failures := make(map[string]error)
	for _, id := range members {
		if err := deliver(id); err != nil {
			failures[id] = err
		}
	}
	return failures
}
