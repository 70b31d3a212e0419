package remoting

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/roasbeef/marquee/wire"
)

// Pool maintains N striped connections to one peer address. Routing comes
// in three flavors: a fixed stripe index for callers that own a stripe,
// consistent hashing of the target path (the default, which pins each
// target actor to one TCP stream and thereby preserves per-actor send
// order), and round-robin for maximum parallelism with no ordering
// guarantees. Stripes are dialed lazily on first selection.
type Pool struct {
	r      *Remoting
	remote string
	n      int

	// mu guards lazy stripe creation; the stripes slots themselves are
	// written once and then read lock-free via the atomic pointers.
	mu      sync.Mutex
	stripes []atomic.Pointer[Conn]

	// rr feeds round-robin selection.
	rr atomic.Uint64

	closed atomic.Bool
}

// newPool creates an empty pool for a peer address.
func newPool(r *Remoting, remote string) *Pool {
	return &Pool{
		r:       r,
		remote:  remote,
		n:       r.cfg.Stripes,
		stripes: make([]atomic.Pointer[Conn], r.cfg.Stripes),
	}
}

// Remote returns the peer address this pool connects to.
func (p *Pool) Remote() string {
	return p.remote
}

// Size returns the stripe count N.
func (p *Pool) Size() int {
	return p.n
}

// Stripe returns connection i mod N, dialing it on first use. Callers that
// hold a dedicated stripe index use this to eliminate contention.
func (p *Pool) Stripe(i int) *Conn {
	if i < 0 {
		i = -i
	}
	idx := i % p.n

	if conn := p.stripes[idx].Load(); conn != nil {
		return conn
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if conn := p.stripes[idx].Load(); conn != nil {
		return conn
	}

	conn := newConn(p.r, p.remote)
	if p.closed.Load() {
		conn.close()
	}
	p.stripes[idx].Store(conn)

	return conn
}

// ConnectionFor consistently routes a target path to a stripe:
// hash(path) mod N. The same path always selects the same stripe within a
// process, which keeps per-actor delivery in send order.
func (p *Pool) ConnectionFor(targetPath string) *Conn {
	h := xxhash.Sum64String(targetPath)

	return p.Stripe(int(h % uint64(p.n)))
}

// Send routes the envelope by its target path.
func (p *Pool) Send(env *wire.Envelope) {
	p.ConnectionFor(env.TargetPath).Send(env)
}

// SendRoundRobin spreads envelopes across all stripes with an atomic
// counter. Use only when cross-message ordering does not matter.
func (p *Pool) SendRoundRobin(env *wire.Envelope) {
	idx := p.rr.Add(1) % uint64(p.n)
	p.Stripe(int(idx)).Send(env)
}

// Dropped sums dropped-envelope counters across the dialed stripes.
func (p *Pool) Dropped() uint64 {
	var total uint64
	for i := range p.stripes {
		if conn := p.stripes[i].Load(); conn != nil {
			total += conn.Dropped()
		}
	}

	return total
}

// close shuts down every dialed stripe.
func (p *Pool) close() {
	p.closed.Store(true)

	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.stripes {
		if conn := p.stripes[i].Load(); conn != nil {
			conn.close()
		}
	}
}
