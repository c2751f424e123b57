package transport

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/atomic"
)

// Token is a Murmur3 partitioner token, the full signed 64-bit range.
type Token int64

// DC is a data center name.
type DC = string

// ReplicationStrategy yields the per-DC replication factor of a keyspace.
type ReplicationStrategy interface {
	ReplicationFactor(dc DC) int
}

// SimpleStrategy applies one replication factor to every data center.
type SimpleStrategy struct {
	RF int
}

func (s SimpleStrategy) ReplicationFactor(_ DC) int {
	return s.RF
}

// NetworkTopologyStrategy carries an explicit factor per data center.
// Unlisted data centers hold no replicas.
type NetworkTopologyStrategy struct {
	DCFactors map[DC]int
}

func (s NetworkTopologyStrategy) ReplicationFactor(dc DC) int {
	return s.DCFactors[dc]
}

// Replica identifies one node able to serve a token, with the parameters
// needed to compute the owning shard on that node.
type Replica struct {
	Addr       string
	DC         DC
	Msb        uint8
	ShardCount uint16
}

// vnode is a half-open token interval (left, right]. order holds every
// distinct node per DC in clockwise ring order starting at this vnode, a
// keyspace's replica set is a prefix of it.
type vnode struct {
	left, right Token
	order       map[DC][]Replica
}

// Ring is an immutable token routing snapshot. A new topology publishes a
// new Ring, readers keep using the generation they hold.
type Ring struct {
	generation uint64
	localDC    DC
	dcs        []DC
	keyspaces  map[string]ReplicationStrategy
	vnodes     []vnode
}

func (r *Ring) Generation() uint64 {
	return r.generation
}

func (r *Ring) DCs() []DC {
	return r.dcs
}

type ringEndpoint struct {
	token Token
	rep   Replica
}

// BuildTokenRing computes the vnode chain and per-vnode replica orders
// from node metadata. The vnodes cover the full token space: the first
// interval opens at math.MinInt64 and a synthetic wrap interval owned by
// the first endpoint closes at math.MaxInt64.
func BuildTokenRing(generation uint64, localDC DC, nodes []NodeInfo, keyspaces map[string]ReplicationStrategy) (*Ring, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("cannot build ring from zero nodes")
	}

	var endpoints []ringEndpoint
	for _, n := range nodes {
		rep := Replica{Addr: n.Addr, DC: n.DC, Msb: n.Msb, ShardCount: n.ShardCount}
		for _, t := range n.Tokens {
			endpoints = append(endpoints, ringEndpoint{token: t, rep: rep})
		}
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("cannot build ring from zero tokens")
	}
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].token < endpoints[j].token })

	// owners[i] is the node owning vnodes[i], the right endpoint's node.
	vnodes := make([]vnode, 0, len(endpoints)+1)
	owners := make([]Replica, 0, len(endpoints)+1)
	left := Token(math.MinInt64)
	for _, e := range endpoints {
		if e.token == left {
			// A node that generated the minimal token by luck, the
			// interval (MIN, MIN] would be empty.
			continue
		}
		vnodes = append(vnodes, vnode{left: left, right: e.token})
		owners = append(owners, e.rep)
		left = e.token
	}
	if len(vnodes) == 0 {
		vnodes = append(vnodes, vnode{left: math.MinInt64, right: math.MaxInt64})
		owners = append(owners, endpoints[0].rep)
	} else if left != math.MaxInt64 {
		// Wrap interval, owned by the first endpoint.
		vnodes = append(vnodes, vnode{left: left, right: math.MaxInt64})
		owners = append(owners, owners[0])
	}

	// Walk clockwise from each vnode collecting distinct nodes per DC.
	dcSeen := map[DC]struct{}{}
	for i := range vnodes {
		order := map[DC][]Replica{}
		seen := map[string]struct{}{}
		for j := 0; j < len(vnodes); j++ {
			rep := owners[(i+j)%len(vnodes)]
			if _, ok := seen[rep.Addr]; ok {
				continue
			}
			seen[rep.Addr] = struct{}{}
			order[rep.DC] = append(order[rep.DC], rep)
			dcSeen[rep.DC] = struct{}{}
		}
		vnodes[i].order = order
	}

	// The local DC leads the list, send_global picks from all of them.
	dcs := make([]DC, 0, len(dcSeen))
	if _, ok := dcSeen[localDC]; ok {
		dcs = append(dcs, localDC)
		delete(dcSeen, localDC)
	}
	for dc := range dcSeen {
		dcs = append(dcs, dc)
	}
	sort.Strings(dcs[min(1, len(dcs)):])

	ks := make(map[string]ReplicationStrategy, len(keyspaces))
	for k, v := range keyspaces {
		ks[k] = v
	}

	return &Ring{
		generation: generation,
		localDC:    localDC,
		dcs:        dcs,
		keyspaces:  ks,
		vnodes:     vnodes,
	}, nil
}

// lookup binary-searches the vnode whose (left, right] holds t. The first
// vnode also matches t == math.MinInt64.
func (r *Ring) lookup(t Token) *vnode {
	i := sort.Search(len(r.vnodes), func(i int) bool { return r.vnodes[i].right >= t })
	if i >= len(r.vnodes) {
		// Unreachable, the last vnode's right is MaxInt64.
		i = len(r.vnodes) - 1
	}
	return &r.vnodes[i]
}

// rf resolves the replication factor of a keyspace in a DC. Unknown or
// empty keyspaces fall back to a single replica.
func (r *Ring) rf(keyspace string, dc DC) int {
	if s, ok := r.keyspaces[keyspace]; ok {
		if f := s.ReplicationFactor(dc); f > 0 {
			return f
		}
		return 0
	}
	return 1
}

// Replicas returns the ordered replica list serving token t for the given
// keyspace in the given DC, capped at min(rf, nodes in DC).
func (r *Ring) Replicas(t Token, keyspace string, dc DC) []Replica {
	order := r.lookup(t).order[dc]
	rf := r.rf(keyspace, dc)
	if rf > len(order) {
		rf = len(order)
	}
	return order[:rf]
}

// LocalDC returns the DC send_local policies target.
func (r *Ring) LocalDC() DC {
	if r.localDC != "" {
		return r.localDC
	}
	if len(r.dcs) > 0 {
		return r.dcs[0]
	}
	return ""
}

// RingHolder is the atomically swapped current ring. Readers never lock,
// writers publish whole generations.
type RingHolder struct {
	ptr atomic.Pointer[Ring]
	gen atomic.Uint64
}

// Load returns the current ring, nil before the first publication.
func (h *RingHolder) Load() *Ring {
	return h.ptr.Load()
}

// Generation returns the latest published generation, 0 before the first.
func (h *RingHolder) Generation() uint64 {
	return h.gen.Load()
}

// Publish swaps in a new ring. Generations must increase monotonically.
func (h *RingHolder) Publish(r *Ring) {
	h.ptr.Store(r)
	h.gen.Store(r.generation)
}

// RingView is a per-task cache over a RingHolder. Current is cheap when
// the generation is unchanged and upgrades lazily, never backwards.
type RingView struct {
	holder *RingHolder
	cached *Ring
}

func NewRingView(h *RingHolder) *RingView {
	return &RingView{holder: h}
}

func (v *RingView) Current() *Ring {
	if v.cached == nil || v.cached.generation != v.holder.Generation() {
		v.cached = v.holder.Load()
	}
	return v.cached
}
