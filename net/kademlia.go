package net

import (
	"math/big"
	"sync"

	"synnergy-core/core"
)

// KademliaBucketCount and DefaultKademliaBucketCap define the DHT shape:
// 160 buckets (one per bit of a 160-bit address) of capacity k (default
// 20).
const (
	KademliaBucketCount      = 160
	DefaultKademliaBucketCap = 20
)

// kademliaEntry is one bucket slot: the peer plus an insertion sequence
// number used to break lookup ties by insertion order.
type kademliaEntry struct {
	peer     *Peer
	inserted uint64
}

// Pinger lets the pool ask "is this peer still alive?" without importing
// the session/host machinery — KademliaPool only needs a yes/no answer to
// run its ping-evict insertion policy.
type Pinger interface {
	Ping(p *Peer) bool
}

// KademliaPool is the handshaked peer pool (C9): peers bucketed by XOR
// distance from the local identity, 160 buckets × k capacity, with a
// ping-evict insertion policy. Keyed directly on the 20-byte Address
// rather than rehashing an address that is already a raw identity.
type KademliaPool struct {
	mu        sync.RWMutex
	self      core.Address
	bucketCap int
	buckets   [KademliaBucketCount][]kademliaEntry
	seq       uint64
	pinger    Pinger
}

// NewKademliaPool returns an empty pool centered on self.
func NewKademliaPool(self core.Address, bucketCap int, pinger Pinger) *KademliaPool {
	if bucketCap <= 0 {
		bucketCap = DefaultKademliaBucketCap
	}
	return &KademliaPool{self: self, bucketCap: bucketCap, pinger: pinger}
}

// distance returns the XOR distance between two addresses as a big.Int.
func distance(a, b core.Address) *big.Int {
	var diff [20]byte
	for i := range diff {
		diff[i] = a[i] ^ b[i]
	}
	return new(big.Int).SetBytes(diff[:])
}

// bucketIndex returns which of the 160 buckets id falls into relative to
// self: the index of the highest set bit of their XOR distance, counting
// from the most significant bit (bucket 0) to the least (bucket 159).
func (k *KademliaPool) bucketIndex(id core.Address) int {
	d := distance(k.self, id)
	if d.Sign() == 0 {
		return KademliaBucketCount - 1
	}
	return KademliaBucketCount - d.BitLen()
}

// TryAddPeer inserts p into its bucket: if the bucket has room, append;
// else ping the earliest-inserted entry (entries are not reordered when a
// peer is heard from) — if it responds, discard the newcomer; if not, evict
// it and insert the newcomer. Reports whether p ended up a member.
func (k *KademliaPool) TryAddPeer(p *Peer) bool {
	if p.ID == k.self {
		return false
	}
	idx := k.bucketIndex(p.ID)

	k.mu.Lock()
	for _, e := range k.buckets[idx] {
		if e.peer.ID == p.ID {
			k.mu.Unlock()
			return false
		}
	}
	if len(k.buckets[idx]) < k.bucketCap {
		k.seq++
		k.buckets[idx] = append(k.buckets[idx], kademliaEntry{peer: p, inserted: k.seq})
		k.mu.Unlock()
		return true
	}
	lru := k.buckets[idx][0]
	k.mu.Unlock()

	if k.pinger != nil && k.pinger.Ping(lru.peer) {
		return false // least-recently-seen is alive; newcomer is dropped
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	bucket := k.buckets[idx]
	for i, e := range bucket {
		if e.inserted == lru.inserted {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	k.seq++
	k.buckets[idx] = append(bucket, kademliaEntry{peer: p, inserted: k.seq})
	return true
}

// BucketFull reports whether id's bucket is already at capacity, without
// running the ping-evict policy TryAddPeer would.
func (k *KademliaPool) BucketFull(id core.Address) bool {
	idx := k.bucketIndex(id)
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.buckets[idx]) >= k.bucketCap
}

// RemovePeer removes id from whichever bucket holds it.
func (k *KademliaPool) RemovePeer(id core.Address) {
	idx := k.bucketIndex(id)
	k.mu.Lock()
	defer k.mu.Unlock()
	bucket := k.buckets[idx]
	for i, e := range bucket {
		if e.peer.ID == id {
			k.buckets[idx] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}

// OnPeerDropped implements PeerDropHandler.
func (k *KademliaPool) OnPeerDropped(p *Peer, reason error) {
	k.RemovePeer(p.ID)
}

// HasPeerWithEndpoint reports whether any bucket holds a peer at endpoint.
func (k *KademliaPool) HasPeerWithEndpoint(endpoint string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, bucket := range k.buckets {
		for _, e := range bucket {
			if e.peer.Endpoint == endpoint {
				return true
			}
		}
	}
	return false
}

// ForEachPeer calls fn for every member under the pool's shared lock. The
// caller must not re-enter a mutating pool method from fn.
func (k *KademliaPool) ForEachPeer(fn func(*Peer)) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, bucket := range k.buckets {
		for _, e := range bucket {
			fn(e.peer)
		}
	}
}

// Len reports the total number of peers across every bucket.
func (k *KademliaPool) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	n := 0
	for _, bucket := range k.buckets {
		n += len(bucket)
	}
	return n
}

// AllPeersInfo returns an IdentityInfo snapshot of every member.
func (k *KademliaPool) AllPeersInfo() []IdentityInfo {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]IdentityInfo, 0, k.Len())
	for _, bucket := range k.buckets {
		for _, e := range bucket {
			out = append(out, IdentityInfo{ID: e.peer.ID, Endpoint: e.peer.Endpoint})
		}
	}
	return out
}

// candidate pairs an entry with its distance from the lookup target, for
// sorting.
type candidate struct {
	entry kademliaEntry
	dist  *big.Int
}

// Lookup returns up to alpha known peers nearest target by XOR distance,
// ties broken by insertion order.
func (k *KademliaPool) Lookup(target core.Address, alpha int) []IdentityInfo {
	k.mu.RLock()
	candidates := make([]candidate, 0, k.Len())
	for _, bucket := range k.buckets {
		for _, e := range bucket {
			candidates = append(candidates, candidate{entry: e, dist: distance(target, e.peer.ID)})
		}
	}
	k.mu.RUnlock()

	sortCandidates(candidates)
	if alpha > len(candidates) {
		alpha = len(candidates)
	}
	out := make([]IdentityInfo, 0, alpha)
	for i := 0; i < alpha; i++ {
		p := candidates[i].entry.peer
		out = append(out, IdentityInfo{ID: p.ID, Endpoint: p.Endpoint})
	}
	return out
}

// sortCandidates orders by ascending XOR distance, ties broken by
// ascending insertion sequence (earlier-inserted wins).
func sortCandidates(c []candidate) {
	// Insertion sort: the candidate set per lookup is small (bounded by
	// total peer count, itself bounded by bucket capacity × 160), and this
	// keeps the tie-break rule (stable on insertion order) obviously
	// correct without reaching for sort.Slice's less-than plumbing.
	for i := 1; i < len(c); i++ {
		j := i
		for j > 0 && less(c[j], c[j-1]) {
			c[j], c[j-1] = c[j-1], c[j]
			j--
		}
	}
}

func less(a, b candidate) bool {
	if cmp := a.dist.Cmp(b.dist); cmp != 0 {
		return cmp < 0
	}
	return a.entry.inserted < b.entry.inserted
}

var _ PeerDropHandler = (*KademliaPool)(nil)
