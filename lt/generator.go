package lt

import (
	"encoding/binary"
	"math/rand"
	"sort"

	"github.com/dchest/siphash"
	"github.com/yangl1996/soliton"
)

// Parameters of the robust soliton distribution shared by every sender and
// receiver. Changing them breaks regeneration of seeded symbols.
const (
	RobustC     = 0.03
	RobustDelta = 0.5

	// below this many blocks the robust soliton spike falls outside [1, K],
	// and the ideal soliton is used instead
	minSolitonBlocks = 64
)

// Generator maps a symbol sequence number to the set of source blocks the
// symbol covers. The first K sequence numbers are systematic: symbol i
// carries block i alone. Later symbols draw a degree from a soliton
// distribution and sample that many distinct blocks, all driven by a MINSTD
// generator seeded from (key, K, seq). Two generators built with the same key
// and K always agree.
type Generator struct {
	k    int
	key  uint64
	src  *minstd
	rng  *rand.Rand
	dist DegreeDistribution

	perm    []int // 0..k-1, restored after every draw
	history []int
}

// NewGenerator creates the generator of a transfer with k blocks. key is
// normally the transfer id.
func NewGenerator(key uint64, k int) *Generator {
	src := &minstd{}
	src.Seed(int64(key))
	rng := rand.New(src)
	var dist DegreeDistribution
	if k >= minSolitonBlocks {
		dist = soliton.NewRobustSoliton(rng, uint64(k), RobustC, RobustDelta)
	} else {
		dist = newIdealSoliton(rng, uint64(k))
	}
	perm := make([]int, k)
	for i := range perm {
		perm[i] = i
	}
	return &Generator{
		k:    k,
		key:  key,
		src:  src,
		rng:  rng,
		dist: dist,
		perm: perm,
	}
}

// Blocks returns K.
func (g *Generator) Blocks() int {
	return g.k
}

// Indices returns the sorted block indices covered by symbol seq.
func (g *Generator) Indices(seq uint32) []int {
	if int64(seq) < int64(g.k) {
		return []int{int(seq)}
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], seq)
	g.src.Seed(int64(siphash.Hash(g.key, uint64(g.k), b[:])))

	deg := int(g.dist.Uint64())
	if deg < 1 {
		deg = 1
	}
	if deg > g.k {
		deg = g.k
	}
	res := make([]int, deg)
	// sample without replacement; record the swaps so that perm can be
	// restored and the next draw starts from the same ordering
	g.history = g.history[:0]
	for i := 0; i < deg; i++ {
		r := g.rng.Intn(g.k-i) + i
		g.history = append(g.history, r)
		g.perm[i], g.perm[r] = g.perm[r], g.perm[i]
		res[i] = g.perm[i]
	}
	for i := deg - 1; i >= 0; i-- {
		g.perm[i], g.perm[g.history[i]] = g.perm[g.history[i]], g.perm[i]
	}
	sort.Ints(res)
	return res
}
