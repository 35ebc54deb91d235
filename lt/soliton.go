package lt

import (
	"math/big"
	"math/rand"
	"sort"
)

// DegreeDistribution samples the degree of the next coded symbol.
type DegreeDistribution interface {
	Uint64() uint64
}

// idealSoliton implements the ideal soliton distribution with parameter K:
//
//	P(1)=1/K
//	P(x)=1/x(x-1) for x=2 to K
type idealSoliton struct {
	rng    *rand.Rand
	k      uint64
	splits []float64 // the range [0, 1) is cut into k pieces by k-1 splits
}

func newIdealSoliton(rng *rand.Rand, k uint64) *idealSoliton {
	var s []float64
	last := new(big.Float).SetUint64(0)
	one := new(big.Float).SetFloat64(1.0)
	for i := uint64(1); i < k; i++ {
		var div *big.Float
		if i == 1 {
			div = new(big.Float).SetUint64(k)
		} else {
			t1 := new(big.Float).SetUint64(i)
			t2 := new(big.Float).SetUint64(i - 1)
			div = new(big.Float).Mul(t1, t2)
		}
		last = last.Add(last, new(big.Float).Quo(one, div))
		rounded, _ := last.Float64()
		s = append(s, rounded)
	}
	s = append(s, 1.0)
	return &idealSoliton{rng, k, s}
}

func (s *idealSoliton) Uint64() uint64 {
	r := s.rng.Float64()
	idx := sort.SearchFloat64s(s.splits, r)
	if uint64(idx) >= s.k {
		idx = int(s.k) - 1
	}
	return uint64(idx + 1)
}
