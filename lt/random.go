package lt

const (
	minstdM uint64 = 2147483647
	minstdA uint64 = 16807
)

// minstd is a Park-Miller MINSTD generator exposed as a math/rand Source.
// Index regeneration must agree bit for bit between sender and receiver, so
// the generator is pinned here instead of relying on the runtime's default
// source.
type minstd struct {
	state uint64
}

func (s *minstd) Seed(seed int64) {
	st := uint64(seed) % minstdM
	if st == 0 {
		st = 1
	}
	s.state = st
}

func (s *minstd) next() uint64 {
	s.state = (minstdA * s.state) % minstdM
	return s.state
}

// Int63 stitches three 31-bit draws into a 63-bit value.
func (s *minstd) Int63() int64 {
	hi := s.next()
	mid := s.next()
	lo := s.next()
	return int64((hi<<32 | mid<<1 | lo&1) & (1<<63 - 1))
}
