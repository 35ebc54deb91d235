package lt

import (
	"bytes"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// Outcome reports what a Store did with a coded symbol.
type Outcome int

const (
	// Accepted symbols resolved a block or were kept as a pending equation.
	Accepted Outcome = iota
	// Duplicate symbols cover an index set that was seen before.
	Duplicate
	// Redundant symbols are fully explained by blocks already resolved.
	Redundant
	// Conflicting symbols disagree with a block resolved earlier. The first
	// value is kept.
	Conflicting
	// Rejected symbols are invalid or contradict the resolved blocks.
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case Redundant:
		return "redundant"
	case Conflicting:
		return "conflicting"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

var (
	ErrConflictingBlock = errors.New("symbol disagrees with a resolved block")
	ErrInconsistent     = errors.New("symbol reduces to a nonzero residue")
	ErrIncomplete       = errors.New("not all blocks are resolved")
	ErrInvalidSymbol    = errors.New("invalid symbol")
)

// pendingSymbol is a coded symbol that still covers two or more unresolved
// blocks. data is kept reduced: resolved members are XORed out.
type pendingSymbol struct {
	data    []byte
	members []int
	done    bool
}

// peel removes block idx from the symbol and XORs its data out.
func (p *pendingSymbol) peel(idx int, block []byte) {
	for i, m := range p.members {
		if m == idx {
			l := len(p.members)
			p.members[i] = p.members[l-1]
			p.members = p.members[:l-1]
			subtle.XORBytes(p.data, p.data, block)
			return
		}
	}
	panic("peeling a block the symbol does not cover")
}

// Store holds the source-block arena and the pending coded symbols of one
// transfer. It is not safe for concurrent use.
type Store struct {
	blockSize int
	blocks    [][]byte // nil until resolved; never changes afterwards
	resolved  int

	// waiting[i] lists the pending symbols that cover unresolved block i
	waiting [][]*pendingSymbol
	// ripple holds resolved blocks not yet peeled out of waiting symbols
	ripple []int
	seen   map[string]struct{}

	pending      int
	conflicts    int
	inconsistent int
}

// NewStore creates an empty store for k blocks of blockSize bytes.
func NewStore(k, blockSize int) *Store {
	return &Store{
		blockSize: blockSize,
		blocks:    make([][]byte, k),
		waiting:   make([][]*pendingSymbol, k),
		seen:      make(map[string]struct{}),
	}
}

// setKey encodes a sorted index set exactly, so distinct sets never share a
// key.
func setKey(sorted []int) string {
	buf := make([]byte, 4*len(sorted))
	for i, idx := range sorted {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(idx))
	}
	return string(buf)
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func (s *Store) resolve(idx int, data []byte) {
	s.blocks[idx] = data
	s.resolved += 1
	s.ripple = append(s.ripple, idx)
}

// Add hands one coded symbol to the store. The symbol is reduced by every
// block already resolved; a symbol left covering a single block resolves it
// immediately. Add does not propagate new resolutions into pending symbols,
// call Peel for that.
func (s *Store) Add(indices []int, data []byte) (Outcome, error) {
	if len(data) != s.blockSize {
		return Rejected, fmt.Errorf("%w: %d bytes of data, want %d", ErrInvalidSymbol, len(data), s.blockSize)
	}
	if len(indices) == 0 {
		return Rejected, fmt.Errorf("%w: no source blocks", ErrInvalidSymbol)
	}
	sorted := append([]int(nil), indices...)
	sort.Ints(sorted)
	for i, idx := range sorted {
		if idx < 0 || idx >= len(s.blocks) {
			return Rejected, fmt.Errorf("%w: block %d out of range", ErrInvalidSymbol, idx)
		}
		if i > 0 && sorted[i-1] == idx {
			return Rejected, fmt.Errorf("%w: block %d repeated", ErrInvalidSymbol, idx)
		}
	}

	if len(sorted) == 1 {
		idx := sorted[0]
		existing := s.blocks[idx]
		if existing == nil {
			s.resolve(idx, append([]byte(nil), data...))
			return Accepted, nil
		}
		if bytes.Equal(existing, data) {
			return Duplicate, nil
		}
		s.conflicts += 1
		return Conflicting, fmt.Errorf("%w: block %d", ErrConflictingBlock, idx)
	}

	key := setKey(sorted)
	if _, there := s.seen[key]; there {
		return Duplicate, nil
	}
	s.seen[key] = struct{}{}

	reduced := append([]byte(nil), data...)
	var members []int
	for _, idx := range sorted {
		if b := s.blocks[idx]; b != nil {
			subtle.XORBytes(reduced, reduced, b)
		} else {
			members = append(members, idx)
		}
	}
	switch len(members) {
	case 0:
		if isZero(reduced) {
			return Redundant, nil
		}
		s.inconsistent += 1
		return Rejected, ErrInconsistent
	case 1:
		s.resolve(members[0], reduced)
		return Accepted, nil
	}
	p := &pendingSymbol{data: reduced, members: members}
	for _, m := range members {
		s.waiting[m] = append(s.waiting[m], p)
	}
	s.pending += 1
	return Accepted, nil
}

// Peel propagates every resolved block into the pending symbols covering it
// until no symbol drops to a single unresolved block. It returns the number
// of blocks resolved by this call. Calling Peel again without adding symbols
// does nothing.
func (s *Store) Peel() int {
	n := 0
	for len(s.ripple) > 0 {
		idx := s.ripple[len(s.ripple)-1]
		s.ripple = s.ripple[:len(s.ripple)-1]
		block := s.blocks[idx]
		for i, p := range s.waiting[idx] {
			// drop the pointer so the finished symbol can be freed
			s.waiting[idx][i] = nil
			if p.done {
				continue
			}
			p.peel(idx, block)
			if len(p.members) != 1 {
				continue
			}
			p.done = true
			s.pending -= 1
			target := p.members[0]
			if existing := s.blocks[target]; existing != nil {
				// resolved through another symbol whose ripple is still queued
				if !bytes.Equal(existing, p.data) {
					s.conflicts += 1
				}
				continue
			}
			s.resolve(target, p.data)
			n += 1
		}
		s.waiting[idx] = nil
	}
	return n
}

// Blocks returns the number of source blocks, K.
func (s *Store) Blocks() int {
	return len(s.blocks)
}

// Resolved returns the number of source blocks recovered so far.
func (s *Store) Resolved() int {
	return s.resolved
}

// Pending returns the number of stored symbols that still cover two or more
// unresolved blocks.
func (s *Store) Pending() int {
	return s.pending
}

func (s *Store) Conflicts() int {
	return s.conflicts
}

func (s *Store) Inconsistent() int {
	return s.inconsistent
}

// Done reports whether every source block is resolved.
func (s *Store) Done() bool {
	return s.resolved == len(s.blocks)
}

// Block returns the data of block i, or nil if it is unresolved. The returned
// slice must not be modified.
func (s *Store) Block(i int) []byte {
	return s.blocks[i]
}

// Assemble concatenates all blocks in index order and trims the result to
// length bytes.
func (s *Store) Assemble(length int) ([]byte, error) {
	if !s.Done() {
		return nil, fmt.Errorf("%w: %d of %d", ErrIncomplete, s.resolved, len(s.blocks))
	}
	res := make([]byte, 0, len(s.blocks)*s.blockSize)
	for _, b := range s.blocks {
		res = append(res, b...)
	}
	if length > len(res) {
		return nil, fmt.Errorf("%w: payload length %d exceeds %d assembled bytes", ErrInvalidSymbol, length, len(res))
	}
	return res[:length], nil
}
