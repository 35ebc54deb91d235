package lt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"testing"
)

const testBlockSize = 16

func testBlocks(k int) [][]byte {
	blocks := make([][]byte, k)
	for i := range blocks {
		b := make([]byte, testBlockSize)
		binary.LittleEndian.PutUint64(b[0:8], uint64(i)*0x9e3779b97f4a7c15)
		binary.LittleEndian.PutUint64(b[8:16], uint64(i+1))
		blocks[i] = b
	}
	return blocks
}

func xorOf(blocks [][]byte, indices ...int) []byte {
	res := make([]byte, testBlockSize)
	for _, idx := range indices {
		for i := range res {
			res[i] ^= blocks[idx][i]
		}
	}
	return res
}

func TestPeelCascade(t *testing.T) {
	blocks := testBlocks(4)
	s := NewStore(4, testBlockSize)

	// chain: {0,1,2,3} {1,2,3} {2,3} then {3} unlocks everything
	for _, set := range [][]int{{0, 1, 2, 3}, {1, 2, 3}, {2, 3}} {
		out, err := s.Add(set, xorOf(blocks, set...))
		if err != nil || out != Accepted {
			t.Fatalf("adding %v: got %v, %v", set, out, err)
		}
	}
	if n := s.Peel(); n != 0 {
		t.Error("peeled", n, "blocks with nothing resolved")
	}
	if s.Pending() != 3 || s.Resolved() != 0 {
		t.Errorf("pending %d resolved %d, want 3 and 0", s.Pending(), s.Resolved())
	}

	out, err := s.Add([]int{3}, blocks[3])
	if err != nil || out != Accepted {
		t.Fatalf("adding block 3: got %v, %v", out, err)
	}
	if s.Resolved() != 1 {
		t.Error("block 3 not resolved on arrival")
	}

	if n := s.Peel(); n != 3 {
		t.Error("peeled", n, "blocks, want 3")
	}
	if !s.Done() || s.Pending() != 0 {
		t.Error("store not fully decoded")
	}
	for i := range blocks {
		if !bytes.Equal(blocks[i], s.Block(i)) {
			t.Error("block", i, "decoded incorrectly")
		}
	}
	if n := s.Peel(); n != 0 {
		t.Error("peeling twice resolved", n, "more blocks")
	}
}

func TestReduceOnArrival(t *testing.T) {
	blocks := testBlocks(3)
	s := NewStore(3, testBlockSize)
	if _, err := s.Add([]int{0}, blocks[0]); err != nil {
		t.Fatal(err)
	}
	s.Peel()

	// {0,1} drops to {1} as soon as it arrives
	out, err := s.Add([]int{1, 0}, xorOf(blocks, 0, 1))
	if err != nil || out != Accepted {
		t.Fatalf("got %v, %v", out, err)
	}
	if !bytes.Equal(blocks[1], s.Block(1)) {
		t.Error("block 1 not resolved on arrival")
	}
	if s.Pending() != 0 {
		t.Error("reduced symbol left pending")
	}

	// {0,1,2} drops to {2}; afterwards {1,2} is fully explained
	out, err = s.Add([]int{0, 1, 2}, xorOf(blocks, 0, 1, 2))
	if err != nil || out != Accepted {
		t.Fatalf("got %v, %v", out, err)
	}
	out, err = s.Add([]int{2, 1}, xorOf(blocks, 1, 2))
	if err != nil || out != Redundant {
		t.Errorf("got %v, %v, want redundant", out, err)
	}
}

func TestDuplicates(t *testing.T) {
	blocks := testBlocks(3)
	s := NewStore(3, testBlockSize)

	if out, _ := s.Add([]int{0}, blocks[0]); out != Accepted {
		t.Error("first copy of block 0:", out)
	}
	if out, _ := s.Add([]int{0}, blocks[0]); out != Duplicate {
		t.Error("second copy of block 0:", out)
	}
	if out, _ := s.Add([]int{1, 2}, xorOf(blocks, 1, 2)); out != Accepted {
		t.Error("first copy of {1,2}:", out)
	}
	if out, _ := s.Add([]int{2, 1}, xorOf(blocks, 1, 2)); out != Duplicate {
		t.Error("second copy of {1,2}:", out)
	}
	if s.Pending() != 1 {
		t.Error("pending", s.Pending(), "want 1")
	}
}

func TestDistinctSetsAreNotDuplicates(t *testing.T) {
	k := 300
	blocks := testBlocks(k)
	s := NewStore(k, testBlockSize)
	added := 0
	for i := 0; i < k; i++ {
		for _, set := range [][]int{{i, (i + 1) % k}, {i, (i + 7) % k, (i + 13) % k}} {
			out, err := s.Add(set, xorOf(blocks, set...))
			if err != nil || out != Accepted {
				t.Fatalf("adding %v: got %v, %v", set, out, err)
			}
			added += 1
		}
	}
	if s.Pending() != added {
		t.Error("pending", s.Pending(), "want", added)
	}
}

func TestConflictingBlockKeepsFirstValue(t *testing.T) {
	blocks := testBlocks(2)
	s := NewStore(2, testBlockSize)
	if _, err := s.Add([]int{1}, blocks[1]); err != nil {
		t.Fatal(err)
	}

	out, err := s.Add([]int{1}, blocks[0])
	if !errors.Is(err, ErrConflictingBlock) || out != Conflicting {
		t.Errorf("got %v, %v, want conflicting", out, err)
	}
	if s.Conflicts() != 1 {
		t.Error("conflicts", s.Conflicts(), "want 1")
	}
	if !bytes.Equal(blocks[1], s.Block(1)) {
		t.Error("the first value of block 1 was overwritten")
	}
	if s.Resolved() != 1 {
		t.Error("resolved", s.Resolved(), "want 1")
	}
}

func TestConflictDuringPeel(t *testing.T) {
	blocks := testBlocks(3)
	s := NewStore(3, testBlockSize)
	// two pending symbols that will both collapse onto block 2
	if _, err := s.Add([]int{0, 2}, xorOf(blocks, 0, 2)); err != nil {
		t.Fatal(err)
	}
	bad := xorOf(blocks, 1, 2)
	bad[0] ^= 0xff
	if _, err := s.Add([]int{1, 2}, bad); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add([]int{0}, blocks[0]); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add([]int{1}, blocks[1]); err != nil {
		t.Fatal(err)
	}
	s.Peel()

	if !s.Done() {
		t.Error("store not fully decoded")
	}
	if s.Conflicts() != 1 {
		t.Error("conflicts", s.Conflicts(), "want 1")
	}
}

func TestInconsistentSymbol(t *testing.T) {
	blocks := testBlocks(2)
	s := NewStore(2, testBlockSize)
	s.Add([]int{0}, blocks[0])
	s.Add([]int{1}, blocks[1])
	s.Peel()

	bad := xorOf(blocks, 0, 1)
	bad[3] ^= 1
	out, err := s.Add([]int{0, 1}, bad)
	if !errors.Is(err, ErrInconsistent) || out != Rejected {
		t.Errorf("got %v, %v, want rejected as inconsistent", out, err)
	}
	if s.Inconsistent() != 1 {
		t.Error("inconsistent", s.Inconsistent(), "want 1")
	}
}

func TestInvalidSymbols(t *testing.T) {
	s := NewStore(2, testBlockSize)
	cases := []struct {
		indices []int
		size    int
	}{
		{[]int{2}, testBlockSize},
		{[]int{0, 0}, testBlockSize},
		{[]int{0}, testBlockSize - 1},
		{nil, testBlockSize},
	}
	for _, c := range cases {
		if _, err := s.Add(c.indices, make([]byte, c.size)); !errors.Is(err, ErrInvalidSymbol) {
			t.Errorf("indices %v with %d bytes: got %v", c.indices, c.size, err)
		}
	}
	if s.Resolved() != 0 {
		t.Error("invalid symbols resolved a block")
	}
}

func TestAssemble(t *testing.T) {
	payload := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	blocks := Split(payload, testBlockSize)
	if len(blocks) != 3 {
		t.Fatal("split into", len(blocks), "blocks, want 3")
	}
	s := NewStore(3, testBlockSize)

	if _, err := s.Assemble(len(payload)); !errors.Is(err, ErrIncomplete) {
		t.Error("assembled an incomplete store:", err)
	}

	for i := len(blocks) - 1; i >= 0; i-- {
		s.Add([]int{i}, blocks[i])
	}
	got, err := s.Assemble(len(payload))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(payload, got) {
		t.Error("assembled payload differs")
	}
}

func TestEncodeAndDecode(t *testing.T) {
	for _, k := range []int{10, 100, 500} {
		blocks := testBlocks(k)
		e := NewEncoder(NewGenerator(7, k), blocks)
		// skip the systematic prefix so that recovery relies on peeling
		e.Seek(uint32(k))
		s := NewStore(k, testBlockSize)
		ncw := 0
		for !s.Done() {
			_, indices, data := e.Next()
			if _, err := s.Add(indices, data); err != nil {
				t.Fatal(err)
			}
			s.Peel()
			ncw += 1
			if ncw >= k*20 {
				t.Fatalf("k=%d did not converge", k)
			}
		}
		for i := range blocks {
			if !bytes.Equal(blocks[i], s.Block(i)) {
				t.Errorf("k=%d: block %d decoded incorrectly", k, i)
			}
		}
		t.Logf("k=%d: %d codewords until fully decoded", k, ncw)
	}
}

func TestDecodeShuffledSymbols(t *testing.T) {
	k := 80
	blocks := testBlocks(k)
	e := NewEncoder(NewGenerator(99, k), blocks)
	e.Seek(uint32(k))
	type sym struct {
		indices []int
		data    []byte
	}
	var syms []sym
	for i := 0; i < k*4; i++ {
		_, indices, data := e.Next()
		syms = append(syms, sym{indices, data})
	}
	rand.New(rand.NewSource(1)).Shuffle(len(syms), func(i, j int) { syms[i], syms[j] = syms[j], syms[i] })

	s := NewStore(k, testBlockSize)
	for _, c := range syms {
		s.Add(c.indices, c.data)
		s.Peel()
	}
	if !s.Done() {
		t.Fatal("shuffled symbols did not decode")
	}
	if s.Conflicts() != 0 {
		t.Error("conflicts", s.Conflicts(), "with honest symbols")
	}
}

func BenchmarkDecode(b *testing.B) {
	ks := []int{500, 1000, 2000}
	genrun := func(k int) func(b *testing.B) {
		return func(b *testing.B) {
			blocks := testBlocks(k)
			e := NewEncoder(NewGenerator(0, k), blocks)
			e.Seek(uint32(k))
			type sym struct {
				indices []int
				data    []byte
			}
			cws := []sym{}
			// ensure there are enough codewords for decoding
			for i := 0; i < k*3; i++ {
				_, indices, data := e.Next()
				cws = append(cws, sym{indices, data})
			}
			b.ReportAllocs()
			b.SetBytes(int64(testBlockSize * k))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				s := NewStore(k, testBlockSize)
				for _, cw := range cws {
					s.Add(cw.indices, cw.data)
					s.Peel()
					if s.Done() {
						break
					}
				}
			}
		}
	}
	for _, k := range ks {
		b.Run(fmt.Sprintf("k=%d", k), genrun(k))
	}
}
