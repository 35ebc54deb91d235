package lt

import (
	"bytes"
	"fmt"
	"reflect"
	"testing"
)

func TestSplit(t *testing.T) {
	blocks := Split([]byte("abcdefghij"), 4)
	want := [][]byte{[]byte("abcd"), []byte("efgh"), {'i', 'j', 0, 0}}
	if !reflect.DeepEqual(want, blocks) {
		t.Errorf("got %q, want %q", blocks, want)
	}

	empty := Split(nil, 8)
	if len(empty) != 1 || !bytes.Equal(empty[0], make([]byte, 8)) {
		t.Error("an empty payload must split into one zero block")
	}
}

func TestSystematicPrefix(t *testing.T) {
	g := NewGenerator(1, 20)
	for i := 0; i < 20; i++ {
		if got := g.Indices(uint32(i)); len(got) != 1 || got[0] != i {
			t.Errorf("seq %d covers %v", i, got)
		}
	}
}

func TestGeneratorsAgree(t *testing.T) {
	for _, k := range []int{1, 5, 63, 64, 300} {
		g1 := NewGenerator(12345, k)
		g2 := NewGenerator(12345, k)
		// g2 draws in a different order; results must not depend on history
		for seq := uint32(k + 50); seq >= uint32(k); seq-- {
			g2.Indices(seq)
		}
		for seq := uint32(k); seq < uint32(k+50); seq++ {
			if a, b := g1.Indices(seq), g2.Indices(seq); !reflect.DeepEqual(a, b) {
				t.Errorf("k=%d seq=%d: %v and %v", k, seq, a, b)
			}
		}
	}
}

func TestGeneratorIndicesValid(t *testing.T) {
	for _, k := range []int{2, 30, 100} {
		g := NewGenerator(3, k)
		maxDeg := 0
		for seq := uint32(k); seq < uint32(k+500); seq++ {
			indices := g.Indices(seq)
			if len(indices) == 0 || len(indices) > k {
				t.Fatalf("k=%d seq=%d: degree %d", k, seq, len(indices))
			}
			for i, idx := range indices {
				if idx < 0 || idx >= k {
					t.Fatalf("k=%d seq=%d: index %d out of range", k, seq, idx)
				}
				if i > 0 && indices[i-1] >= idx {
					t.Fatalf("k=%d seq=%d: indices %v not sorted and distinct", k, seq, indices)
				}
			}
			if len(indices) > maxDeg {
				maxDeg = len(indices)
			}
		}
		if k > 2 && maxDeg < 2 {
			t.Errorf("k=%d never produced a combined symbol", k)
		}
	}
}

func TestGeneratorKeyMatters(t *testing.T) {
	g1 := NewGenerator(1, 200)
	g2 := NewGenerator(2, 200)
	same := 0
	for seq := uint32(200); seq < 300; seq++ {
		if fmt.Sprint(g1.Indices(seq)) == fmt.Sprint(g2.Indices(seq)) {
			same += 1
		}
	}
	if same >= 50 {
		t.Error(same, "of 100 symbols agree across keys")
	}
}

func TestMinstdDeterministic(t *testing.T) {
	a, b := &minstd{}, &minstd{}
	a.Seed(42)
	b.Seed(42)
	for i := 0; i < 100; i++ {
		va, vb := a.Int63(), b.Int63()
		if va != vb {
			t.Fatal("same seed produced", va, "and", vb)
		}
		if va < 0 {
			t.Fatal("negative output", va)
		}
	}
	z := &minstd{}
	z.Seed(0)
	if z.Int63() == 0 {
		t.Error("a zero seed locked the generator at zero")
	}
}

func TestProduceSymbol(t *testing.T) {
	blocks := testBlocks(50)
	e := NewEncoder(NewGenerator(5, 50), blocks)
	snapshot := make([][]byte, len(blocks))
	for i := range blocks {
		snapshot[i] = append([]byte(nil), blocks[i]...)
	}
	for i := 0; i < 200; i++ {
		seq, indices, data := e.Next()
		if seq != uint32(i) {
			t.Fatal("got seq", seq, "want", i)
		}
		if !bytes.Equal(xorOf(blocks, indices...), data) {
			t.Error("symbol", seq, "has incorrect data")
		}
	}
	if !reflect.DeepEqual(snapshot, blocks) {
		t.Error("encoding modified the source blocks")
	}
}

func BenchmarkProduceSymbol(b *testing.B) {
	ks := []int{500, 1000, 2000}
	genrun := func(k int) func(b *testing.B) {
		return func(b *testing.B) {
			e := NewEncoder(NewGenerator(0, k), testBlocks(k))
			e.Seek(uint32(k))
			b.ReportAllocs()
			b.SetBytes(testBlockSize)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				e.Next()
			}
		}
	}
	for _, k := range ks {
		b.Run(fmt.Sprintf("k=%d", k), genrun(k))
	}
}
