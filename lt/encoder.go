package lt

import (
	"crypto/subtle"
	"fmt"
)

// Split cuts payload into blocks of blockSize bytes, zero padding the last
// one. An empty payload yields a single zero block.
func Split(payload []byte, blockSize int) [][]byte {
	if blockSize < 1 {
		panic(fmt.Sprintf("block size %d", blockSize))
	}
	k := (len(payload) + blockSize - 1) / blockSize
	if k == 0 {
		k = 1
	}
	blocks := make([][]byte, k)
	for i := range blocks {
		b := make([]byte, blockSize)
		start := i * blockSize
		if start < len(payload) {
			copy(b, payload[start:])
		}
		blocks[i] = b
	}
	return blocks
}

// Encoder produces an endless stream of coded symbols over a fixed set of
// source blocks.
type Encoder struct {
	gen       *Generator
	blocks    [][]byte
	blockSize int
	seq       uint32
}

// NewEncoder creates an encoder over blocks, which must all have the same
// length and match the generator's block count.
func NewEncoder(gen *Generator, blocks [][]byte) *Encoder {
	if gen.Blocks() != len(blocks) {
		panic("generator and encoder disagree on the number of blocks")
	}
	return &Encoder{
		gen:       gen,
		blocks:    blocks,
		blockSize: len(blocks[0]),
	}
}

// Next produces the symbol with the next sequence number.
func (e *Encoder) Next() (uint32, []int, []byte) {
	seq := e.seq
	e.seq += 1
	indices, data := e.Symbol(seq)
	return seq, indices, data
}

// Symbol produces the symbol with sequence number seq.
func (e *Encoder) Symbol(seq uint32) ([]int, []byte) {
	indices := e.gen.Indices(seq)
	data := make([]byte, e.blockSize)
	for _, idx := range indices {
		subtle.XORBytes(data, data, e.blocks[idx])
	}
	return indices, data
}

// Seek sets the sequence number Next produces from.
func (e *Encoder) Seek(seq uint32) {
	e.seq = seq
}
