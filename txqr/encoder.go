package txqr

import (
	"fmt"

	"github.com/cespare/xxhash"

	"github.com/yangl1996/qrfountain/chunk"
	"github.com/yangl1996/qrfountain/lt"
)

// Encoder turns a payload into an endless sequence of chunk strings, one per
// QR frame. The first chunks carry the source blocks in order; every later
// chunk is a fountain-coded combination.
type Encoder struct {
	header chunk.Header
	enc    *lt.Encoder
	seeded bool
}

// EncoderOption configures an Encoder.
type EncoderOption func(*encoderConfig)

type encoderConfig struct {
	transferID *uint32
	seeded     bool
}

// WithTransferID overrides the transfer id, which defaults to a hash of the
// payload.
func WithTransferID(id uint32) EncoderOption {
	return func(c *encoderConfig) {
		c.transferID = &id
	}
}

// WithSeeded leaves the block indices out of the chunks. Receivers
// regenerate them from the sequence number, which saves four bytes per
// covered block in every frame.
func WithSeeded() EncoderOption {
	return func(c *encoderConfig) {
		c.seeded = true
	}
}

// NewEncoder prepares payload for transmission in blocks of blockSize bytes.
func NewEncoder(payload []byte, blockSize int, opts ...EncoderOption) (*Encoder, error) {
	cfg := encoderConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if blockSize < 1 || blockSize > 0xffff {
		return nil, fmt.Errorf("block size %d out of range", blockSize)
	}
	blocks := lt.Split(payload, blockSize)
	h := chunk.Header{
		TransferID: uint32(xxhash.Sum64(payload)),
		Blocks:     len(blocks),
		Length:     len(payload),
		BlockSize:  blockSize,
		Checksum:   chunk.Checksum(payload),
	}
	if cfg.transferID != nil {
		h.TransferID = *cfg.transferID
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	gen := lt.NewGenerator(uint64(h.TransferID), h.Blocks)
	return &Encoder{
		header: h,
		enc:    lt.NewEncoder(gen, blocks),
		seeded: cfg.seeded,
	}, nil
}

// Header returns the transfer header shared by all chunks.
func (e *Encoder) Header() chunk.Header {
	return e.header
}

// Next returns the chunk with the next sequence number.
func (e *Encoder) Next() (string, error) {
	seq, indices, data := e.enc.Next()
	return e.encode(seq, indices, data)
}

// Chunk returns the chunk with sequence number seq.
func (e *Encoder) Chunk(seq uint32) (string, error) {
	indices, data := e.enc.Symbol(seq)
	return e.encode(seq, indices, data)
}

func (e *Encoder) encode(seq uint32, indices []int, data []byte) (string, error) {
	s := &chunk.Symbol{
		Header: e.header,
		Seq:    seq,
		Seeded: e.seeded,
		Degree: len(indices),
		Data:   data,
	}
	if !e.seeded {
		s.Indices = indices
	}
	return chunk.Encode(s)
}
