// Package chunk implements the text-safe wire format of coded symbols carried
// by animated QR frames.
package chunk

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/dchest/siphash"
	"golang.org/x/crypto/blake2b"
)

const (
	magic   byte = 'Q'
	version byte = 1

	flagSeeded byte = 1 << 0

	// ChecksumSize is the size of the payload digest carried in every symbol.
	ChecksumSize = 16
	// GuardSize is the size of the per-symbol integrity guard.
	GuardSize = 4
	// MaxBlocks bounds the number of source blocks of a transfer so that a
	// damaged header cannot make the receiver allocate an absurd arena.
	MaxBlocks = 1 << 16

	// magic, version, flags, transfer id, K, length, block size, checksum,
	// seq, degree
	fixedSize = 1 + 1 + 1 + 4 + 4 + 4 + 2 + ChecksumSize + 4 + 2
	indexSize = 4
)

// keys of the SipHash guard; the guard detects scan damage, not forgery
const (
	guardKey0 uint64 = 0x7478717266756e74
	guardKey1 uint64 = 0x61696e2d71722d31
)

var (
	ErrMalformedChunk = errors.New("malformed chunk")
	ErrBadLength      = errors.New("coded data length does not match block size")
	ErrCorruptSymbol  = errors.New("corrupt symbol")
)

// Header describes one logical payload transmission. It is repeated in every
// symbol so that a receiver can start from any frame.
type Header struct {
	TransferID uint32
	Blocks     int // K, number of source blocks
	Length     int // length of the unpadded payload
	BlockSize  int
	Checksum   [ChecksumSize]byte
}

// Validate checks that the header fields are mutually consistent.
func (h *Header) Validate() error {
	if h.Blocks < 1 || h.Blocks > MaxBlocks {
		return fmt.Errorf("%w: block count %d out of range", ErrMalformedChunk, h.Blocks)
	}
	if h.BlockSize < 1 || h.BlockSize > 0xffff {
		return fmt.Errorf("%w: block size %d out of range", ErrMalformedChunk, h.BlockSize)
	}
	if h.Length < 0 || h.Length > h.Blocks*h.BlockSize {
		return fmt.Errorf("%w: payload length %d exceeds %d blocks of %d bytes", ErrMalformedChunk, h.Length, h.Blocks, h.BlockSize)
	}
	// only the last block may be padded, and an empty payload is a single block
	if h.Length <= (h.Blocks-1)*h.BlockSize && !(h.Length == 0 && h.Blocks == 1) {
		return fmt.Errorf("%w: payload length %d leaves trailing empty blocks", ErrMalformedChunk, h.Length)
	}
	return nil
}

// Symbol is one coded symbol: the XOR of the source blocks listed in Indices.
// When Seeded is set the indices are not carried on the wire and Indices is
// nil after parsing; the receiver regenerates them from Seq.
type Symbol struct {
	Header
	Seq     uint32
	Seeded  bool
	Degree  int
	Indices []int
	Data    []byte
}

// Checksum computes the payload digest carried in Header.Checksum.
func Checksum(payload []byte) [ChecksumSize]byte {
	var res [ChecksumSize]byte
	h, _ := blake2b.New(ChecksumSize, nil) // never fails for a valid size and no key
	h.Write(payload)
	h.Sum(res[:0])
	return res
}

func guard(b []byte) uint32 {
	return uint32(siphash.Hash(guardKey0, guardKey1, b))
}

// MarshalBinary encodes the symbol into its binary wire form.
func (s *Symbol) MarshalBinary() ([]byte, error) {
	if err := s.Header.Validate(); err != nil {
		return nil, err
	}
	if len(s.Data) != s.BlockSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrBadLength, len(s.Data), s.BlockSize)
	}
	degree := s.Degree
	if !s.Seeded {
		degree = len(s.Indices)
	}
	if degree < 1 || degree > s.Blocks {
		return nil, fmt.Errorf("%w: degree %d with %d blocks", ErrMalformedChunk, degree, s.Blocks)
	}
	size := fixedSize + s.BlockSize + GuardSize
	if !s.Seeded {
		size += indexSize * degree
	}
	b := make([]byte, 0, size)
	b = append(b, magic, version)
	if s.Seeded {
		b = append(b, flagSeeded)
	} else {
		b = append(b, 0)
	}
	b = binary.BigEndian.AppendUint32(b, s.TransferID)
	b = binary.BigEndian.AppendUint32(b, uint32(s.Blocks))
	b = binary.BigEndian.AppendUint32(b, uint32(s.Length))
	b = binary.BigEndian.AppendUint16(b, uint16(s.BlockSize))
	b = append(b, s.Checksum[:]...)
	b = binary.BigEndian.AppendUint32(b, s.Seq)
	b = binary.BigEndian.AppendUint16(b, uint16(degree))
	if !s.Seeded {
		for _, idx := range s.Indices {
			if idx < 0 || idx >= s.Blocks {
				return nil, fmt.Errorf("%w: index %d out of range", ErrMalformedChunk, idx)
			}
			b = binary.BigEndian.AppendUint32(b, uint32(idx))
		}
	}
	b = append(b, s.Data...)
	b = binary.BigEndian.AppendUint32(b, guard(b))
	return b, nil
}

// UnmarshalBinary decodes a binary wire symbol. Structural problems are
// reported as ErrMalformedChunk, a data section of the wrong size as
// ErrBadLength, and a guard mismatch as ErrCorruptSymbol.
func (s *Symbol) UnmarshalBinary(b []byte) error {
	if len(b) < fixedSize+GuardSize {
		return fmt.Errorf("%w: %d bytes is shorter than a header", ErrMalformedChunk, len(b))
	}
	if b[0] != magic {
		return fmt.Errorf("%w: bad magic %#x", ErrMalformedChunk, b[0])
	}
	if b[1] != version {
		return fmt.Errorf("%w: unsupported version %d", ErrMalformedChunk, b[1])
	}
	flags := b[2]
	if flags&^flagSeeded != 0 {
		return fmt.Errorf("%w: unknown flags %#x", ErrMalformedChunk, flags)
	}
	h := Header{
		TransferID: binary.BigEndian.Uint32(b[3:7]),
		Blocks:     int(binary.BigEndian.Uint32(b[7:11])),
		Length:     int(binary.BigEndian.Uint32(b[11:15])),
		BlockSize:  int(binary.BigEndian.Uint16(b[15:17])),
	}
	copy(h.Checksum[:], b[17:17+ChecksumSize])
	off := 17 + ChecksumSize
	seq := binary.BigEndian.Uint32(b[off : off+4])
	degree := int(binary.BigEndian.Uint16(b[off+4 : off+6]))
	off += 6
	if degree == 0 {
		return fmt.Errorf("%w: zero degree", ErrMalformedChunk)
	}

	seeded := flags&flagSeeded != 0
	var raw []byte
	if !seeded {
		n := indexSize * degree
		if len(b) < off+n+GuardSize {
			return fmt.Errorf("%w: truncated index list", ErrMalformedChunk)
		}
		raw = b[off : off+n]
		off += n
	}
	if got := len(b) - off - GuardSize; got != h.BlockSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrBadLength, got, h.BlockSize)
	}
	body := b[:len(b)-GuardSize]
	if binary.BigEndian.Uint32(b[len(b)-GuardSize:]) != guard(body) {
		return ErrCorruptSymbol
	}

	if err := h.Validate(); err != nil {
		return err
	}
	if degree > h.Blocks {
		return fmt.Errorf("%w: degree %d exceeds %d blocks", ErrMalformedChunk, degree, h.Blocks)
	}
	var indices []int
	if !seeded {
		indices = make([]int, degree)
		seen := make(map[int]struct{}, degree)
		for i := range indices {
			idx := int(binary.BigEndian.Uint32(raw[i*indexSize:]))
			if idx >= h.Blocks {
				return fmt.Errorf("%w: index %d out of range", ErrMalformedChunk, idx)
			}
			if _, dup := seen[idx]; dup {
				return fmt.Errorf("%w: repeated index %d", ErrMalformedChunk, idx)
			}
			seen[idx] = struct{}{}
			indices[i] = idx
		}
	}

	s.Header = h
	s.Seq = seq
	s.Seeded = seeded
	s.Degree = degree
	s.Indices = indices
	s.Data = append([]byte(nil), body[off:]...)
	return nil
}

// Parse turns one scanned QR string into a symbol.
func Parse(raw string) (*Symbol, error) {
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedChunk, err)
	}
	s := &Symbol{}
	if err := s.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return s, nil
}

// Encode renders a symbol as the string shown in a QR frame.
func Encode(s *Symbol) (string, error) {
	b, err := s.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
