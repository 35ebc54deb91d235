// Package txqr reassembles a payload from the chunks of an animated QR code.
//
// A Decoder is fed one scanned string at a time, in any order and with any
// amount of loss or repetition. It reports progress while it peels coded
// symbols and declares completion only once every block is resolved and the
// reassembled payload matches the checksum carried by the chunks.
package txqr

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/benbjohnson/clock"
	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yangl1996/qrfountain/chunk"
	"github.com/yangl1996/qrfountain/lt"
)

var (
	ErrNotReady         = errors.New("transfer is not complete")
	ErrChecksumMismatch = errors.New("reassembled payload does not match its checksum")
	ErrHeaderMismatch   = errors.New("chunk header disagrees with the transfer")
)

// SpeedUnknown is reported by Speed before a rate can be measured.
const SpeedUnknown = "-"

// State is the lifecycle stage of a transfer.
type State int

const (
	Idle State = iota
	Receiving
	Completed
	// Stalled transfers resolved every block but failed the checksum. Only a
	// new transfer or an explicit Reset leaves this state.
	Stalled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Receiving:
		return "receiving"
	case Completed:
		return "completed"
	case Stalled:
		return "stalled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome reports what DecodeChunk did with one scanned string.
type Outcome int

const (
	Rejected Outcome = iota
	Accepted
	Duplicate
	Redundant
	Conflicting
	// Reset means the chunk belonged to a new transfer; the previous one was
	// discarded and the chunk was accepted as the first of the new transfer.
	Reset
	// Ignored chunks arrived after the transfer completed or stalled.
	Ignored
)

func (o Outcome) String() string {
	switch o {
	case Rejected:
		return "rejected"
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case Redundant:
		return "redundant"
	case Conflicting:
		return "conflicting"
	case Reset:
		return "reset"
	case Ignored:
		return "ignored"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Stats is a snapshot of the counters of the current transfer.
type Stats struct {
	Session    uuid.UUID
	TransferID uint32
	State      State

	Blocks   int
	Resolved int
	Pending  int

	Accepted     int
	Duplicates   int
	Redundant    int
	Rejected     int
	Conflicts    int
	Inconsistent int
	Bytes        int64

	First time.Time
	Last  time.Time
	// quantiles of the time between consecutive accepted chunks
	IntervalP50 time.Duration
	IntervalP95 time.Duration
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(d *Decoder) {
		d.log = log
	}
}

// WithClock sets the clock used to timestamp accepted chunks.
func WithClock(c clock.Clock) Option {
	return func(d *Decoder) {
		d.clock = c
	}
}

// Decoder is the receiving side of one scan. All methods are safe for
// concurrent use; queries never observe a store in the middle of peeling.
type Decoder struct {
	mu    sync.RWMutex
	log   zerolog.Logger
	clock clock.Clock

	session uuid.UUID
	state   State
	header  chunk.Header
	store   *lt.Store
	gen     *lt.Generator // built on the first seeded chunk
	payload []byte

	accepted   int
	duplicates int
	redundant  int
	rejected   int
	bytes      int64
	first      time.Time
	last       time.Time
	interval   time.Duration
	intervals  *ddsketch.DDSketch
}

// NewDecoder creates an idle decoder.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{
		log:   zerolog.Nop(),
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.reset()
	return d
}

func newIntervalSketch() *ddsketch.DDSketch {
	sketch, err := ddsketch.NewDefaultDDSketch(0.01)
	if err != nil {
		panic(err)
	}
	return sketch
}

// reset drops all transfer state. The caller holds the write lock.
func (d *Decoder) reset() {
	d.session = uuid.New()
	d.state = Idle
	d.header = chunk.Header{}
	d.store = nil
	d.gen = nil
	d.payload = nil
	d.accepted = 0
	d.duplicates = 0
	d.redundant = 0
	d.rejected = 0
	d.bytes = 0
	d.first = time.Time{}
	d.last = time.Time{}
	d.interval = 0
	d.intervals = newIntervalSketch()
}

// Reset abandons the current transfer.
func (d *Decoder) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reset()
}

// begin starts a new transfer described by h.
func (d *Decoder) begin(h chunk.Header) {
	// garbage scanned before the first valid chunk still counts
	carried := 0
	if d.state == Idle {
		carried = d.rejected
	}
	d.reset()
	d.rejected = carried
	d.header = h
	d.store = lt.NewStore(h.Blocks, h.BlockSize)
	d.state = Receiving
	d.log.Info().
		Str("session", d.session.String()).
		Uint32("transfer", h.TransferID).
		Int("blocks", h.Blocks).
		Int("block_size", h.BlockSize).
		Int("length", h.Length).
		Msg("new transfer")
}

// DecodeChunk processes one scanned string. Errors describe why the chunk was
// not used; none of them are fatal and the caller should keep scanning.
func (d *Decoder) DecodeChunk(raw string) (Outcome, error) {
	sym, err := chunk.Parse(raw)

	d.mu.Lock()
	defer d.mu.Unlock()

	if err != nil {
		d.rejected += 1
		d.log.Debug().Err(err).Msg("chunk rejected")
		return Rejected, fmt.Errorf("decode chunk: %w", err)
	}

	fresh := d.state == Idle || sym.TransferID != d.header.TransferID
	if !fresh {
		switch {
		case sym.Header != d.header:
			d.rejected += 1
			return Rejected, fmt.Errorf("decode chunk: %w: %w", chunk.ErrCorruptSymbol, ErrHeaderMismatch)
		case d.state == Completed:
			return Ignored, nil
		case d.state == Stalled:
			return Ignored, ErrChecksumMismatch
		}
	}

	// the symbol must be usable before a new transfer may replace the current one
	gen := d.gen
	if fresh {
		gen = nil
	}
	indices := sym.Indices
	if sym.Seeded {
		if gen == nil {
			gen = lt.NewGenerator(uint64(sym.TransferID), sym.Blocks)
		}
		indices = gen.Indices(sym.Seq)
		if len(indices) != sym.Degree {
			d.rejected += 1
			return Rejected, fmt.Errorf("decode chunk: %w: seq %d regenerates degree %d, chunk says %d", chunk.ErrCorruptSymbol, sym.Seq, len(indices), sym.Degree)
		}
	}

	outcome := Accepted
	if fresh {
		if d.state != Idle {
			d.log.Info().
				Uint32("old", d.header.TransferID).
				Uint32("new", sym.TransferID).
				Msg("chunk from another transfer, starting over")
			outcome = Reset
		}
		d.begin(sym.Header)
	}
	d.gen = gen

	res, err := d.store.Add(indices, sym.Data)
	switch res {
	case lt.Duplicate:
		d.duplicates += 1
		return Duplicate, nil
	case lt.Redundant:
		d.redundant += 1
		return Redundant, nil
	case lt.Conflicting:
		d.log.Warn().Err(err).Uint32("seq", sym.Seq).Msg("conflicting block")
		return Conflicting, fmt.Errorf("decode chunk: %w", err)
	case lt.Rejected:
		d.rejected += 1
		d.log.Debug().Err(err).Uint32("seq", sym.Seq).Msg("symbol rejected by store")
		return Rejected, fmt.Errorf("decode chunk: %w: %w", chunk.ErrCorruptSymbol, err)
	}

	peeled := d.store.Peel()
	d.record(len(sym.Data))
	d.log.Debug().
		Uint32("seq", sym.Seq).
		Int("degree", len(indices)).
		Int("peeled", peeled).
		Int("resolved", d.store.Resolved()).
		Msg("chunk accepted")

	if d.store.Done() {
		if err := d.finish(); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

// record updates timing and throughput counters for an accepted chunk.
func (d *Decoder) record(n int) {
	now := d.clock.Now()
	if d.accepted == 0 {
		d.first = now
	} else {
		d.interval = now.Sub(d.last)
		if err := d.intervals.Add(float64(d.interval) / float64(time.Millisecond)); err != nil {
			d.log.Debug().Err(err).Msg("failed to record read interval")
		}
	}
	d.last = now
	d.accepted += 1
	d.bytes += int64(n)
}

// finish runs the checksum gate once every block is resolved.
func (d *Decoder) finish() error {
	payload, err := d.store.Assemble(d.header.Length)
	if err != nil {
		return err
	}
	if chunk.Checksum(payload) != d.header.Checksum {
		d.state = Stalled
		d.log.Warn().
			Uint32("transfer", d.header.TransferID).
			Int("conflicts", d.store.Conflicts()).
			Msg("all blocks resolved but the checksum does not match")
		return ErrChecksumMismatch
	}
	d.payload = payload
	d.state = Completed
	d.log.Info().
		Uint32("transfer", d.header.TransferID).
		Int("chunks", d.accepted).
		Str("speed", d.speed()).
		Msg("transfer complete")
	return nil
}

// IsCompleted reports whether the payload was reassembled and verified.
func (d *Decoder) IsCompleted() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state == Completed
}

// State returns the lifecycle stage of the current transfer.
func (d *Decoder) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Progress returns the percentage of resolved blocks, rounded down.
func (d *Decoder) Progress() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.store == nil {
		return 0
	}
	return 100 * d.store.Resolved() / d.store.Blocks()
}

// Speed returns the accepted coded bytes per second since the first accepted
// chunk, for example "1.2kB/s".
func (d *Decoder) Speed() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.speed()
}

func (d *Decoder) speed() string {
	if d.accepted == 0 {
		return SpeedUnknown
	}
	elapsed := d.clock.Since(d.first).Seconds()
	if elapsed <= 0 {
		return SpeedUnknown
	}
	return units.HumanSizeWithPrecision(float64(d.bytes)/elapsed, 3) + "/s"
}

// ReadInterval returns the time between the two most recent accepted chunks,
// truncated to milliseconds. It is a diagnostic of the scan cadence.
func (d *Decoder) ReadInterval() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.interval.Truncate(time.Millisecond)
}

// Data returns the reassembled payload once the transfer is complete.
func (d *Decoder) Data() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.state != Completed {
		return nil, ErrNotReady
	}
	return append([]byte(nil), d.payload...), nil
}

// Stats returns a snapshot of the transfer counters.
func (d *Decoder) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st := Stats{
		Session:    d.session,
		TransferID: d.header.TransferID,
		State:      d.state,
		Accepted:   d.accepted,
		Duplicates: d.duplicates,
		Redundant:  d.redundant,
		Rejected:   d.rejected,
		Bytes:      d.bytes,
		First:      d.first,
		Last:       d.last,
	}
	if d.store != nil {
		st.Blocks = d.store.Blocks()
		st.Resolved = d.store.Resolved()
		st.Pending = d.store.Pending()
		st.Conflicts = d.store.Conflicts()
		st.Inconsistent = d.store.Inconsistent()
	}
	if d.intervals.GetCount() > 0 {
		qs, err := d.intervals.GetValuesAtQuantiles([]float64{0.50, 0.95})
		if err == nil {
			st.IntervalP50 = time.Duration(qs[0] * float64(time.Millisecond))
			st.IntervalP95 = time.Duration(qs[1] * float64(time.Millisecond))
		}
	}
	return st
}
