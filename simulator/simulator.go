// Package simulator measures how long an animated QR transfer takes when a
// camera samples a cycling display with loss and damage. It drives a real
// txqr encoder and decoder on simulated time.
package simulator

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/yangl1996/qrfountain/des"
	"github.com/yangl1996/qrfountain/txqr"
)

var ErrPayloadMismatch = errors.New("decoded payload differs from the one displayed")

const base64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// Result is the outcome of one trial.
type Result struct {
	Trial     int
	Completed bool
	// Duration is the simulated time from the first displayed frame until the
	// transfer completed, or until the trial gave up.
	Duration time.Duration
	Blocks   int
	Shown    int // frames displayed
	Reads    int // camera reads while a frame was on screen
	Lost     int // reads that produced nothing
	Damaged  int // reads with a damaged character
	Stats    txqr.Stats
}

// Overhead is the number of frames handed to the decoder per source block.
func (r Result) Overhead() float64 {
	if r.Blocks == 0 {
		return 0
	}
	return float64(r.Reads-r.Lost) / float64(r.Blocks)
}

type showFrame struct{}

type readFrame struct{}

type display struct {
	enc      *txqr.Encoder
	interval time.Duration
	frame    string
	shown    int
	err      error
}

func (d *display) HandleEvent(payload any, from des.Actor, now time.Duration) []des.Event {
	raw, err := d.enc.Next()
	if err != nil {
		d.err = err
		return nil
	}
	d.frame = raw
	d.shown += 1
	return []des.Event{{Payload: showFrame{}, Delay: d.interval}}
}

type camera struct {
	sim        *des.Simulator
	screen     *display
	dec        *txqr.Decoder
	clock      *clock.Mock
	epoch      time.Time
	rng        *rand.Rand
	interval   time.Duration
	loss       float64
	corruption float64

	reads   int
	lost    int
	damaged int
}

func (c *camera) HandleEvent(payload any, from des.Actor, now time.Duration) []des.Event {
	next := []des.Event{{Payload: readFrame{}, Delay: c.interval}}
	if c.screen.err != nil {
		c.sim.Stop()
		return nil
	}
	if c.screen.frame == "" {
		return next
	}
	c.reads += 1
	if c.rng.Float64() < c.loss {
		c.lost += 1
		return next
	}
	raw := c.screen.frame
	if c.rng.Float64() < c.corruption {
		raw = damage(c.rng, raw)
		c.damaged += 1
	}
	c.clock.Set(c.epoch.Add(now))
	c.dec.DecodeChunk(raw)
	if st := c.dec.State(); st == txqr.Completed || st == txqr.Stalled {
		c.sim.Stop()
		return nil
	}
	return next
}

// damage replaces one character of raw with a different base64 character.
func damage(rng *rand.Rand, raw string) string {
	b := []byte(raw)
	pos := rng.Intn(len(b))
	for {
		c := base64Alphabet[rng.Intn(len(base64Alphabet))]
		if c != b[pos] {
			b[pos] = c
			return string(b)
		}
	}
}

// Run plays one trial. The payload and every random choice derive from
// cfg.Seed and trial, so a trial can be replayed exactly. Extra decoder
// options, such as a logger, are passed through; the decoder clock always
// follows simulated time.
func Run(cfg Config, trial int, opts ...txqr.Option) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed + int64(trial)))
	payload := make([]byte, cfg.PayloadSize)
	rng.Read(payload)

	encOpts := []txqr.EncoderOption{txqr.WithTransferID(rng.Uint32())}
	if cfg.Seeded {
		encOpts = append(encOpts, txqr.WithSeeded())
	}
	enc, err := txqr.NewEncoder(payload, cfg.BlockSize, encOpts...)
	if err != nil {
		return Result{}, fmt.Errorf("trial %d: %w", trial, err)
	}

	mock := clock.NewMock()
	decOpts := append([]txqr.Option{}, opts...)
	dec := txqr.NewDecoder(append(decOpts, txqr.WithClock(mock))...)

	sim := &des.Simulator{}
	screen := &display{
		enc:      enc,
		interval: time.Duration(float64(time.Second) / cfg.FPS),
	}
	cam := &camera{
		sim:        sim,
		screen:     screen,
		dec:        dec,
		clock:      mock,
		epoch:      mock.Now(),
		rng:        rng,
		interval:   time.Duration(float64(time.Second) / cfg.ScanRate),
		loss:       cfg.Loss,
		corruption: cfg.Corruption,
	}
	sim.Schedule(des.Event{Payload: showFrame{}, To: screen}, nil)
	// the camera starts at a random phase relative to the display
	sim.Schedule(des.Event{Payload: readFrame{}, To: cam, Delay: time.Duration(rng.Int63n(int64(cam.interval)))}, nil)
	sim.RunUntil(cfg.MaxDuration)
	if screen.err != nil {
		return Result{}, fmt.Errorf("trial %d: %w", trial, screen.err)
	}

	res := Result{
		Trial:     trial,
		Completed: dec.IsCompleted(),
		Duration:  sim.Time(),
		Blocks:    enc.Header().Blocks,
		Shown:     screen.shown,
		Reads:     cam.reads,
		Lost:      cam.lost,
		Damaged:   cam.damaged,
		Stats:     dec.Stats(),
	}
	if res.Completed {
		data, err := dec.Data()
		if err != nil {
			return res, fmt.Errorf("trial %d: %w", trial, err)
		}
		if !bytes.Equal(data, payload) {
			return res, fmt.Errorf("trial %d: %w", trial, ErrPayloadMismatch)
		}
	}
	return res, nil
}

// RunAll plays cfg.Trials trials and logs one line per trial.
func RunAll(cfg Config, log zerolog.Logger, opts ...txqr.Option) ([]Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	results := make([]Result, 0, cfg.Trials)
	for i := 0; i < cfg.Trials; i++ {
		res, err := Run(cfg, i, opts...)
		if err != nil {
			return results, err
		}
		log.Info().
			Int("trial", i).
			Bool("completed", res.Completed).
			Dur("duration", res.Duration).
			Int("reads", res.Reads).
			Int("damaged", res.Damaged).
			Float64("overhead", res.Overhead()).
			Msg("trial finished")
		results = append(results, res)
	}
	return results, nil
}
