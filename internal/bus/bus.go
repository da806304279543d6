// Package bus models the shared broadcast medium and drives the simulation
// clock. The bus is the only owner of mutable shared state: stations are
// polled sequentially each tick against a fixed snapshot, and the bus applies
// its own transitions only after every station has been polled.
package bus

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ivigns/mipt-cis-networks/internal/ether"
	"github.com/ivigns/mipt-cis-networks/internal/logging"
	"github.com/ivigns/mipt-cis-networks/internal/metrics"
	"github.com/ivigns/mipt-cis-networks/internal/station"
	"github.com/ivigns/mipt-cis-networks/internal/trace"
)

var (
	// ErrTooManyStations is returned when the requested station count
	// exceeds the addressable maximum.
	ErrTooManyStations = errors.New("bus: too many stations to create, max count is 1024")

	// ErrNoStations is returned for a non-positive station count.
	ErrNoStations = errors.New("bus: stations count must be positive")

	// ErrBadPayload wraps payload validation failures found at construction.
	ErrBadPayload = errors.New("bus: bad payload")

	// ErrTickBudget is returned by Run when the configured tick limit is
	// reached before the bus goes idle.
	ErrTickBudget = errors.New("bus: tick budget exhausted before going idle")
)

// sleepFn paces the run loop between ticks; overridable in tests.
var sleepFn = time.Sleep

type config struct {
	traceW   io.Writer
	seedFor  func(id int) uint64
	maxTicks uint64
}

// Option configures a Bus.
type Option func(*config)

// WithTraceWriter directs the protocol trace to w instead of stdout.
func WithTraceWriter(w io.Writer) Option { return func(c *config) { c.traceW = w } }

// WithBaseSeed seeds station i with base+i, making the whole run
// reproducible.
func WithBaseSeed(base uint64) Option {
	return WithSeeds(func(id int) uint64 { return base + uint64(id) })
}

// WithSeeds supplies the seed for every station id.
func WithSeeds(fn func(id int) uint64) Option { return func(c *config) { c.seedFor = fn } }

// WithMaxTicks bounds Run to at most n ticks (0 = unbounded).
func WithMaxTicks(n uint64) Option { return func(c *config) { c.maxTicks = n } }

// Bus owns the global clock, the medium state and the station vector.
type Bus struct {
	clock     time.Duration
	frame     *ether.Frame
	jammed    bool
	sendTimer int

	stations []*station.Station
	trace    *trace.Logger
	maxTicks uint64
}

// New validates the configuration, builds the stations and distributes the
// payloads to their source stations' queues.
func New(stationsCount int, payloads []ether.Payload, opts ...Option) (*Bus, error) {
	cfg := config{traceW: os.Stdout, seedFor: func(int) uint64 { return entropySeed() }}
	for _, o := range opts {
		o(&cfg)
	}

	if stationsCount <= 0 {
		return nil, ErrNoStations
	}
	if stationsCount > ether.MaxStations {
		return nil, ErrTooManyStations
	}

	b := &Bus{maxTicks: cfg.maxTicks}
	b.trace = trace.New(cfg.traceW, b.Clock, stationsCount-1)
	for id := range stationsCount {
		b.stations = append(b.stations, station.New(id, cfg.seedFor(id), b.trace))
	}

	for _, p := range payloads {
		if p.SrcID < 0 || p.SrcID >= stationsCount {
			return nil, fmt.Errorf("%w: source id %d points on nonexistent station", ErrBadPayload, p.SrcID)
		}
		if p.DstID < 0 || (p.DstID >= stationsCount && p.DstID < ether.MaxStations) {
			return nil, fmt.Errorf("%w: destination id %d points on nonexistent station", ErrBadPayload, p.DstID)
		}
		if len(p.Data) > ether.DataLen {
			return nil, fmt.Errorf("%w: data length %d exceeds %d bytes", ErrBadPayload, len(p.Data), ether.DataLen)
		}
		b.stations[p.SrcID].AddPayload(p)
	}

	metrics.SetStations(stationsCount)
	return b, nil
}

// Clock returns the current virtual time.
func (b *Bus) Clock() time.Duration { return b.clock }

// IsJammed reports whether a collision jammed the bus.
func (b *Bus) IsJammed() bool { return b.jammed }

// IsFree reports whether the bus carries no signal: not jammed and no
// transmission timer running.
func (b *Bus) IsFree() bool { return !b.jammed && b.sendTimer == 0 }

// IsNewFrameStart reports whether the on-bus frame was loaded at the end of
// the previous tick.
func (b *Bus) IsNewFrameStart() bool { return b.sendTimer == ether.FrameTicks-1 }

// FrameOnBus borrows the in-flight frame, or nil.
func (b *Bus) FrameOnBus() *ether.Frame { return b.frame }

// IsIdle reports whether the bus is clear and every station is idle. It
// stays false while a frame is still retiring on the bus.
func (b *Bus) IsIdle() bool {
	if b.jammed || b.frame != nil {
		return false
	}
	for _, s := range b.stations {
		if !s.IsIdle() {
			return false
		}
	}
	return true
}

// ProcessTick advances the simulation by one tick. The sub-step order is
// load-bearing: stations are polled against the entry snapshot, then jam
// clearing, frame retirement, timer aging, jam latching and frame loading
// happen in that order, and the clock advances last.
func (b *Bus) ProcessTick() {
	payload, rate := b.pollStations()

	// Reset bus after jam.
	if b.jammed {
		b.jammed = false
		b.sendTimer = 0
	}
	// Reset bus after frame sending.
	if b.sendTimer == 0 && b.frame != nil {
		b.frame = nil
	}
	// Tick timer.
	if b.sendTimer > 0 {
		b.sendTimer--
	}

	// Jam bus if there were collisions.
	if rate > 1 {
		b.jammed = true
	}
	// Load new payload to bus. A jam latched this very tick wins: the
	// colliding emissions are lost, no frame goes on the wire.
	if payload != nil && !b.jammed {
		f, err := ether.BuildFrame(*payload)
		if err != nil {
			// Payloads are validated at construction; this is a bug.
			logging.L().Error("frame_build_error", "src", payload.SrcID, "dst", payload.DstID, "error", err)
		} else {
			b.frame = f
			b.sendTimer = ether.FrameTicks - 1
		}
	}

	b.clock += ether.TickDuration
	metrics.IncTick()
}

// pollStations runs every station's tick in id order and counts concurrent
// carriers. An in-flight frame counts as one; every emission adds one, and
// crossing two is reported as a collision at the moment it happens.
func (b *Bus) pollStations() (*ether.Payload, int) {
	var payload *ether.Payload
	rate := 0
	if !b.IsFree() {
		rate = 1
	}
	for _, s := range b.stations {
		p := s.ProcessTick(b)
		if p == nil {
			continue
		}
		rate++
		if rate > 1 {
			b.trace.Bus(fmt.Sprintf("collision,\trate %d", rate))
			metrics.IncCollision()
		}
		payload = p
	}
	return payload, rate
}

// Run drives ticks until the bus goes idle, pacing by tickDelay when it is
// positive. It stops early when ctx is cancelled or the tick budget runs out.
func (b *Bus) Run(ctx context.Context, tickDelay time.Duration) error {
	var ticks uint64
	for !b.IsIdle() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if b.maxTicks > 0 && ticks >= b.maxTicks {
			return fmt.Errorf("%w (%d ticks)", ErrTickBudget, ticks)
		}
		b.ProcessTick()
		ticks++
		if tickDelay > 0 {
			sleepFn(tickDelay)
		}
	}
	return nil
}

// CorruptFrame inverts the checksum bytes of the frame currently on the bus
// and reports whether there was one. Test hook for wire-corruption runs.
func (b *Bus) CorruptFrame() bool {
	if b.frame == nil {
		return false
	}
	for i := ether.FrameSize - 4; i < ether.FrameSize; i++ {
		b.frame[i] ^= 0xFF
	}
	return true
}

// entropySeed draws a nondeterministic seed for production runs.
func entropySeed() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(buf[:])
}
