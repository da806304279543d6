// Package station implements the per-station CSMA/CD state machine:
// carrier sense, transmission, collision retry with truncated binary
// exponential backoff, and frame reception.
package station

import (
	"fmt"
	"math/rand/v2"

	"github.com/ivigns/mipt-cis-networks/internal/ether"
	"github.com/ivigns/mipt-cis-networks/internal/metrics"
	"github.com/ivigns/mipt-cis-networks/internal/trace"
)

// Medium is the bus snapshot a station observes during its tick. The bus
// defers its own state changes until every station has been polled, so all
// stations see the same snapshot within a tick.
type Medium interface {
	// IsJammed reports whether a collision jammed the bus.
	IsJammed() bool
	// IsFree reports whether the bus carries no signal this tick.
	IsFree() bool
	// IsNewFrameStart reports whether the on-bus frame started this tick.
	IsNewFrameStart() bool
	// FrameOnBus borrows the in-flight frame, or nil.
	FrameOnBus() *ether.Frame
}

// Station owns a FIFO of outbound payloads and its backoff RNG. It holds no
// bus reference; the medium is passed in on every tick.
type Station struct {
	id    int
	queue []ether.Payload

	sleepTimer int
	receiving  bool
	sending    bool
	retries    int

	rng *rand.Rand
	log *trace.Logger
}

// New creates a station. The seed fully determines the station's backoff
// draws; runs with identical seeds and inputs are reproducible.
func New(id int, seed uint64, log *trace.Logger) *Station {
	return &Station{
		id:  id,
		rng: rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
		log: log,
	}
}

// ID returns the station's stable index.
func (s *Station) ID() int { return s.id }

// AddPayload queues a payload for transmission.
func (s *Station) AddPayload(p ether.Payload) { s.queue = append(s.queue, p) }

// IsIdle reports whether the station has nothing queued, in flight or pending.
func (s *Station) IsIdle() bool {
	return s.sleepTimer == 0 && !s.sending && len(s.queue) == 0
}

// ProcessTick runs the receive sub-phase then the send sub-phase and
// returns the payload the station begins emitting this tick, if any.
func (s *Station) ProcessTick(m Medium) *ether.Payload {
	s.processReceive(m)
	return s.processSend(m)
}

func (s *Station) processReceive(m Medium) {
	// A jam cancels any reception in progress.
	if m.IsJammed() {
		s.stopReceive()
		return
	}
	f := m.FrameOnBus()
	if f == nil {
		return
	}
	if !f.Valid() {
		s.log.Message(s.id, "!!! received corrupted frame")
		metrics.IncCorruptedFrame()
		s.stopReceive()
		return
	}
	srcID, serr := f.Source()
	dstID, derr := f.Destination()
	if serr != nil || derr != nil {
		s.log.Message(s.id, "!!! received corrupted frame")
		metrics.IncCorruptedFrame()
		s.stopReceive()
		return
	}
	if (dstID != ether.BroadcastID && dstID != s.id) || srcID == s.id {
		s.stopReceive()
		return
	}
	switch {
	case m.IsNewFrameStart():
		s.stopReceive()
		s.log.Frame(s.id, "start receiving frame", f)
		s.receiving = true
	case m.IsFree():
		// The frame finished this tick.
		if s.receiving {
			s.log.Frame(s.id, "successfully received frame", f)
			metrics.IncFrameReceived()
		} else {
			s.log.Frame(s.id, "!!! missed frame", f)
			metrics.IncMissedFrame()
		}
		s.receiving = false
	}
}

func (s *Station) processSend(m Medium) *ether.Payload {
	// Continue sleep if needed.
	if s.sleepTimer > 0 {
		s.sleepTimer--
		return nil
	}
	// If sending a frame, check the bus for a collision.
	if s.sending {
		switch {
		case m.IsJammed():
			s.sending = false
			s.retries++
			if s.retries > ether.MaxRetries {
				s.log.Payload(s.id, "max retries exceeded while sending frame", s.queue[0])
				metrics.IncPayloadDropped()
				s.finishSend()
				return nil
			}
			s.log.Message(s.id, fmt.Sprintf("retry count = %d", s.retries))
			metrics.IncRetry()
			s.startSleep()
			return nil
		case m.IsFree():
			s.log.Payload(s.id, "finish sending frame", s.queue[0])
			metrics.IncFrameSent()
			s.finishSend()
		default:
			// Our frame is still in flight.
			return nil
		}
	}
	// Try to send the head of the queue.
	if len(s.queue) > 0 {
		if m.IsFree() {
			s.sending = true
			s.log.Payload(s.id, "start sending frame", s.queue[0])
			p := s.queue[0]
			return &p
		}
		s.startSleep()
	}
	return nil
}

// startSleep draws the backoff delay: uniform over [0, 2^min(retries, 10)].
func (s *Station) startSleep() {
	k := min(s.retries, ether.MaxSleepIncrease)
	maxDelay := uint64(1) << k
	s.sleepTimer = int(s.rng.Uint64N(maxDelay + 1))
}

func (s *Station) finishSend() {
	s.sending = false
	s.retries = 0
	s.queue = s.queue[1:]
	if s.IsIdle() {
		s.log.Message(s.id, "nothing left to send")
	}
}

func (s *Station) stopReceive() {
	if s.receiving {
		s.log.Message(s.id, "!!! frame receive interrupt")
		metrics.IncReceiveInterrupt()
	}
	s.receiving = false
}
