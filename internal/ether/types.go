package ether

import "time"

// Protocol constants shared by the bus, the stations and the codecs.
const (
	// MaxStations bounds valid station ids; any destination id at or above
	// it is treated as broadcast.
	MaxStations = 1024

	// BroadcastID is the canonical broadcast sentinel produced by the
	// address codec for the broadcast MAC pattern.
	BroadcastID = MaxStations

	// MaxRetries is the collision retry limit per payload; one more
	// collision discards the payload.
	MaxRetries = 16

	// MaxSleepIncrease caps the backoff exponent (truncated binary
	// exponential backoff).
	MaxSleepIncrease = 10

	// FrameTicks is how long a frame occupies the bus: 1526 * 8 / 512
	// slot-time units.
	FrameTicks = 24

	// TickDuration is the virtual time advanced per simulation tick.
	TickDuration = 51200 * time.Nanosecond
)

// Payload is an outbound unit queued by a station before framing.
// A DstID at or above MaxStations addresses all stations.
type Payload struct {
	SrcID int
	DstID int
	Data  []byte
}

// IsBroadcast reports whether the payload addresses all stations.
func (p Payload) IsBroadcast() bool { return p.DstID >= MaxStations }
