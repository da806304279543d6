package ether

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// Frame wire layout, 1526 bytes total. Multi-byte fields are little-endian,
// matching the memory image of the reference hardware.
const (
	FrameSize = 1526
	DataLen   = 1500

	offSFD  = 7
	offDst  = 8
	offSrc  = 14
	offLen  = 20
	offData = 22
	offFCS  = 1522

	preambleByte = 0xAA
	sfdByte      = 0xAB
)

var (
	// ErrPayloadTooLong is returned when payload data exceeds the 1500-byte
	// data region.
	ErrPayloadTooLong = errors.New("ether: payload data longer than 1500 bytes")

	// ErrBroadcastSource is returned when a frame source is not a real
	// station id; sources cannot be broadcast.
	ErrBroadcastSource = errors.New("ether: source address cannot be of broadcast type")
)

// Frame is the bit-exact on-wire image of a MAC frame. It lives on the bus
// while a transmission is in flight; stations observe it by borrow.
type Frame [FrameSize]byte

// BuildFrame constructs the on-wire image for a payload: static preamble and
// SFD, encoded addresses (a broadcast destination maps to the broadcast
// pattern), the fixed length field, the data region zero-padded after the
// payload bytes, and finally the checksum over everything before it.
func BuildFrame(p Payload) (*Frame, error) {
	if len(p.Data) > DataLen {
		return nil, fmt.Errorf("%w (%d)", ErrPayloadTooLong, len(p.Data))
	}
	src, err := EncodeAddress(p.SrcID)
	if err != nil {
		return nil, ErrBroadcastSource
	}
	dst := BroadcastAddress
	if !p.IsBroadcast() {
		if dst, err = EncodeAddress(p.DstID); err != nil {
			return nil, err
		}
	}

	f := new(Frame)
	for i := range offSFD {
		f[i] = preambleByte
	}
	f[offSFD] = sfdByte
	copy(f[offDst:], dst[:])
	copy(f[offSrc:], src[:])
	binary.LittleEndian.PutUint16(f[offLen:], DataLen)
	copy(f[offData:], p.Data)
	f.Seal()
	return f, nil
}

// Checksum returns the stored frame check sequence.
func (f *Frame) Checksum() uint32 { return binary.LittleEndian.Uint32(f[offFCS:]) }

// ComputeChecksum hashes all bytes preceding the checksum field.
func (f *Frame) ComputeChecksum() uint32 {
	return crc32.Update(0, crc32.IEEETable, f[:offFCS])
}

// Seal stores the computed checksum into the frame.
func (f *Frame) Seal() {
	binary.LittleEndian.PutUint32(f[offFCS:], f.ComputeChecksum())
}

// Valid reports whether the start-of-frame delimiter is intact and the
// stored checksum matches the frame contents.
func (f *Frame) Valid() bool {
	return f[offSFD] == sfdByte && f.Checksum() == f.ComputeChecksum()
}

// Source decodes the source address field.
func (f *Frame) Source() (int, error) {
	return DecodeAddress([6]byte(f[offSrc : offSrc+6]))
}

// Destination decodes the destination address field.
func (f *Frame) Destination() (int, error) {
	return DecodeAddress([6]byte(f[offDst : offDst+6]))
}

// Data returns the payload bytes: the data region up to its first NUL.
func (f *Frame) Data() []byte {
	d := f[offData : offData+DataLen]
	if i := bytes.IndexByte(d, 0); i >= 0 {
		d = d[:i]
	}
	return d
}
