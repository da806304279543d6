package ether

import (
	"errors"
	"fmt"
)

// ErrBadAddress is returned when a MAC address field cannot be decoded
// back to a station id.
var ErrBadAddress = errors.New("ether: undecodable address")

// BroadcastAddress is the wire pattern addressing all stations.
var BroadcastAddress = [6]byte{0x80, 0xBA, 0xBA, 0xFF, 0xFF, 0xFF}

var unicastOUI = [3]byte{0x00, 0xBA, 0xBA}

// EncodeAddress packs a unicast station id into the 6-byte address field:
// the fixed OUI in bytes 0..2, then the id 4 bits per byte, most significant
// nibble first, in the low nibbles of bytes 3..5. High nibbles stay zero.
func EncodeAddress(id int) ([6]byte, error) {
	if id < 0 || id >= MaxStations {
		return [6]byte{}, fmt.Errorf("%w: station id %d out of range", ErrBadAddress, id)
	}
	return [6]byte{
		unicastOUI[0], unicastOUI[1], unicastOUI[2],
		byte(id >> 8 & 0x0F),
		byte(id >> 4 & 0x0F),
		byte(id & 0x0F),
	}, nil
}

// DecodeAddress is the exact inverse of EncodeAddress. The broadcast
// pattern decodes to BroadcastID; this is the only place broadcast is
// recognized. Anything else that is not a well-formed unicast address
// is reported as ErrBadAddress.
func DecodeAddress(addr [6]byte) (int, error) {
	if addr == BroadcastAddress {
		return BroadcastID, nil
	}
	if addr[0] != unicastOUI[0] || addr[1] != unicastOUI[1] || addr[2] != unicastOUI[2] {
		return 0, fmt.Errorf("%w: unknown OUI % X", ErrBadAddress, addr[:3])
	}
	id := 0
	for _, b := range addr[3:] {
		if b&0xF0 != 0 {
			return 0, fmt.Errorf("%w: nonzero high nibble in % X", ErrBadAddress, addr[3:])
		}
		id = id<<4 | int(b&0x0F)
	}
	if id >= MaxStations {
		return 0, fmt.Errorf("%w: station id %d out of range", ErrBadAddress, id)
	}
	return id, nil
}
