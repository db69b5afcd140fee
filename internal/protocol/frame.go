package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the size of the packet envelope: [id:2][reserved:1][length:4].
const HeaderSize = 7

// MaxPacketLength is the sanity ceiling for a single packet's declared
// length. A larger value means the framing is corrupt and nothing after it
// can be trusted.
const MaxPacketLength = 10 * 1024 * 1024

var (
	// ErrPacketTooLarge is returned when a declared length exceeds MaxPacketLength.
	ErrPacketTooLarge = errors.New("packet length exceeds sanity ceiling")
	// ErrTruncated is returned when a declared length runs past the body.
	ErrTruncated = errors.New("packet truncated")
)

// Frame returns a header followed by payload.
func Frame(id uint16, payload []byte) []byte {
	return NewPacketBuilder().WritePacket(id, payload).Build()
}

// ReadFrames splits an HTTP body into packets, in wire order. On a corrupt
// or truncated frame it stops and returns the packets parsed so far along
// with the error; the remainder of the body is dropped.
func ReadFrames(body []byte) ([]*Packet, error) {
	var packets []*Packet
	pos := 0
	for len(body)-pos >= HeaderSize {
		id := binary.LittleEndian.Uint16(body[pos:])
		length := binary.LittleEndian.Uint32(body[pos+3:])
		pos += HeaderSize

		if length > MaxPacketLength {
			return packets, fmt.Errorf("packet %d declares %d bytes: %w", id, length, ErrPacketTooLarge)
		}
		if int(length) > len(body)-pos {
			return packets, fmt.Errorf("packet %d declares %d bytes, %d left: %w",
				id, length, len(body)-pos, ErrTruncated)
		}

		payload := make([]byte, length)
		copy(payload, body[pos:pos+int(length)])
		pos += int(length)
		packets = append(packets, NewPacket(id, payload))
	}
	if pos != len(body) {
		return packets, fmt.Errorf("%d trailing bytes: %w", len(body)-pos, ErrTruncated)
	}
	return packets, nil
}
