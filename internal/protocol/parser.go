package protocol

import (
	"encoding/binary"
	"math"
)

// Packet is a read cursor over one incoming packet's payload. It owns its
// buffer; once handed to a queue the sender must not touch it again.
//
// Reads never fail loudly. A read that would run past the end poisons the
// cursor (pos = size+1) and returns a zero value, as does every read after
// it, so a handler can parse a truncated packet best-effort.
type Packet struct {
	ID  uint16
	buf []byte
	pos int
}

// NewPacket wraps payload as a readable packet with the given id.
func NewPacket(id uint16, payload []byte) *Packet {
	return &Packet{ID: id, buf: payload}
}

// Size returns the payload length.
func (p *Packet) Size() int { return len(p.buf) }

// Pos returns the cursor position. It is Size()+1 after a failed read.
func (p *Packet) Pos() int { return p.pos }

// Failed reports whether a read ran past the end of the payload.
func (p *Packet) Failed() bool { return p.pos > len(p.buf) }

// Remaining returns the number of unread bytes.
func (p *Packet) Remaining() int {
	if p.Failed() {
		return 0
	}
	return len(p.buf) - p.pos
}

// Bytes returns the whole payload.
func (p *Packet) Bytes() []byte { return p.buf }

// take advances the cursor by n and returns the consumed slice, or nil
// after poisoning the cursor.
func (p *Packet) take(n int) []byte {
	if n < 0 || p.Failed() || p.pos+n > len(p.buf) {
		p.pos = len(p.buf) + 1
		return nil
	}
	b := p.buf[p.pos : p.pos+n]
	p.pos += n
	return b
}

func (p *Packet) ReadU8() uint8 {
	b := p.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (p *Packet) ReadI8() int8 { return int8(p.ReadU8()) }

func (p *Packet) ReadU16() uint16 {
	b := p.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (p *Packet) ReadI16() int16 { return int16(p.ReadU16()) }

func (p *Packet) ReadU32() uint32 {
	b := p.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (p *Packet) ReadI32() int32 { return int32(p.ReadU32()) }

func (p *Packet) ReadU64() uint64 {
	b := p.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (p *Packet) ReadI64() int64 { return int64(p.ReadU64()) }

func (p *Packet) ReadF32() float32 { return math.Float32frombits(p.ReadU32()) }

func (p *Packet) ReadF64() float64 { return math.Float64frombits(p.ReadU64()) }

// ReadBytes returns a copy of the next n bytes.
func (p *Packet) ReadBytes(n int) []byte {
	b := p.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// ReadULEB128 decodes an unsigned LEB128 integer. Bits past 64 are
// discarded rather than overflowing.
func (p *Packet) ReadULEB128() uint64 {
	var result uint64
	var shift uint
	for {
		b := p.take(1)
		if b == nil {
			return 0
		}
		if shift < 64 {
			result |= uint64(b[0]&0x7f) << shift
		}
		shift += 7
		if b[0]&0x80 == 0 {
			return result
		}
	}
}

// ReadString decodes a Bancho string: a presence flag byte (0 means empty,
// 0x0B by convention means present), then a ULEB128 length and the raw
// bytes.
func (p *Packet) ReadString() string {
	if p.ReadU8() == 0 {
		return ""
	}
	n := p.ReadULEB128()
	if n == 0 || p.Failed() {
		return ""
	}
	if n > uint64(p.Remaining()) {
		p.pos = len(p.buf) + 1
		return ""
	}
	b := p.take(int(n))
	if b == nil {
		return ""
	}
	return string(b)
}

// ReadHash reads a string and keeps at most its first 32 bytes.
func (p *Packet) ReadHash() MD5Hash {
	return ParseMD5Hash(p.ReadString())
}

// Rewind moves the cursor back n bytes. It is a no-op on a failed packet.
func (p *Packet) Rewind(n int) {
	if p.Failed() {
		return
	}
	p.pos -= n
	if p.pos < 0 {
		p.pos = 0
	}
}
