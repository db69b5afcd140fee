package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// growSlack is added on top of every reallocation so a run of small
// writes doesn't reallocate each time.
const growSlack = 128

// PacketBuilder constructs packet payloads and multi-packet request bodies.
type PacketBuilder struct {
	buf []byte
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// Reset clears the builder for reuse.
func (b *PacketBuilder) Reset() {
	b.buf = b.buf[:0]
}

func (b *PacketBuilder) grow(n int) {
	if len(b.buf)+n <= cap(b.buf) {
		return
	}
	next := make([]byte, len(b.buf), len(b.buf)+n+growSlack)
	copy(next, b.buf)
	b.buf = next
}

// WriteU8 writes a single byte.
func (b *PacketBuilder) WriteU8(v uint8) *PacketBuilder {
	b.grow(1)
	b.buf = append(b.buf, v)
	return b
}

func (b *PacketBuilder) WriteI8(v int8) *PacketBuilder { return b.WriteU8(uint8(v)) }

// WriteU16 writes a uint16 in little-endian order.
func (b *PacketBuilder) WriteU16(v uint16) *PacketBuilder {
	b.grow(2)
	b.buf = binary.LittleEndian.AppendUint16(b.buf, v)
	return b
}

func (b *PacketBuilder) WriteI16(v int16) *PacketBuilder { return b.WriteU16(uint16(v)) }

// WriteU32 writes a uint32 in little-endian order.
func (b *PacketBuilder) WriteU32(v uint32) *PacketBuilder {
	b.grow(4)
	b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
	return b
}

func (b *PacketBuilder) WriteI32(v int32) *PacketBuilder { return b.WriteU32(uint32(v)) }

// WriteU64 writes a uint64 in little-endian order.
func (b *PacketBuilder) WriteU64(v uint64) *PacketBuilder {
	b.grow(8)
	b.buf = binary.LittleEndian.AppendUint64(b.buf, v)
	return b
}

func (b *PacketBuilder) WriteI64(v int64) *PacketBuilder { return b.WriteU64(uint64(v)) }

func (b *PacketBuilder) WriteF32(v float32) *PacketBuilder {
	return b.WriteU32(math.Float32bits(v))
}

func (b *PacketBuilder) WriteF64(v float64) *PacketBuilder {
	return b.WriteU64(math.Float64bits(v))
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.grow(len(data))
	b.buf = append(b.buf, data...)
	return b
}

// WriteULEB128 writes v using the minimal number of LEB128 bytes.
func (b *PacketBuilder) WriteULEB128(v uint64) *PacketBuilder {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b.WriteU8(c | 0x80)
			continue
		}
		return b.WriteU8(c)
	}
}

// WriteString writes a Bancho string.
// Format: [0x00] for "", else [0x0B][len:uleb128][bytes...]
func (b *PacketBuilder) WriteString(s string) *PacketBuilder {
	if s == "" {
		return b.WriteU8(0)
	}
	b.WriteU8(0x0B)
	b.WriteULEB128(uint64(len(s)))
	b.grow(len(s))
	b.buf = append(b.buf, s...)
	return b
}

// WriteHash writes an MD5 hash as a Bancho string.
func (b *PacketBuilder) WriteHash(h MD5Hash) *PacketBuilder {
	return b.WriteString(h.String())
}

// WriteHeader writes the 7-byte packet envelope.
// Format: [id:2][reserved:1 = 0][length:4]
func (b *PacketBuilder) WriteHeader(id uint16, length uint32) *PacketBuilder {
	return b.WriteU16(id).WriteU8(0).WriteU32(length)
}

// WritePacket appends a fully framed packet (header + payload).
func (b *PacketBuilder) WritePacket(id uint16, payload []byte) *PacketBuilder {
	return b.WriteHeader(id, uint32(len(payload))).WriteBytes(payload)
}

// Build returns the constructed bytes. The slice aliases the builder.
func (b *PacketBuilder) Build() []byte {
	return b.buf
}

// Len returns the current size of the packet being built.
func (b *PacketBuilder) Len() int {
	return len(b.buf)
}

// Cap returns the current buffer capacity.
func (b *PacketBuilder) Cap() int {
	return cap(b.buf)
}

// Packet returns a read cursor over a copy of the built bytes.
func (b *PacketBuilder) Packet(id uint16) *Packet {
	data := make([]byte, len(b.buf))
	copy(data, b.buf)
	return NewPacket(id, data)
}

// String returns a hex dump of the current packet for debugging.
func (b *PacketBuilder) String() string {
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(b.buf), b.buf)
}

// ---- Pre-built payload constructors ----

// BuildI32 is the payload of the many packets that carry a single id.
func BuildI32(v int32) []byte {
	return NewPacketBuilder().WriteI32(v).Build()
}

// BuildString is the payload of packets that carry a single string.
func BuildString(s string) []byte {
	return NewPacketBuilder().WriteString(s).Build()
}
