package packet

import (
	"strings"
	"unicode/utf8"
)

// PacketSize is the fixed capacity of a PacketBuffer. The codec never
// reads or writes past it; messages larger than this are out of scope
// (truncation is passed through, not resolved).
const PacketSize = 512

// maxJumps bounds the number of compression-pointer indirections
// ReadName will follow before giving up on a malformed or cyclic name.
const maxJumps = 5

// PacketBuffer is a fixed-capacity 512-byte read/write cursor over a DNS
// message. It is created fresh for every send and every receive; it is
// never shared across requests.
type PacketBuffer struct {
	Buf [PacketSize]byte
	Pos int
}

// NewPacketBuffer returns a freshly zeroed buffer positioned at 0.
func NewPacketBuffer() *PacketBuffer {
	return &PacketBuffer{}
}

// Load copies data into a fresh buffer positioned at 0. data longer than
// PacketSize is truncated to the first PacketSize bytes, in keeping with
// the ">512 bytes is not resolved" non-goal.
func Load(data []byte) *PacketBuffer {
	b := &PacketBuffer{}
	copy(b.Buf[:], data)
	return b
}

// Clone copies bytes and position into a new, independent buffer.
func (b *PacketBuffer) Clone() *PacketBuffer {
	c := &PacketBuffer{Pos: b.Pos}
	c.Buf = b.Buf
	return c
}

// Position returns the current cursor position.
func (b *PacketBuffer) Position() int { return b.Pos }

// Step advances the cursor by n without a bounds check; an out-of-range
// position is only caught by the next read or write that touches it.
func (b *PacketBuffer) Step(n int) { b.Pos += n }

// Seek sets the cursor to pos.
func (b *PacketBuffer) Seek(pos int) { b.Pos = pos }

// PeekU8 reads a single byte at p without moving the cursor.
func (b *PacketBuffer) PeekU8(p int) (byte, error) {
	if p < 0 || p >= PacketSize {
		return 0, endOfBuffer(p)
	}
	return b.Buf[p], nil
}

// PeekRange reads n bytes starting at p without moving the cursor.
func (b *PacketBuffer) PeekRange(p, n int) ([]byte, error) {
	if p < 0 || p >= PacketSize || p+n >= PacketSize {
		return nil, endOfBuffer(p)
	}
	out := make([]byte, n)
	copy(out, b.Buf[p:p+n])
	return out, nil
}

// ReadU8 reads one byte and advances the cursor.
func (b *PacketBuffer) ReadU8() (byte, error) {
	if b.Pos >= PacketSize {
		return 0, endOfBuffer(b.Pos)
	}
	v := b.Buf[b.Pos]
	b.Pos++
	return v, nil
}

// ReadU16 reads a big-endian uint16 and advances the cursor by 2.
func (b *PacketBuffer) ReadU16() (uint16, error) {
	hi, err := b.ReadU8()
	if err != nil {
		return 0, err
	}
	lo, err := b.ReadU8()
	if err != nil {
		return 0, err
	}
	return uint16(hi)<<8 | uint16(lo), nil
}

// ReadU32 reads a big-endian uint32 and advances the cursor by 4.
func (b *PacketBuffer) ReadU32() (uint32, error) {
	var v uint32
	for i := 0; i < 4; i++ {
		byt, err := b.ReadU8()
		if err != nil {
			return 0, err
		}
		v = v<<8 | uint32(byt)
	}
	return v, nil
}

// WriteU8 writes a single byte and advances the cursor.
func (b *PacketBuffer) WriteU8(v byte) error {
	if b.Pos >= PacketSize {
		return endOfBuffer(b.Pos)
	}
	b.Buf[b.Pos] = v
	b.Pos++
	return nil
}

// WriteU16 writes a big-endian uint16 and advances the cursor by 2.
func (b *PacketBuffer) WriteU16(v uint16) error {
	if err := b.WriteU8(byte(v >> 8)); err != nil {
		return err
	}
	return b.WriteU8(byte(v))
}

// WriteU32 writes a big-endian uint32 and advances the cursor by 4.
func (b *PacketBuffer) WriteU32(v uint32) error {
	if err := b.WriteU8(byte(v >> 24)); err != nil {
		return err
	}
	if err := b.WriteU8(byte(v >> 16)); err != nil {
		return err
	}
	if err := b.WriteU8(byte(v >> 8)); err != nil {
		return err
	}
	return b.WriteU8(byte(v))
}

// SetU8 overwrites the byte at pos without moving the cursor. Used for
// back-patching a length field written earlier.
func (b *PacketBuffer) SetU8(pos int, v byte) error {
	if pos < 0 || pos >= PacketSize {
		return endOfBuffer(pos)
	}
	b.Buf[pos] = v
	return nil
}

// SetU16 overwrites the big-endian uint16 at pos without moving the
// cursor. This is the mechanism the record codec uses to back-patch the
// data_len field once a variable-length payload has been written.
func (b *PacketBuffer) SetU16(pos int, v uint16) error {
	if err := b.SetU8(pos, byte(v>>8)); err != nil {
		return err
	}
	return b.SetU8(pos+1, byte(v))
}

// WriteNameSimple emits name as length-prefixed labels terminated by a
// zero byte, with no compression. A label over 63 bytes fails with
// ErrLabelLengthExceeded.
func (b *PacketBuffer) WriteNameSimple(name string) error {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return b.WriteU8(0)
	}
	for _, label := range strings.Split(name, ".") {
		if len(label) > 63 {
			return labelLengthExceeded(label)
		}
		if err := b.WriteU8(byte(len(label))); err != nil {
			return err
		}
		for i := 0; i < len(label); i++ {
			if err := b.WriteU8(label[i]); err != nil {
				return err
			}
		}
	}
	return b.WriteU8(0)
}

// ReadName decodes a possibly compression-pointer-bearing name starting
// at the cursor. Labels are joined with '.'. Bytes of invalid UTF-8 in a
// label are replaced by the Unicode replacement character — a pragmatic
// compatibility choice for noisy DNS traffic.
//
// Two defenses guard against malformed input: a jump-depth counter that
// fails with ErrTooManyJumps once 5 pointers have been followed, and a
// post-jump termination rule — once a pointer has been followed, the
// cursor is repositioned to just past the pointer and no further label
// is read from the caller's original position.
func (b *PacketBuffer) ReadName() (string, error) {
	pos := b.Pos
	jumped := false
	jumps := 0

	var out strings.Builder

	for {
		if jumps >= maxJumps {
			return "", tooManyJumps(pos)
		}

		lenByte, err := b.PeekU8(pos)
		if err != nil {
			return "", err
		}

		if lenByte&0xC0 == 0xC0 {
			b2, err := b.PeekU8(pos + 1)
			if err != nil {
				return "", err
			}
			if !jumped {
				b.Seek(pos + 2)
			}
			target := int((uint16(lenByte)&0x3F)<<8 | uint16(b2))
			pos = target
			jumped = true
			jumps++
			continue
		}

		if lenByte == 0 {
			pos++
			if !jumped {
				b.Seek(pos)
			}
			return strings.TrimSuffix(out.String(), "."), nil
		}

		pos++
		n := int(lenByte)
		if pos+n > PacketSize {
			return "", endOfBuffer(pos)
		}
		label := make([]byte, n)
		copy(label, b.Buf[pos:pos+n])
		out.WriteString(toUTF8Lossy(label))
		out.WriteByte('.')
		pos += n
	}
}

func toUTF8Lossy(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		sb.WriteRune(r)
		b = b[size:]
	}
	return sb.String()
}
