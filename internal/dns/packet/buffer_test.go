package packet

import "testing"

func TestBufferReadWriteU8(t *testing.T) {
	buf := NewPacketBuffer()
	if err := buf.WriteU8(0xAB); err != nil {
		t.Fatalf("WriteU8 failed: %v", err)
	}
	if buf.Position() != 1 {
		t.Errorf("expected position 1, got %d", buf.Position())
	}

	buf.Seek(0)
	v, err := buf.ReadU8()
	if err != nil || v != 0xAB {
		t.Errorf("ReadU8 = %x, %v; want 0xAB, nil", v, err)
	}
}

func TestBufferU16U32RoundTrip(t *testing.T) {
	buf := NewPacketBuffer()
	if err := buf.WriteU16(0x1234); err != nil {
		t.Fatalf("WriteU16: %v", err)
	}
	if err := buf.WriteU32(0xDEADBEEF); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}

	buf.Seek(0)
	u16, err := buf.ReadU16()
	if err != nil || u16 != 0x1234 {
		t.Errorf("ReadU16 = %x, %v; want 0x1234, nil", u16, err)
	}
	u32, err := buf.ReadU32()
	if err != nil || u32 != 0xDEADBEEF {
		t.Errorf("ReadU32 = %x, %v; want 0xDEADBEEF, nil", u32, err)
	}
}

func TestBufferWriteAtLastByteThenFail(t *testing.T) {
	buf := NewPacketBuffer()
	buf.Seek(PacketSize - 1)
	if err := buf.WriteU8(0x42); err != nil {
		t.Fatalf("write at pos=511 should succeed, got %v", err)
	}
	if buf.Position() != PacketSize {
		t.Errorf("expected position %d, got %d", PacketSize, buf.Position())
	}
	if err := buf.WriteU8(0x00); err == nil {
		t.Errorf("write at pos=512 should fail with EndOfBuffer")
	}
}

func TestBufferSetU16BackPatch(t *testing.T) {
	buf := NewPacketBuffer()
	lenPos := buf.Position()
	_ = buf.WriteU16(0)
	_ = buf.WriteU8(1)
	_ = buf.WriteU8(2)
	_ = buf.WriteU8(3)
	if err := buf.SetU16(lenPos, 3); err != nil {
		t.Fatalf("SetU16: %v", err)
	}
	if buf.Position() != lenPos+5 {
		t.Errorf("SetU16 must not move the cursor; pos=%d", buf.Position())
	}
	buf.Seek(lenPos)
	got, _ := buf.ReadU16()
	if got != 3 {
		t.Errorf("back-patched length = %d, want 3", got)
	}
}

func TestReadNameSimpleLabels(t *testing.T) {
	buf := NewPacketBuffer()
	if err := buf.WriteNameSimple("bugenzhao.com"); err != nil {
		t.Fatalf("WriteNameSimple: %v", err)
	}
	buf.Seek(0)
	name, err := buf.ReadName()
	if err != nil {
		t.Fatalf("ReadName: %v", err)
	}
	if name != "bugenzhao.com" {
		t.Errorf("ReadName = %q, want %q", name, "bugenzhao.com")
	}
}

func TestReadNameCompressionPointer(t *testing.T) {
	buf := NewPacketBuffer()
	// "dev" at offset 0.
	_ = buf.WriteNameSimple("dev")
	tailStart := buf.Position()
	// "bugen" label followed by a pointer back to offset 0 ("dev").
	_ = buf.WriteU8(5)
	for _, c := range []byte("bugen") {
		_ = buf.WriteU8(c)
	}
	_ = buf.WriteU16(0xC000) // pointer to offset 0

	buf.Seek(tailStart)
	name, err := buf.ReadName()
	if err != nil {
		t.Fatalf("ReadName: %v", err)
	}
	if name != "bugen.dev" {
		t.Errorf("ReadName = %q, want %q", name, "bugen.dev")
	}
	if buf.Position() != tailStart+6+2 {
		t.Errorf("cursor after pointer follow = %d, want %d", buf.Position(), tailStart+6+2)
	}
}

func TestReadNameCompressionCycleFails(t *testing.T) {
	buf := NewPacketBuffer()
	// A pointer at offset 0 that points to itself: an unbreakable cycle.
	_ = buf.SetU8(0, 0xC0)
	_ = buf.SetU8(1, 0x00)

	buf.Seek(0)
	_, err := buf.ReadName()
	if err == nil {
		t.Fatal("expected TooManyJumps error for a pointer cycle, got nil")
	}
	var jerr *JumpError
	if !asJumpError(err, &jerr) {
		t.Errorf("expected *JumpError, got %T: %v", err, err)
	}
}

func asJumpError(err error, target **JumpError) bool {
	je, ok := err.(*JumpError)
	if ok {
		*target = je
	}
	return ok
}

func TestToUTF8LossyReplacesInvalidBytes(t *testing.T) {
	buf := NewPacketBuffer()
	_ = buf.WriteU8(2)
	_ = buf.WriteU8(0xFF) // invalid UTF-8 start byte
	_ = buf.WriteU8(0xFE)
	_ = buf.WriteU8(0)

	buf.Seek(0)
	name, err := buf.ReadName()
	if err != nil {
		t.Fatalf("ReadName: %v", err)
	}
	if name == "" {
		t.Errorf("expected a replacement-character string, got empty")
	}
}
