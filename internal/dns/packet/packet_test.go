package packet

import (
	"net"
	"testing"
)

func TestHeaderFlagsRoundTrip(t *testing.T) {
	h := Header{
		ID:                  0xBEEF,
		RecursionDesired:    true,
		TruncatedMessage:    false,
		AuthoritativeAnswer: true,
		Opcode:              0,
		Response:            true,
		ResultCode:          NxDomain,
		CheckingDisabled:    true,
		AuthenticatedData:   false,
		Z:                   false,
		RecursionAvailable:  true,
	}

	buf := NewPacketBuffer()
	if err := h.Write(buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if buf.Position() != 12 {
		t.Errorf("header size = %d, want 12", buf.Position())
	}

	buf.Seek(0)
	var got Header
	if err := got.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != h {
		t.Errorf("Header round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestHeaderInvalidResultCodeFails(t *testing.T) {
	buf := NewPacketBuffer()
	_ = buf.WriteU16(1) // id
	_ = buf.WriteU16(6) // flags byte1=0, byte2 low nibble = 6 (invalid rcode)
	_ = buf.WriteU16(0)
	_ = buf.WriteU16(0)
	_ = buf.WriteU16(0)
	_ = buf.WriteU16(0)

	buf.Seek(0)
	var h Header
	err := h.Read(buf)
	if err == nil {
		t.Fatal("expected InvalidResultCode error, got nil")
	}
	if _, ok := err.(*ResultCodeError); !ok {
		t.Errorf("expected *ResultCodeError, got %T", err)
	}
}

func TestQuestionRoundTrip(t *testing.T) {
	q := Question{Name: "bugenzhao.com", Type: TypeAAAA}
	buf := NewPacketBuffer()
	if err := q.Write(buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf.Seek(0)
	var got Question
	if err := got.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != q {
		t.Errorf("Question round trip mismatch: got %+v, want %+v", got, q)
	}
}

func TestQuestionUnknownTypeIsLossy(t *testing.T) {
	buf := NewPacketBuffer()
	_ = buf.WriteNameSimple("example.com")
	_ = buf.WriteU16(16) // TXT, not modeled as a question type
	_ = buf.WriteU16(1)

	buf.Seek(0)
	var q Question
	if err := q.Read(buf); err != nil {
		t.Fatalf("Read should not fail on an unknown question type: %v", err)
	}
	if q.Type != TypeUnknown {
		t.Errorf("Type = %v, want TypeUnknown", q.Type)
	}
}

func TestRecordRoundTripAllTypes(t *testing.T) {
	cases := []Record{
		{Name: "416.bugen.dev", Type: TypeA, TTL: 300, Addr: net.ParseIP("59.78.37.159").To4()},
		{Name: "google.com", Type: TypeNS, TTL: 3600, Host: "ns2.google.com"},
		{Name: "www.bugenzhao.com", Type: TypeCNAME, TTL: 600, Host: "bugenzhao.com"},
		{Name: "qq.com", Type: TypeMX, TTL: 600, Pref: 5, Host: "mxbiz1.qq.com"},
		{Name: "ipv6.bugen.dev", Type: TypeAAAA, TTL: 120, Addr: net.ParseIP("2001:db8::1")},
	}

	for _, want := range cases {
		buf := NewPacketBuffer()
		if _, err := want.Write(buf); err != nil {
			t.Fatalf("%s: Write: %v", want.Type, err)
		}
		buf.Seek(0)
		var got Record
		if err := got.Read(buf); err != nil {
			t.Fatalf("%s: Read: %v", want.Type, err)
		}
		if got.Name != want.Name || got.Type != want.Type || got.TTL != want.TTL || got.Host != want.Host || got.Pref != want.Pref {
			t.Errorf("%s round trip mismatch: got %+v, want %+v", want.Type, got, want)
		}
		if want.Addr != nil && !got.Addr.Equal(want.Addr) {
			t.Errorf("%s addr mismatch: got %v, want %v", want.Type, got.Addr, want.Addr)
		}
	}
}

func TestRecordUnknownTypeSkippedByPacket(t *testing.T) {
	buf := NewPacketBuffer()

	hdr := Header{Answers: 2}
	_ = hdr.Write(buf)

	// First answer: an unsupported SOA-ish record (type 6), which should
	// be skipped without failing the whole packet.
	_ = buf.WriteNameSimple("example.com")
	_ = buf.WriteU16(6)
	_ = buf.WriteU16(1)
	_ = buf.WriteU32(3600)
	_ = buf.WriteU16(4)
	_ = buf.WriteU8(1)
	_ = buf.WriteU8(2)
	_ = buf.WriteU8(3)
	_ = buf.WriteU8(4)

	// Second answer: a supported A record.
	a := Record{Name: "example.com", Type: TypeA, TTL: 60, Addr: net.ParseIP("1.2.3.4").To4()}
	if _, err := a.Write(buf); err != nil {
		t.Fatalf("Write A: %v", err)
	}

	buf.Seek(0)
	p := NewPacket()
	if err := p.FromBuffer(buf); err != nil {
		t.Fatalf("FromBuffer: %v", err)
	}
	if len(p.Answers) != 1 {
		t.Fatalf("expected 1 decoded answer (unknown skipped), got %d", len(p.Answers))
	}
	if p.Header.Answers != 1 {
		t.Errorf("header.Answers should be normalized to 1, got %d", p.Header.Answers)
	}
	if !p.Answers[0].Addr.Equal(net.ParseIP("1.2.3.4").To4()) {
		t.Errorf("surviving answer = %+v, want the A record", p.Answers[0])
	}
}

func TestNewQueryPacketBuildWriteDecode(t *testing.T) {
	q := NewQueryPacket("bugenzhao.com", TypeA)
	if q.Header.ID < 10000 {
		t.Errorf("id = %d, want >= 10000", q.Header.ID)
	}
	if !q.Header.RecursionDesired {
		t.Error("RecursionDesired should be true")
	}

	buf := NewPacketBuffer()
	if err := q.Write(buf); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf.Seek(0)
	got := NewPacket()
	if err := got.FromBuffer(buf); err != nil {
		t.Fatalf("FromBuffer: %v", err)
	}
	if got.Header.Response {
		t.Error("Response flag should be false for a query")
	}
	if len(got.Questions) != 1 || got.Questions[0].Name != "bugenzhao.com" {
		t.Errorf("questions = %+v", got.Questions)
	}
}

func TestPacketHeaderCountsNormalizedOnDecode(t *testing.T) {
	p := NewPacket()
	p.Header.ID = 1
	p.Questions = append(p.Questions, Question{Name: "x.test", Type: TypeA})
	p.Answers = append(p.Answers,
		Record{Name: "x.test", Type: TypeA, TTL: 1, Addr: net.ParseIP("10.0.0.1").To4()},
		Record{Name: "x.test", Type: TypeA, TTL: 1, Addr: net.ParseIP("10.0.0.2").To4()},
	)
	// Header counts deliberately wrong before Write recomputes them.
	p.Header.Answers = 99

	buf := NewPacketBuffer()
	if err := p.Write(buf); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf.Seek(0)
	got := NewPacket()
	if err := got.FromBuffer(buf); err != nil {
		t.Fatalf("FromBuffer: %v", err)
	}
	if int(got.Header.Questions) != len(got.Questions) ||
		int(got.Header.Answers) != len(got.Answers) ||
		int(got.Header.AuthoritativeEntries) != len(got.Authorities) ||
		int(got.Header.ResourceEntries) != len(got.Resources) {
		t.Errorf("header counts not normalized to section lengths: %+v", got.Header)
	}
}
