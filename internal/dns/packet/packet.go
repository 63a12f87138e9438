// Package packet implements the DNS wire-format codec: a fixed
// 512-byte PacketBuffer (buffer.go) together with the Header, Question,
// Record, and Packet entities that encode and decode through it.
package packet

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"strings"
)

// QueryType is the DNS record-type field (e.g. A, NS, MX). Only the
// types this codec understands on the wire are named; everything else
// decodes to Unknown in a question (lossy but non-fatal) or is reported
// via UnknownRecordError while decoding a record.
type QueryType uint16

const (
	TypeUnknown QueryType = 0
	TypeA       QueryType = 1
	TypeNS      QueryType = 2
	TypeCNAME   QueryType = 5
	TypeMX      QueryType = 15
	TypeAAAA    QueryType = 28
)

func (t QueryType) String() string {
	switch t {
	case TypeA:
		return "A"
	case TypeNS:
		return "NS"
	case TypeCNAME:
		return "CNAME"
	case TypeMX:
		return "MX"
	case TypeAAAA:
		return "AAAA"
	default:
		return fmt.Sprintf("TYPE%d", uint16(t))
	}
}

// ParseQueryType maps a query-type name as accepted on the CLI surface
// to its QueryType. An unrecognized name yields Unknown and false.
func ParseQueryType(s string) (QueryType, bool) {
	switch strings.ToUpper(s) {
	case "A":
		return TypeA, true
	case "NS":
		return TypeNS, true
	case "CNAME":
		return TypeCNAME, true
	case "MX":
		return TypeMX, true
	case "AAAA":
		return TypeAAAA, true
	default:
		return TypeUnknown, false
	}
}

// questionQueryType maps a raw wire value to a QueryType for use in a
// Question; unrecognized values are lossily mapped to Unknown rather
// than failing the decode.
func questionQueryType(v uint16) QueryType {
	switch QueryType(v) {
	case TypeA, TypeNS, TypeCNAME, TypeMX, TypeAAAA:
		return QueryType(v)
	default:
		return TypeUnknown
	}
}

// ResultCode is the header's 4-bit RCODE.
type ResultCode uint8

const (
	NoError ResultCode = iota
	FormErr
	ServFail
	NxDomain
	NotImp
	Refused
)

func (r ResultCode) String() string {
	switch r {
	case NoError:
		return "NOERROR"
	case FormErr:
		return "FORMERR"
	case ServFail:
		return "SERVFAIL"
	case NxDomain:
		return "NXDOMAIN"
	case NotImp:
		return "NOTIMP"
	case Refused:
		return "REFUSED"
	default:
		return fmt.Sprintf("RCODE%d", uint8(r))
	}
}

func parseResultCode(v uint8) (ResultCode, error) {
	if v > uint8(Refused) {
		return 0, invalidResultCode(v)
	}
	return ResultCode(v), nil
}

// Header is the 12-byte fixed section at the start of every DNS
// message.
type Header struct {
	ID uint16

	RecursionDesired    bool
	TruncatedMessage    bool
	AuthoritativeAnswer bool
	Opcode              uint8
	Response            bool

	ResultCode         ResultCode
	CheckingDisabled   bool
	AuthenticatedData  bool
	Z                  bool
	RecursionAvailable bool

	Questions            uint16
	Answers              uint16
	AuthoritativeEntries uint16
	ResourceEntries      uint16
}

// Read decodes the 12-byte header from buf.
func (h *Header) Read(buf *PacketBuffer) error {
	var err error
	if h.ID, err = buf.ReadU16(); err != nil {
		return err
	}

	flags, err := buf.ReadU16()
	if err != nil {
		return err
	}
	b1 := byte(flags >> 8)
	b2 := byte(flags)

	h.RecursionDesired = b1&(1<<0) != 0
	h.TruncatedMessage = b1&(1<<1) != 0
	h.AuthoritativeAnswer = b1&(1<<2) != 0
	h.Opcode = (b1 >> 3) & 0x0F
	h.Response = b1&(1<<7) != 0

	rc, err := parseResultCode(b2 & 0x0F)
	if err != nil {
		return err
	}
	h.ResultCode = rc
	h.CheckingDisabled = b2&(1<<4) != 0
	h.AuthenticatedData = b2&(1<<5) != 0
	h.Z = b2&(1<<6) != 0
	h.RecursionAvailable = b2&(1<<7) != 0

	if h.Questions, err = buf.ReadU16(); err != nil {
		return err
	}
	if h.Answers, err = buf.ReadU16(); err != nil {
		return err
	}
	if h.AuthoritativeEntries, err = buf.ReadU16(); err != nil {
		return err
	}
	if h.ResourceEntries, err = buf.ReadU16(); err != nil {
		return err
	}
	return nil
}

// Write encodes the header to buf.
func (h *Header) Write(buf *PacketBuffer) error {
	if err := buf.WriteU16(h.ID); err != nil {
		return err
	}

	var b1, b2 byte
	if h.RecursionDesired {
		b1 |= 1 << 0
	}
	if h.TruncatedMessage {
		b1 |= 1 << 1
	}
	if h.AuthoritativeAnswer {
		b1 |= 1 << 2
	}
	b1 |= (h.Opcode & 0x0F) << 3
	if h.Response {
		b1 |= 1 << 7
	}

	b2 |= uint8(h.ResultCode) & 0x0F
	if h.CheckingDisabled {
		b2 |= 1 << 4
	}
	if h.AuthenticatedData {
		b2 |= 1 << 5
	}
	if h.Z {
		b2 |= 1 << 6
	}
	if h.RecursionAvailable {
		b2 |= 1 << 7
	}

	if err := buf.WriteU16(uint16(b1)<<8 | uint16(b2)); err != nil {
		return err
	}
	if err := buf.WriteU16(h.Questions); err != nil {
		return err
	}
	if err := buf.WriteU16(h.Answers); err != nil {
		return err
	}
	if err := buf.WriteU16(h.AuthoritativeEntries); err != nil {
		return err
	}
	return buf.WriteU16(h.ResourceEntries)
}

// Question is a single entry in a message's question section. Class is
// fixed at 1 (IN) on write and ignored on read.
type Question struct {
	Name string
	Type QueryType
}

// Read decodes a Question from buf.
func (q *Question) Read(buf *PacketBuffer) error {
	name, err := buf.ReadName()
	if err != nil {
		return err
	}
	q.Name = name

	qtype, err := buf.ReadU16()
	if err != nil {
		return err
	}
	q.Type = questionQueryType(qtype)

	_, err = buf.ReadU16() // class, ignored on read
	return err
}

// Write encodes a Question to buf.
func (q *Question) Write(buf *PacketBuffer) error {
	if err := buf.WriteNameSimple(q.Name); err != nil {
		return err
	}
	if err := buf.WriteU16(uint16(q.Type)); err != nil {
		return err
	}
	return buf.WriteU16(1) // class IN
}

// Record is a single resource record, modeled as a closed tagged union
// over Type rather than a polymorphic hierarchy: adding a new RR type
// means extending Type and the Read/Write dispatch, not a new subclass.
type Record struct {
	Name string
	Type QueryType
	TTL  uint32

	Addr net.IP // A, AAAA
	Host string // NS, CNAME, MX
	Pref uint16 // MX
}

// Read decodes a record from buf. For a type this codec does not
// support, it advances past the rdata and returns an *UnknownRecordError
// carrying the type, name, data length, and TTL so the caller (normally
// Packet.FromBuffer) can skip it without failing the whole decode.
func (r *Record) Read(buf *PacketBuffer) error {
	name, err := buf.ReadName()
	if err != nil {
		return err
	}
	typeVal, err := buf.ReadU16()
	if err != nil {
		return err
	}
	if _, err := buf.ReadU16(); err != nil { // class, ignored
		return err
	}
	ttl, err := buf.ReadU32()
	if err != nil {
		return err
	}
	dataLen, err := buf.ReadU16()
	if err != nil {
		return err
	}

	r.Name = name
	r.Type = QueryType(typeVal)
	r.TTL = ttl

	switch r.Type {
	case TypeA:
		raw, err := buf.PeekRange(buf.Position(), 4)
		if err != nil {
			return err
		}
		r.Addr = net.IP(raw).To4()
		buf.Step(4)
	case TypeAAAA:
		raw, err := buf.PeekRange(buf.Position(), 16)
		if err != nil {
			return err
		}
		r.Addr = net.IP(raw)
		buf.Step(16)
	case TypeNS, TypeCNAME:
		host, err := buf.ReadName()
		if err != nil {
			return err
		}
		r.Host = host
	case TypeMX:
		pref, err := buf.ReadU16()
		if err != nil {
			return err
		}
		host, err := buf.ReadName()
		if err != nil {
			return err
		}
		r.Pref = pref
		r.Host = host
	default:
		buf.Step(int(dataLen))
		return &UnknownRecordError{Type: typeVal, Name: name, DataLen: dataLen, TTL: ttl}
	}
	return nil
}

// Write encodes the record to buf, back-patching the data_len field for
// variable-length payloads (NS, CNAME, MX) via SetU16 once the payload
// has been written.
func (r *Record) Write(buf *PacketBuffer) (int, error) {
	start := buf.Position()
	if err := buf.WriteNameSimple(r.Name); err != nil {
		return 0, err
	}
	if err := buf.WriteU16(uint16(r.Type)); err != nil {
		return 0, err
	}
	if err := buf.WriteU16(1); err != nil { // class IN
		return 0, err
	}
	if err := buf.WriteU32(r.TTL); err != nil {
		return 0, err
	}

	switch r.Type {
	case TypeA:
		if err := buf.WriteU16(4); err != nil {
			return 0, err
		}
		for _, byt := range r.Addr.To4() {
			if err := buf.WriteU8(byt); err != nil {
				return 0, err
			}
		}
	case TypeAAAA:
		if err := buf.WriteU16(16); err != nil {
			return 0, err
		}
		for _, byt := range r.Addr.To16() {
			if err := buf.WriteU8(byt); err != nil {
				return 0, err
			}
		}
	case TypeNS, TypeCNAME:
		lenPos := buf.Position()
		if err := buf.WriteU16(0); err != nil {
			return 0, err
		}
		if err := buf.WriteNameSimple(r.Host); err != nil {
			return 0, err
		}
		if err := buf.SetU16(lenPos, uint16(buf.Position()-lenPos-2)); err != nil {
			return 0, err
		}
	case TypeMX:
		lenPos := buf.Position()
		if err := buf.WriteU16(0); err != nil {
			return 0, err
		}
		if err := buf.WriteU16(r.Pref); err != nil {
			return 0, err
		}
		if err := buf.WriteNameSimple(r.Host); err != nil {
			return 0, err
		}
		if err := buf.SetU16(lenPos, uint16(buf.Position()-lenPos-2)); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("packet: cannot encode record of type %s", r.Type)
	}

	return buf.Position() - start, nil
}

func (r Record) String() string {
	switch r.Type {
	case TypeA, TypeAAAA:
		return fmt.Sprintf("%s{name=%s, ttl=%d, addr=%s}", r.Type, r.Name, r.TTL, r.Addr)
	case TypeNS, TypeCNAME:
		return fmt.Sprintf("%s{name=%s, ttl=%d, host=%s}", r.Type, r.Name, r.TTL, r.Host)
	case TypeMX:
		return fmt.Sprintf("MX{name=%s, ttl=%d, preference=%d, host=%s}", r.Name, r.TTL, r.Pref, r.Host)
	default:
		return fmt.Sprintf("%s{name=%s, ttl=%d}", r.Type, r.Name, r.TTL)
	}
}

// Packet is a complete DNS message: a header plus the four ordered
// record sequences.
type Packet struct {
	Header      Header
	Questions   []Question
	Answers     []Record
	Authorities []Record
	Resources   []Record
}

// NewPacket returns an empty Packet with a zeroed header.
func NewPacket() *Packet {
	return &Packet{}
}

// NewQueryPacket builds a new query: a random 16-bit id in
// [10000, 65535], RecursionDesired set, exactly one question, and empty
// answer/authority/additional sections.
func NewQueryPacket(name string, qtype QueryType) *Packet {
	p := NewPacket()
	p.Header.ID = uint16(10000 + rand.Intn(65536-10000)) // #nosec G404 -- transaction id, not a secret
	p.Header.RecursionDesired = true
	p.Header.Questions = 1
	p.Questions = append(p.Questions, Question{Name: name, Type: qtype})
	return p
}

// FromBuffer decodes a Packet from buf. Decode failures attributable to
// an unrecognized record type are non-fatal: the record is skipped, a
// warning is logged, and decoding continues. Any other error is fatal.
// After a successful decode the header's four count fields are
// overwritten with the actual lengths of the decoded sequences.
func (p *Packet) FromBuffer(buf *PacketBuffer) error {
	if err := p.Header.Read(buf); err != nil {
		return err
	}

	for i := 0; i < int(p.Header.Questions); i++ {
		var q Question
		if err := q.Read(buf); err != nil {
			return err
		}
		p.Questions = append(p.Questions, q)
	}

	sections := []*[]Record{&p.Answers, &p.Authorities, &p.Resources}
	counts := []uint16{p.Header.Answers, p.Header.AuthoritativeEntries, p.Header.ResourceEntries}
	for si, count := range counts {
		for i := 0; i < int(count); i++ {
			var r Record
			err := r.Read(buf)
			var unknown *UnknownRecordError
			if errors.As(err, &unknown) {
				slog.Warn("skipping unknown record type while decoding packet", "type", unknown.Type, "name", unknown.Name)
				continue
			}
			if err != nil {
				return err
			}
			*sections[si] = append(*sections[si], r)
		}
	}

	p.Header.Questions = uint16(len(p.Questions))
	p.Header.Answers = uint16(len(p.Answers))
	p.Header.AuthoritativeEntries = uint16(len(p.Authorities))
	p.Header.ResourceEntries = uint16(len(p.Resources))
	return nil
}

// Write encodes the full packet to buf, recomputing the header's four
// count fields from the actual section lengths first.
func (p *Packet) Write(buf *PacketBuffer) error {
	p.Header.Questions = uint16(len(p.Questions))
	p.Header.Answers = uint16(len(p.Answers))
	p.Header.AuthoritativeEntries = uint16(len(p.Authorities))
	p.Header.ResourceEntries = uint16(len(p.Resources))

	if err := p.Header.Write(buf); err != nil {
		return err
	}
	for _, q := range p.Questions {
		if err := q.Write(buf); err != nil {
			return err
		}
	}
	all := make([]Record, 0, len(p.Answers)+len(p.Authorities)+len(p.Resources))
	all = append(all, p.Answers...)
	all = append(all, p.Authorities...)
	all = append(all, p.Resources...)
	for _, r := range all {
		if _, err := r.Write(buf); err != nil {
			return err
		}
	}
	return nil
}
