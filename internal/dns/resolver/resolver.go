// Package resolver implements the single-shot UDP lookup and the
// iterative descent through the authority hierarchy described by the
// DNS forwarding server's resolution mode.
package resolver

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/nsresolve/dnser/internal/dns/packet"
)

// maxDepth bounds the nesting of recursive descents: each glue-less
// lookup of an NS host's A record runs one level deeper. Delegation
// hops followed through glue within one level are not counted.
const maxDepth = 10

// defaultTimeout bounds a single upstream send/recv when the caller's
// context carries no deadline of its own.
const defaultTimeout = 5 * time.Second

// Resolver performs single-shot lookups and iterative resolution. It
// holds no per-query state; a single Resolver is safe to share across
// concurrently running queries.
type Resolver struct {
	// Timeout bounds each upstream UDP round trip. Zero means
	// defaultTimeout.
	Timeout time.Duration

	// Port is the upstream port queried by Lookup. Zero means "53",
	// the standard DNS port; tests override it to talk to a fake
	// server on an ephemeral port.
	Port string

	// Logger receives a line per hop during iterative resolution. A
	// nil Logger falls back to slog.Default().
	Logger *slog.Logger
}

// New returns a Resolver with the given per-query timeout, querying
// upstream servers on the standard DNS port. A zero timeout falls back
// to defaultTimeout.
func New(timeout time.Duration, logger *slog.Logger) *Resolver {
	return &Resolver{Timeout: timeout, Logger: logger}
}

func (r *Resolver) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return defaultTimeout
}

func (r *Resolver) port() string {
	if r.Port != "" {
		return r.Port
	}
	return "53"
}

func (r *Resolver) log() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Lookup performs a single-shot UDP query: a fresh ephemeral-port
// socket is opened, connected to server on r.port(), a query packet is
// encoded and sent, and the first datagram received is decoded into a
// Packet. All I/O errors are wrapped in a *NetworkError.
func (r *Resolver) Lookup(ctx context.Context, name string, qtype packet.QueryType, server string) (*packet.Packet, error) {
	addr := net.JoinHostPort(server, r.port())

	dialer := net.Dialer{Timeout: r.timeout()}
	conn, err := dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, networkError(addr, err)
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(r.timeout())
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, networkError(addr, err)
	}

	req := packet.NewQueryPacket(name, qtype)
	req.Header.RecursionDesired = false // iterative, not recursive, query

	sendBuf := packet.NewPacketBuffer()
	if err := req.Write(sendBuf); err != nil {
		return nil, networkError(addr, err)
	}
	if _, err := conn.Write(sendBuf.Buf[:sendBuf.Position()]); err != nil {
		return nil, networkError(addr, err)
	}

	var raw [packet.PacketSize]byte
	n, err := conn.Read(raw[:])
	if err != nil {
		return nil, networkError(addr, err)
	}

	respBuf := packet.Load(raw[:n])
	resp := packet.NewPacket()
	if err := resp.FromBuffer(respBuf); err != nil {
		return nil, networkError(addr, err)
	}

	return resp, nil
}

// RecursiveLookup walks the authority hierarchy from root, following
// NS delegations (via glue records or, failing that, a recursive A
// lookup of the NS host) until a final answer, an NXDOMAIN, or a dead
// end is reached.
func (r *Resolver) RecursiveLookup(ctx context.Context, name string, qtype packet.QueryType, root string) (*packet.Packet, error) {
	resp, _, err := r.recursiveLookupHops(ctx, name, qtype, root, root, 0)
	return resp, err
}

// RecursiveLookupHops behaves like RecursiveLookup but also reports the
// number of name-server hops the resolution took, for callers (the
// forwarding server) that want to feed it to a metrics histogram.
func (r *Resolver) RecursiveLookupHops(ctx context.Context, name string, qtype packet.QueryType, root string) (*packet.Packet, int, error) {
	return r.recursiveLookupHops(ctx, name, qtype, root, root, 0)
}

// recursiveLookupHops descends from ns, the current hop's server, while
// carrying root unchanged: root is the original starting server for
// this whole resolution and is what a glue-less NS-host sub-resolution
// restarts from, not wherever the outer descent currently stands.
func (r *Resolver) recursiveLookupHops(ctx context.Context, name string, qtype packet.QueryType, root, ns string, depth int) (*packet.Packet, int, error) {
	if depth > maxDepth {
		return nil, 0, tooManyRecursion(name)
	}

	hops := 0
	for {
		hops++
		r.log().Debug("resolving", "name", name, "type", qtype, "ns", ns, "depth", depth)

		resp, err := r.Lookup(ctx, name, qtype, ns)
		if err != nil {
			return nil, hops, err
		}

		if resp.Header.ResultCode == packet.NxDomain {
			return resp, hops, nil
		}
		if resp.Header.ResultCode == packet.NoError && len(resp.Answers) > 0 {
			return resp, hops, nil
		}

		nss := delegatingNS(resp.Authorities, name)
		if len(nss) == 0 {
			return resp, hops, nil
		}

		if glueAddr, ok := findGlue(nss, resp.Resources); ok {
			ns = glueAddr
			continue
		}

		host := nss[0].Host
		hostResp, _, err := r.recursiveLookupHops(ctx, host, packet.TypeA, root, root, depth+1)
		if err != nil {
			return nil, hops, err
		}
		addr, ok := firstA(hostResp.Answers)
		if !ok {
			// Open question in the resolution algorithm: resolving the
			// delegated NS's own address produced no A record. Rather
			// than re-querying the same ns forever, stop here and
			// return the last response we actually got.
			return resp, hops, nil
		}
		ns = addr
	}
}

// delegatingNS filters authority records to NS entries whose owner
// name is a (case-sensitive, byte-wise) suffix of name.
func delegatingNS(authorities []packet.Record, name string) []packet.Record {
	var out []packet.Record
	for _, rec := range authorities {
		if rec.Type == packet.TypeNS && strings.HasSuffix(name, rec.Name) {
			out = append(out, rec)
		}
	}
	return out
}

// findGlue looks in additional for an A record matching one of nss's
// host names, returning its address as a string.
func findGlue(nss []packet.Record, additional []packet.Record) (string, bool) {
	for _, ns := range nss {
		for _, rec := range additional {
			if rec.Type == packet.TypeA && rec.Name == ns.Host {
				return rec.Addr.String(), true
			}
		}
	}
	return "", false
}

func firstA(answers []packet.Record) (string, bool) {
	for _, rec := range answers {
		if rec.Type == packet.TypeA && rec.Addr != nil {
			return rec.Addr.String(), true
		}
	}
	return "", false
}
