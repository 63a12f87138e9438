// Package server implements the UDP forwarding server: a single
// shared socket, one goroutine per incoming datagram, and either
// proxy or iterative resolution of the client's question.
package server

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/nsresolve/dnser/internal/audit"
	"github.com/nsresolve/dnser/internal/dns/packet"
	"github.com/nsresolve/dnser/internal/dns/resolver"
	"github.com/nsresolve/dnser/internal/metrics"
)

// recvBufferBytes is the SO_RCVBUF/SO_SNDBUF target set on the shared
// socket; a DNS forwarder fields many small datagrams in bursts, so a
// deeper kernel buffer than the default avoids drops under load.
const recvBufferBytes = 1 << 20

// Default per-source rate limit applied when New is not given one
// explicitly; generous enough for a LAN forwarder, overridable via the
// server subcommand's --rate-limit-qps/--rate-limit-burst flags.
const (
	defaultRateLimitQPS   = 2000
	defaultRateLimitBurst = 4000
)

// Server is the UDP forwarding server: it binds one socket and answers
// each query either by forwarding it verbatim to an upstream resolver
// (proxy mode) or by performing iterative resolution itself, starting
// from Root.
type Server struct {
	Addr     string // listen address, e.g. "0.0.0.0:53"
	Proxy    bool
	Upstream string // queried verbatim in proxy mode
	Root     string // iterative-mode starting name server

	Resolver *resolver.Resolver
	Logger   *slog.Logger

	// Limiter, Metrics, and Audit are optional ambient collaborators;
	// a nil value for any of them disables that concern.
	Limiter *rateLimiter
	Metrics *metrics.Metrics
	Audit   *audit.Repository
}

// New returns a Server ready for Run, rate-limited per source IP at
// the package defaults. res must be non-nil. Use NewWithRateLimit to
// configure the limiter from the server's own flags.
func New(addr, root, upstream string, proxy bool, res *resolver.Resolver, logger *slog.Logger) *Server {
	return NewWithRateLimit(addr, root, upstream, proxy, res, logger, defaultRateLimitQPS, defaultRateLimitBurst)
}

// NewWithRateLimit is New with an explicit per-source rate limit. A
// rateQPS or rateBurst of zero disables rate limiting entirely.
func NewWithRateLimit(addr, root, upstream string, proxy bool, res *resolver.Resolver, logger *slog.Logger, rateQPS float64, rateBurst int) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Addr:     addr,
		Proxy:    proxy,
		Upstream: upstream,
		Root:     root,
		Resolver: res,
		Logger:   logger,
		Limiter:  newRateLimiter(rateQPS, rateBurst),
	}
}

// Run binds the shared socket and serves until ctx is cancelled or a
// fatal listen error occurs. It returns nil on a clean, context-driven
// shutdown.
func (s *Server) Run(ctx context.Context) error {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				if err := tuneSocketBuffers(fd, recvBufferBytes); err != nil {
					s.Logger.Warn("failed to tune socket buffers", "error", err)
				}
			})
		},
	}

	conn, err := lc.ListenPacket(ctx, "udp", s.Addr)
	if err != nil {
		return err
	}
	s.Logger.Info("forwarding server listening", "addr", s.Addr, "proxy", s.Proxy)

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	if s.Limiter != nil {
		go s.cleanupLoop(ctx)
	}

	var wg sync.WaitGroup
	for {
		var raw [packet.PacketSize]byte
		n, from, err := conn.ReadFrom(raw[:])
		if err != nil {
			if ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			s.Logger.Warn("read failed", "error", err)
			continue
		}

		data := make([]byte, n)
		copy(data, raw[:n])

		wg.Add(1)
		go func(from net.Addr, data []byte) {
			defer wg.Done()
			s.handleQuery(ctx, conn, from, data)
		}(from, data)
	}
}

func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Limiter.Cleanup()
		}
	}
}

// handleQuery decodes one client datagram, resolves its single
// question, synthesizes a response, and writes it back to from. A
// resolution failure is logged and mapped to SERVFAIL; a rate-limited
// or undecodable query is logged and dropped without a reply. No
// failure propagates out of this goroutine, so one bad query cannot
// take down the accept loop.
func (s *Server) handleQuery(ctx context.Context, conn net.PacketConn, from net.Addr, data []byte) {
	start := time.Now()
	correlationID := uuid.NewString()
	logger := s.Logger.With("correlation_id", correlationID, "from", from.String())

	if s.Limiter != nil && !s.Limiter.AllowQuery(hostOf(from)) {
		logger.Warn("rate limited")
		if s.Metrics != nil {
			s.Metrics.ObserveRateLimited()
		}
		return
	}

	query := packet.NewPacket()
	if err := query.FromBuffer(packet.Load(data)); err != nil {
		logger.Error("failed to decode query", "error", err)
		return
	}

	resp := packet.NewPacket()
	resp.Header.ID = query.Header.ID
	resp.Header.Response = true
	resp.Header.RecursionAvailable = true

	mode := "iterative"
	if s.Proxy {
		mode = "proxy"
	}
	qtype := packet.TypeUnknown
	qname := ""

	switch len(query.Questions) {
	case 1:
		question := query.Questions[0]
		qtype, qname = question.Type, question.Name
		resp.Questions = []packet.Question{question}
		s.resolveInto(ctx, resp, question, logger)
	default:
		// Exactly one question is assumed; anything else is malformed.
		resp.Header.ResultCode = packet.FormErr
	}

	s.finishQuery(ctx, conn, from, resp, start, correlationID, mode, qtype, qname, logger)
}

// resolveInto runs the configured resolution mode for question and
// merges the result into resp, or sets resp to SERVFAIL on failure.
func (s *Server) resolveInto(ctx context.Context, resp *packet.Packet, question packet.Question, logger *slog.Logger) {
	if s.Proxy {
		upstream, err := s.Resolver.Lookup(ctx, question.Name, question.Type, s.Upstream)
		if err != nil {
			logger.Error("proxy lookup failed", "name", question.Name, "error", err)
			resp.Header.ResultCode = packet.ServFail
			return
		}
		resp.Header.ResultCode = upstream.Header.ResultCode
		resp.Answers = upstream.Answers
		resp.Authorities = upstream.Authorities
		resp.Resources = upstream.Resources
		return
	}

	final, hops, err := s.Resolver.RecursiveLookupHops(ctx, question.Name, question.Type, s.Root)
	if err != nil {
		logger.Error("iterative resolution failed", "name", question.Name, "error", err)
		resp.Header.ResultCode = packet.ServFail
		return
	}
	if s.Metrics != nil {
		s.Metrics.ObserveHops(hops)
	}

	id, response, ra := resp.Header.ID, resp.Header.Response, resp.Header.RecursionAvailable
	*resp = *final
	resp.Header.ID, resp.Header.Response, resp.Header.RecursionAvailable = id, response, ra
}

func (s *Server) finishQuery(ctx context.Context, conn net.PacketConn, from net.Addr, resp *packet.Packet, start time.Time, correlationID, mode string, qtype packet.QueryType, qname string, logger *slog.Logger) {
	if s.Metrics != nil {
		s.Metrics.ObserveQuery(mode, qtype.String(), resp.Header.ResultCode.String(), time.Since(start))
	}
	if s.Audit != nil && qname != "" {
		ev := audit.Event{
			CorrelationID: correlationID,
			Name:          qname,
			QType:         qtype.String(),
			ResultCode:    resp.Header.ResultCode.String(),
			Mode:          mode,
			DurationMS:    time.Since(start).Milliseconds(),
			CreatedAt:     time.Now().UTC(),
		}
		if err := s.Audit.Record(ctx, ev); err != nil {
			logger.Warn("failed to record audit event", "error", err)
		}
	}

	sendBuf := packet.NewPacketBuffer()
	if err := resp.Write(sendBuf); err != nil {
		logger.Error("failed to encode response", "error", err)
		return
	}
	if _, err := conn.WriteTo(sendBuf.Buf[:sendBuf.Position()], from); err != nil {
		logger.Error("failed to send response", "error", err)
	}
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
