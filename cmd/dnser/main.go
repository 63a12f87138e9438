// Command dnser is the CLI surface for the DNS codec and resolver: a
// one-shot iterative lookup subcommand and a UDP forwarding server
// subcommand.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nsresolve/dnser/internal/audit"
	"github.com/nsresolve/dnser/internal/dns/packet"
	"github.com/nsresolve/dnser/internal/dns/resolver"
	"github.com/nsresolve/dnser/internal/dns/server"
	"github.com/nsresolve/dnser/internal/metrics"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, logger); err != nil {
		logger.Error("dnser failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer, logger *slog.Logger) error {
	if len(args) < 1 {
		return fmt.Errorf("expected a 'lookup' or 'server' subcommand")
	}

	switch args[0] {
	case "lookup":
		return runLookup(ctx, args[1:], out)
	case "server":
		return runServer(ctx, args[1:], logger)
	default:
		return fmt.Errorf("unknown subcommand %q: expected 'lookup' or 'server'", args[0])
	}
}

func runLookup(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("lookup", flag.ContinueOnError)
	serverIP := fs.String("server", "198.41.0.4", "starting name server to resolve from (an IANA root by default)")
	qtypeName := fs.String("type", "A", "query type: A, NS, CNAME, MX, or AAAA")
	timeout := fs.Duration("timeout", 5*time.Second, "per-hop upstream timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("lookup expects exactly one domain argument")
	}
	domain := fs.Arg(0)

	qtype, ok := packet.ParseQueryType(*qtypeName)
	if !ok {
		return fmt.Errorf("unrecognized query type %q", *qtypeName)
	}

	res := resolver.New(*timeout, slog.Default())
	resp, err := res.RecursiveLookup(ctx, domain, qtype, *serverIP)
	if err != nil {
		return fmt.Errorf("resolution failed: %w", err)
	}

	fmt.Fprintf(out, "status: %s\n", resp.Header.ResultCode)
	for _, a := range resp.Answers {
		fmt.Fprintf(out, "answer: %s\n", a.String())
	}
	for _, a := range resp.Authorities {
		fmt.Fprintf(out, "authority: %s\n", a.String())
	}
	for _, a := range resp.Resources {
		fmt.Fprintf(out, "additional: %s\n", a.String())
	}
	return nil
}

func runServer(ctx context.Context, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	serverIP := fs.String("server", "198.41.0.4", "upstream server in proxy mode, or iterative root otherwise")
	port := fs.Uint("port", 53, "UDP port to listen on")
	proxy := fs.Bool("proxy", false, "forward every query verbatim to --server instead of resolving iteratively")
	timeout := fs.Duration("timeout", 5*time.Second, "per-hop upstream timeout")
	metricsAddr := fs.String("metrics-addr", "", "if set, expose Prometheus metrics on this address (e.g. :9153)")
	auditDSN := fs.String("audit-dsn", os.Getenv("AUDIT_DATABASE_URL"), "if set, record a write-only audit log of completed queries to this Postgres DSN")
	rateQPS := fs.Float64("rate-limit-qps", 2000, "sustained queries/sec admitted per source IP (0 disables rate limiting)")
	rateBurst := fs.Int("rate-limit-burst", 4000, "queries a single source IP may burst before rate limiting kicks in")
	if err := fs.Parse(args); err != nil {
		return err
	}

	addr := fmt.Sprintf("0.0.0.0:%d", *port)
	res := resolver.New(*timeout, logger)

	srv := server.NewWithRateLimit(addr, *serverIP, *serverIP, *proxy, res, logger, *rateQPS, *rateBurst)

	if *metricsAddr != "" {
		m := metrics.New()
		srv.Metrics = m
		go serveMetrics(ctx, *metricsAddr, logger)
	}

	if *auditDSN != "" {
		db, err := sql.Open("pgx", *auditDSN)
		if err != nil {
			return fmt.Errorf("failed to open audit database: %w", err)
		}
		defer func() { _ = db.Close() }()
		srv.Audit = audit.NewRepository(db)
		logger.Info("audit logging enabled")
	}

	return srv.Run(ctx)
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	httpSrv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", "error", err)
	}
}
