// Package server exposes the analysis pipeline over Connect, gRPC and
// gRPC-Web on a single port.
package server

import (
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/chazu/sqdis/catalog"
	"github.com/chazu/sqdis/wire"
)

var log = commonlog.GetLogger("sqdis.server")

// Server is the analysis server.
type Server struct {
	pool    *WorkerPool
	reports *ReportStore
	mux     *http.ServeMux

	stopSweeper func()
}

// Option configures a Server.
type Option func(*config)

type config struct {
	workers   int
	reportTTL time.Duration
	catalog   *catalog.Catalog
}

// WithWorkers sets the number of concurrent pipeline invocations.
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// WithReportTTL sets how long unused report handles are kept.
func WithReportTTL(d time.Duration) Option {
	return func(c *config) { c.reportTTL = d }
}

// WithCatalog stores every named Analyze result in cat and lets
// ListFunctions answer from it.
func WithCatalog(cat *catalog.Catalog) Option {
	return func(c *config) { c.catalog = cat }
}

// New creates a Server.
func New(opts ...Option) *Server {
	cfg := &config{workers: 4, reportTTL: 30 * time.Minute}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &Server{
		pool:    NewWorkerPool(cfg.workers),
		reports: NewReportStore(),
		mux:     http.NewServeMux(),
	}

	svc := NewAnalysisService(s.pool, s.reports, cfg.catalog)
	s.mux.Handle(AnalyzeProcedure, connect.NewUnaryHandler(AnalyzeProcedure, svc.Analyze, handlerOptions()...))
	s.mux.Handle(ListFunctionsProcedure, connect.NewUnaryHandler(ListFunctionsProcedure, svc.ListFunctions, handlerOptions()...))

	interval := cfg.reportTTL / 6
	if interval < time.Second {
		interval = time.Second
	}
	s.stopSweeper = s.reports.StartSweeper(interval, cfg.reportTTL)
	return s
}

// Handler returns the HTTP handler. It accepts cleartext HTTP/2 so gRPC
// clients can connect without TLS.
func (s *Server) Handler() http.Handler {
	return h2c.NewHandler(s.mux, &http2.Server{})
}

// Reports returns the report handle store.
func (s *Server) Reports() *ReportStore { return s.reports }

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *Server) ListenAndServe(addr string) error {
	log.Noticef("sqdis server listening on %s", addr)
	log.Infof("  Connect (HTTP/CBOR): http://%s%s", addr, AnalyzeProcedure)
	log.Infof("  gRPC (%s):        grpc://%s", wire.CodecName, addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// Stop shuts down the worker pool and the handle sweeper.
func (s *Server) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	s.pool.Stop()
}
