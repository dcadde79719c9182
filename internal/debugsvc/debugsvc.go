// Package debugsvc contains the debug HTTP API of the IP checking service:
// prometheus metrics, pprof, and the plain health check.
package debugsvc

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service is the debug HTTP service.
type Service struct {
	log     *slog.Logger
	servers map[string]*server
}

// Config is the debug HTTP service configuration structure.
type Config struct {
	Logger *slog.Logger

	// APIAddr, PprofAddr, and PrometheusAddr are the listen addresses of the
	// endpoint groups.  Groups sharing an address share a server.  An empty
	// address disables the group.
	APIAddr        string
	PprofAddr      string
	PrometheusAddr string
}

// New returns a new properly initialized *Service.
func New(c *Config) (svc *Service) {
	svc = &Service{
		log:     c.Logger,
		servers: make(map[string]*server),
	}

	svc.addServer(c.PrometheusAddr, "prometheus")
	svc.addServer(c.PprofAddr, "pprof")
	svc.addServer(c.APIAddr, "api")

	return svc
}

// server is a single server within the debug HTTP service.
type server struct {
	http *http.Server
	name string
}

// startServer starts one server and panics if there is an unexpected error.
func startServer(ctx context.Context, l *slog.Logger, s *server) {
	defer recoverAndExit(ctx, l)

	l.Info("listening", "name", s.name, "addr", s.http.Addr)

	srv := s.http
	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		panic(fmt.Errorf("%s: failed listen on %s: %s", srv.Addr, s.name, err))
	}
}

// recoverAndExit recovers a panic, logs it using l, and then exits with
// [osutil.ExitCodeFailure].
func recoverAndExit(ctx context.Context, l *slog.Logger) {
	v := recover()
	if v == nil {
		return
	}

	var args []any
	if err, ok := v.(error); ok {
		args = []any{slogutil.KeyError, err}
	} else {
		args = []any{"value", v}
	}

	l.ErrorContext(ctx, "recovered from panic", args...)
	slogutil.PrintStack(ctx, l, slog.LevelError)

	os.Exit(osutil.ExitCodeFailure)
}

// type check
var _ service.Interface = (*Service)(nil)

// Start implements the [service.Interface] interface for *Service.  It starts
// serving all endpoints but does not wait for them to actually go online.  err
// is always nil, if any endpoint fails to start, it panics.
func (svc *Service) Start(ctx context.Context) (err error) {
	for _, srv := range svc.servers {
		go startServer(ctx, svc.log, srv)
	}

	return nil
}

// Shutdown implements the [service.Interface] interface for *Service.  It stops
// serving all endpoints.
func (svc *Service) Shutdown(ctx context.Context) (err error) {
	srvNum := 0
	for _, srv := range svc.servers {
		err = srv.http.Shutdown(ctx)
		if err != nil {
			return fmt.Errorf("server %s shutdown: %w", srv.name, err)
		}

		srvNum++

		svc.log.Info("server is shutdown", "name", srv.name)
	}

	svc.log.Info("all servers shutdown", "num", srvNum)

	return nil
}

// addServer adds the named handler to the service, creating a new server
// listening on a different address if necessary.  If addr is empty, the
// service isn't created.
func (svc *Service) addServer(addr, name string) {
	if addr == "" {
		return
	}

	var mux *http.ServeMux

	srv, ok := svc.servers[addr]
	if !ok {
		mux = http.NewServeMux()
		svc.addHandler(name, mux)

		svc.servers[addr] = &server{
			// #nosec G112 -- Do not set the timeouts, since debug/pprof and
			// similar debug APIs may be busy for a long time.
			http: &http.Server{
				Addr:     addr,
				Handler:  mux,
				ErrorLog: slog.NewLogLogger(svc.log.Handler(), slog.LevelDebug),
			},
			name: name,
		}

		return
	}

	mux = srv.http.Handler.(*http.ServeMux)
	svc.addHandler(name, mux)
	srv.name += ";" + name
}

// addHandler registers the handlers of the named endpoint group on mux.
func (svc *Service) addHandler(serviceName string, mux *http.ServeMux) {
	switch serviceName {
	case "api":
		svc.apiMux(mux)
	case "pprof":
		svc.pprofMux(mux)
	case "prometheus":
		svc.promMux(mux)
	default:
		panic(fmt.Errorf("debugsvc: could not find mux for service %q", serviceName))
	}
}

// apiMux adds the health-check handler to mux.
func (svc *Service) apiMux(mux *http.ServeMux) {
	mux.Handle("GET /health-check", svc.middleware(
		http.HandlerFunc(serveHealthCheck),
		slog.LevelDebug,
	))
}

// pprofMux adds the pprof handlers to mux.
func (svc *Service) pprofMux(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

// promMux adds the prometheus service handler to mux.
func (svc *Service) promMux(mux *http.ServeMux) {
	mux.Handle("GET /metrics", svc.middleware(promhttp.Handler(), slog.LevelDebug))
}
