// Package statushttp implements the optional local read-only status
// server for `run`/`watch` (disabled unless --http-addr is set, and
// bound to loopback only). It serves exactly two routes and exposes no
// control endpoints, matching the monitor's non-intrusive design.
package statushttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"nobreak/internal/snapshot"
)

// SnapshotSource supplies the latest Snapshot produced by a Monitor. The
// server never ticks the monitor itself; it only reads whatever was
// last recorded by the caller's polling loop.
type SnapshotSource interface {
	Latest() (snapshot.Snapshot, bool)
}

// Store is a minimal thread-safe SnapshotSource a `run`/`watch` loop
// updates after every tick.
type Store struct {
	mu     sync.RWMutex
	latest snapshot.Snapshot
	have   bool
}

func (s *Store) Set(snap snapshot.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = snap
	s.have = true
}

func (s *Store) Latest() (snapshot.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.have
}

// Server wraps a gin engine bound to loopback and serving exactly
// GET /snapshot and GET /healthz.
type Server struct {
	httpServer *http.Server
}

// New builds a Server listening on addr. The server carries no
// authentication; ListenAndServe refuses anything but a loopback
// address.
func New(addr string, source SnapshotSource) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/snapshot", func(c *gin.Context) {
		snap, ok := source.Latest()
		if !ok {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot yet"})
			return
		}
		c.JSON(http.StatusOK, snap)
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// ListenAndServe blocks serving on a loopback-only listener, refusing to
// start if addr does not resolve to a loopback address.
func (s *Server) ListenAndServe() error {
	host, _, err := net.SplitHostPort(s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("parse http address %s: %w", s.httpServer.Addr, err)
	}
	if host != "localhost" {
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			return fmt.Errorf("refusing non-loopback status address %s", s.httpServer.Addr)
		}
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
