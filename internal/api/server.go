// Package api exposes an HTTP surface to trigger and poll scan jobs: a
// small in-memory job registry over scan.Service.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/sirupsen/logrus"

	"chainsweep/internal/metrics"
	"chainsweep/internal/scan"
)

// Server encapsulates the HTTP server, router and job registry. It drives
// scans for a single pre-configured contract ABI (no multi-contract scans
// in one cycle, carried to the HTTP surface):
// a caller picks which of that ABI's events to scan and over what range.
type Server struct {
	mux         *http.ServeMux
	service     *scan.Service
	contractABI *abi.ABI
	mu          sync.RWMutex
	jobs        map[string]*jobEntry
}

type jobEntry struct {
	status *JobStatus
	cancel context.CancelFunc
}

// NewServer builds a server driving svc against contractABI, with basic
// logging/panic-recovery middlewares and a /metrics route backed by rec.
func NewServer(svc *scan.Service, contractABI *abi.ABI, rec *metrics.Recorder) *Server {
	mux := http.NewServeMux()
	s := &Server{
		mux:         mux,
		service:     svc,
		contractABI: contractABI,
		jobs:        make(map[string]*jobEntry),
	}
	s.registerRoutes(rec)
	return s
}

func (s *Server) registerRoutes(rec *metrics.Recorder) {
	s.mux.HandleFunc("/scans", s.handleScans)
	s.mux.HandleFunc("/scans/", s.handleScanByID)
	if rec != nil {
		s.mux.Handle("/metrics", metrics.Handler())
	}
}

// Run starts the HTTP server on the provided port.
func (s *Server) Run(port string) error {
	addr := fmt.Sprintf(":%s", port)
	handler := s.recoveryMiddleware(s.loggingMiddleware(s.mux))
	logrus.Infof("HTTP server running on %s", addr)
	return http.ListenAndServe(addr, handler)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logrus.Infof("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logrus.Errorf("panic recovered: %v", rec)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
