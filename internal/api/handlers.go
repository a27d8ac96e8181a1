package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"chainsweep/internal/chain"
)

func (s *Server) handleScans(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createScan(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleScanByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/scans/")
	if id == "" {
		http.Error(w, "job id missing", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getScan(w, r, id)
	case http.MethodDelete:
		s.cancelScan(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) createScan(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req ScanRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !common.IsHexAddress(req.ContractAddress) {
		http.Error(w, "contract_address must be a valid hex address", http.StatusBadRequest)
		return
	}
	if req.Event == "" {
		http.Error(w, "event is required", http.StatusBadRequest)
		return
	}

	schema, err := chain.NewEventSchema(s.contractABI, req.Event)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	jobID := newJobID()
	status := &JobStatus{JobID: jobID, Status: "queued", StartedAt: time.Now()}

	s.mu.Lock()
	s.jobs[jobID] = &jobEntry{status: status}
	s.mu.Unlock()

	go s.runScan(jobID, req, schema)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(ScanResponse{JobID: jobID})
}

func (s *Server) runScan(jobID string, req ScanRequest, schema *chain.EventSchema) {
	s.mu.Lock()
	entry := s.jobs[jobID]
	entry.status.Status = "running"
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	entry.cancel = cancel

	result, err := s.service.Run(ctx, common.HexToAddress(req.ContractAddress), schema, req.StartBlock, req.EndBlock)

	s.mu.Lock()
	defer s.mu.Unlock()
	finished := time.Now()
	entry.status.FinishedAt = &finished
	if result != nil {
		entry.status.EventsWritten = result.EventsWritten
		entry.status.CursorHeight = result.CursorHeight
	}
	if err != nil {
		logrus.WithError(err).Errorf("scan job %s failed", jobID)
		entry.status.Status = "error"
		entry.status.Error = err.Error()
		return
	}
	entry.status.Status = "finished"
}

func (s *Server) getScan(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.RLock()
	entry, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry.status)
}

func (s *Server) cancelScan(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.Lock()
	entry, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	if entry.cancel != nil {
		entry.cancel()
	}

	s.mu.Lock()
	entry.status.Status = "cancelled"
	finished := time.Now()
	entry.status.FinishedAt = &finished
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func newJobID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
