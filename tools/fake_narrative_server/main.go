package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type fakeNarrativeServer struct {
	start         time.Time
	latency       time.Duration
	failRate      float64
	malformedRate float64
	plainText     bool
	logger        *zap.Logger

	mu        sync.Mutex
	total     int64
	byMachine map[string]int64
	byOutcome map[string]int64
}

type narrativeRequest struct {
	MachineID string `json:"machine_id"`
	Seq       uint64 `json:"seq"`
	Trigger   string `json:"trigger"`
	Prompt    string `json:"prompt"`
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	addr := getenvDefault("FAKE_NARRATIVE_ADDR", ":8090")
	srv := &fakeNarrativeServer{
		start:         time.Now().UTC(),
		latency:       time.Duration(getenvIntDefault("FAKE_NARRATIVE_LATENCY_MS", 0)) * time.Millisecond,
		failRate:      getenvFloatDefault("FAKE_NARRATIVE_FAIL_RATE", 0),
		malformedRate: getenvFloatDefault("FAKE_NARRATIVE_MALFORMED_RATE", 0),
		plainText:     strings.EqualFold(getenvDefault("FAKE_NARRATIVE_FORMAT", "json"), "text"),
		logger:        logger,
		byMachine:     make(map[string]int64),
		byOutcome:     make(map[string]int64),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/metrics", srv.handleMetrics)
	mux.HandleFunc("/narrative", srv.handleNarrative)

	logger.Info("fake narrative server listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal("listen", zap.Error(err))
	}
}

func (s *fakeNarrativeServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *fakeNarrativeServer) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"started_at": s.start.Format(time.RFC3339),
		"total":      s.total,
		"by_machine": s.byMachine,
		"by_outcome": s.byOutcome,
	})
}

func (s *fakeNarrativeServer) handleNarrative(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req narrativeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-r.Context().Done():
			s.record(req.MachineID, "abandoned")
			return
		}
	}

	switch roll := rand.Float64(); {
	case roll < s.failRate:
		s.record(req.MachineID, "failed")
		http.Error(w, "simulated failure", http.StatusServiceUnavailable)
		return
	case roll < s.failRate+s.malformedRate:
		s.record(req.MachineID, "malformed")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text": ""}`))
		return
	}

	s.record(req.MachineID, "ok")
	text := fmt.Sprintf("**Issue**: %s reported an abnormal reading (trigger %s, seq %d).\n"+
		"**Cause**: Likely wear or a process upset; see prompt context.\n"+
		"**Risk**: Continued operation may damage tooling.\n"+
		"**Action**: Inspect the machine at the next safe stop.",
		req.MachineID, req.Trigger, req.Seq)
	if s.plainText {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(text))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
}

func (s *fakeNarrativeServer) record(machineID, outcome string) {
	s.mu.Lock()
	s.total++
	s.byMachine[machineID]++
	s.byOutcome[outcome]++
	s.mu.Unlock()
	s.logger.Debug("narrative request", zap.String("machine", machineID), zap.String("outcome", outcome))
}

func getenvDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getenvIntDefault(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
