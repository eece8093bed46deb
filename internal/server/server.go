// Package server is the HTTP front-end adapter: it deserializes /run and
// /judge requests, calls the Sandbox Runner or Judge Pipeline, and
// serializes the results, per the contracts spec.md §6 defines. Routing
// and bootstrap follow services/guardian/main.go's http.NewServeMux +
// metrics + logging-banner shape; Bearer-token verification follows
// pkg/auth/middleware.go's extraction shape generalized to the minimal
// HS256 exp-only verifier original_source/src/server/jwt.rs specifies.
package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jacoblin/wark/internal/authjwt"
	"github.com/jacoblin/wark/internal/httpcache"
	"github.com/jacoblin/wark/internal/judge"
	"github.com/jacoblin/wark/internal/obslog"
	"github.com/jacoblin/wark/internal/obsmetrics"
	"github.com/jacoblin/wark/internal/sandbox"
)

// Version and Commit are set at build time (ldflags), surfaced on GET
// /info — restored from the original's server/core.rs /info route, which
// spec.md's distillation drops but original_source/ still specifies.
var (
	Version = "dev"
	Commit  = "unknown"
)

// Server bundles everything the HTTP handlers need.
type Server struct {
	Runner *sandbox.Runner
	Judge  *judge.Pipeline
	Auth   *authjwt.Verifier
	Log    *obslog.Logger

	// MaxCost and MaxMemoryMB cap what a /run submission may request,
	// mirroring the original's config.rs max_cost()/max_memory() env-backed
	// ceilings (server/execute.rs rejects an over-limit submission with a
	// 200 success=false response, not a 400 — the envelope itself is
	// well-formed, only the requested limits are not allowed).
	MaxCost     uint64
	MaxMemoryMB uint32

	httpClient *http.Client // used only to deliver async judge callbacks
}

func New(runner *sandbox.Runner, cache *httpcache.Cache, auth *authjwt.Verifier, log *obslog.Logger) *Server {
	return &Server{
		Runner:      runner,
		Judge:       judge.New(runner, cache, log),
		Auth:        auth,
		Log:         log,
		MaxCost:     1_000_000_000,
		MaxMemoryMB: 4096,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Mux builds the complete route table, wrapped with otelhttp so every
// request gets a server span — the same decoration
// pkg/observability/otel/httpwrap_otlp.go's WrapHTTPHandler applies, kept
// unconditional here rather than behind the teacher's otelotlp build tag
// since this is this service's only HTTP entry point.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/info", s.handleInfo)
	mux.Handle("/metrics", obsmetrics.Handler())
	mux.Handle("/validate", s.Auth.Middleware(http.HandlerFunc(s.handleValidate)))
	mux.Handle("/run", s.Auth.Middleware(http.HandlerFunc(s.handleRun)))
	mux.Handle("/judge", s.Auth.Middleware(http.HandlerFunc(s.handleJudge)))
	return otelhttp.NewHandler(mux, "wark")
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, "I am WARK.")
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": Version,
		"commit":  Commit,
		"date":    time.Now().UTC().Format(time.RFC3339),
		"os":      "linux",
	})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, true)
}

// runRequest is the /run wire format from spec.md §6.
type runRequest struct {
	Cost   uint64 `json:"cost"`
	Memory uint32 `json:"memory"`
	Input  string `json:"input"`
	Wasm   string `json:"wasm"`
}

type runResponse struct {
	Success bool   `json:"success"`
	Cost    uint64 `json:"cost"`
	Memory  uint32 `json:"memory"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
	Message string `json:"message"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Cost == 0 || req.Memory == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cost and memory must be greater than zero"})
		return
	}
	if req.Cost > s.MaxCost {
		writeJSON(w, http.StatusOK, runResponse{Success: false, Message: "Invalid cost limit"})
		return
	}
	if req.Memory > s.MaxMemoryMB {
		writeJSON(w, http.StatusOK, runResponse{Success: false, Message: "Invalid memory limit"})
		return
	}

	wasm, err := base64.StdEncoding.DecodeString(req.Wasm)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid base64 encoding for wasm"})
		return
	}

	runID := uuid.NewString()
	log := s.Log.With(runID)
	log.Info("received run request", obslog.Uint64("cost", req.Cost), obslog.Uint64("memory", uint64(req.Memory)))

	start := time.Now()
	outcome, err := s.Runner.Run(r.Context(), sandbox.Request{
		ModuleBytes:   wasm,
		Stdin:         []byte(req.Input),
		CostLimit:     req.Cost,
		MemoryLimitMB: req.Memory,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	for _, op := range outcome.PenaltyOpcodes {
		log.PenaltyHit(op)
	}

	obsmetrics.RunsTotal.WithLabelValues(outcome.Termination.Kind.String()).Inc()
	obsmetrics.RunDuration.WithLabelValues(outcome.Termination.Kind.String()).Observe(time.Since(start).Seconds())
	obsmetrics.CostConsumed.WithLabelValues(outcome.Termination.Kind.String()).Observe(float64(outcome.ConsumedCost))
	log.Info("run finished", obslog.String("termination", outcome.Termination.Kind.String()), obslog.Uint64("consumed_cost", outcome.ConsumedCost))

	writeJSON(w, http.StatusOK, runResponse{
		Success: outcome.Success,
		Cost:    outcome.ConsumedCost,
		Memory:  outcome.PeakMemoryPages / sandbox.PagesPerMB,
		Stdout:  string(outcome.Stdout),
		Stderr:  string(outcome.Stderr),
		Message: outcome.Termination.Message(),
	})
}

// judgeSubmission is the /judge wire format: spec.md §6 plus the
// [SUPPLEMENT] optional async callback restored from server/judge.rs.
type judgeSubmission struct {
	Wasm     string       `json:"wasm"`
	Specs    []judge.Spec `json:"specs"`
	Callback string       `json:"callback,omitempty"`
}

type judgeResults struct {
	Results []judge.Result `json:"results"`
	Error   string         `json:"error,omitempty"`
}

func (s *Server) handleJudge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var sub judgeSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeJSON(w, http.StatusBadRequest, judgeResults{Error: "invalid submission. Error parsing JSON: " + err.Error()})
		return
	}

	wasm, err := base64.StdEncoding.DecodeString(sub.Wasm)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, judgeResults{Error: "invalid submission. Error decoding base64."})
		return
	}

	if sub.Callback != "" {
		// Fire-and-forget: run the batch in the background and POST the
		// completed JudgeResults to the callback URL, matching
		// server/judge.rs's task::spawn + client.post(...).send() — one
		// shot, not retried, logged on delivery failure.
		go s.deliverCallback(context.Background(), wasm, sub.Specs, sub.Callback)
		writeJSON(w, http.StatusOK, judgeResults{Results: []judge.Result{}})
		return
	}

	results := s.Judge.RunBatch(r.Context(), wasm, sub.Specs)
	writeJSON(w, http.StatusOK, judgeResults{Results: results})
}

func (s *Server) deliverCallback(ctx context.Context, wasm []byte, specs []judge.Spec, callback string) {
	results := s.Judge.RunBatch(ctx, wasm, specs)
	payload, err := json.Marshal(judgeResults{Results: results})
	if err != nil {
		s.Log.Error("marshal callback payload", obslog.Err(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callback, bytes.NewReader(payload))
	if err != nil {
		s.Log.Error("build callback request", obslog.String("callback", callback), obslog.Err(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.Log.Error("deliver callback failed", obslog.String("callback", callback), obslog.Err(err))
		return
	}
	defer resp.Body.Close()
	s.Log.Info("callback delivered", obslog.String("callback", callback), obslog.Int("status", resp.StatusCode))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
