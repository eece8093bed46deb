// Package judge implements the Judge Pipeline: for each spec in a batch,
// resolve its stdin (literal or fetched through the HTTP Input Cache), run
// the module through the Sandbox Runner, and classify the verdict by
// hashing the trimmed stdout against an expected digest. It is the direct
// translation of the original's server/judge.rs fan-out/fan-in (run_specs)
// and judger/io_fast/mod.rs (judge_output), with the original's
// {Spec,Input,Execution,Output} exception tags remapped onto spec.md's
// {Output,Runtime,Fetch,Decode} taxonomy.
package judge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jacoblin/wark/internal/httpcache"
	"github.com/jacoblin/wark/internal/obslog"
	"github.com/jacoblin/wark/internal/obsmetrics"
	"github.com/jacoblin/wark/internal/sandbox"
)

// ExceptionType tags why a spec's verdict was false, per spec.md's
// {Output, Runtime, Fetch, Decode} taxonomy.
type ExceptionType string

const (
	ExceptionOutput  ExceptionType = "Output"
	ExceptionRuntime ExceptionType = "Runtime"
	ExceptionFetch   ExceptionType = "Fetch"
	ExceptionDecode  ExceptionType = "Decode"
)

// Exception describes why a spec did not pass.
type Exception struct {
	Type   ExceptionType `json:"type"`
	Reason string        `json:"reason"`
}

// Spec is a single judge specification. Exactly one of Input/InputURL must
// be set, matching the data model's "input: literal | input_url".
// InputAuth, carried over from the original's FastIOJudgeSpec.input_auth,
// is sent as a Bearer token when fetching InputURL.
type Spec struct {
	Judger        string  `json:"judger"`
	Input         *string `json:"input,omitempty"`
	InputURL      *string `json:"input_url,omitempty"`
	InputAuth     *string `json:"input_auth,omitempty"`
	ExpectedHash  string  `json:"expected_hash"`
	CostLimit     uint64  `json:"cost"`
	MemoryLimitMB uint32  `json:"memory"`
}

// Result is a single spec's judge verdict.
type Result struct {
	Success         bool       `json:"success"`
	ConsumedCost    uint64     `json:"cost,omitempty"`
	PeakMemoryPages uint32     `json:"memory,omitempty"`
	Message         string     `json:"message,omitempty"`
	Exception       *Exception `json:"exception,omitempty"`
}

// maxCostLimit and maxMemoryLimitMB bound what check rejects before a run
// is even attempted, matching FastIOJudgeSpec::check_spec's hard caps.
const (
	maxCostLimit     = 1_000_000_000
	maxMemoryLimitMB = 2048
)

// Pipeline composes a Sandbox Runner with an HTTP Input Cache to evaluate
// judge batches.
type Pipeline struct {
	Runner *sandbox.Runner
	Cache  *httpcache.Cache
	Log    *obslog.Logger
}

func New(runner *sandbox.Runner, cache *httpcache.Cache, log *obslog.Logger) *Pipeline {
	return &Pipeline{Runner: runner, Cache: cache, Log: log}
}

// RunBatch evaluates every spec against wasm independently and concurrently
// (one goroutine per spec, per spec.md §5's "Implementations MAY execute
// specs concurrently"), reassembling results in input order regardless of
// completion order. No spec's failure aborts its peers.
func (p *Pipeline) RunBatch(ctx context.Context, wasm []byte, specs []Spec) []Result {
	results := make([]Result, len(specs))

	var g errgroup.Group
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			results[i] = p.runOne(ctx, wasm, spec)
			return nil
		})
	}
	_ = g.Wait() // runOne never returns an error: every failure is folded into Result

	for _, r := range results {
		exc := ""
		if r.Exception != nil {
			exc = string(r.Exception.Type)
		}
		obsmetrics.JudgeVerdicts.WithLabelValues(fmt.Sprintf("%t", r.Success), exc).Inc()
	}
	return results
}

func (p *Pipeline) runOne(ctx context.Context, wasm []byte, spec Spec) Result {
	if err := checkSpec(spec); err != nil {
		return Result{Success: false, Exception: &Exception{Type: ExceptionDecode, Reason: err.Error()}}
	}

	stdin, err := p.resolveInput(ctx, spec)
	if err != nil {
		return Result{Success: false, Exception: &Exception{Type: ExceptionFetch, Reason: err.Error()}}
	}

	outcome, err := p.Runner.Run(ctx, sandbox.Request{
		ModuleBytes:   wasm,
		Stdin:         stdin,
		CostLimit:     spec.CostLimit,
		MemoryLimitMB: spec.MemoryLimitMB,
	})
	if err != nil {
		return Result{Success: false, Exception: &Exception{Type: ExceptionRuntime, Reason: err.Error()}}
	}
	if p.Log != nil {
		for _, op := range outcome.PenaltyOpcodes {
			p.Log.PenaltyHit(op)
		}
	}

	if outcome.Termination.Kind != sandbox.TerminationExit || outcome.Termination.ExitCode != 0 {
		return Result{
			Success:         false,
			ConsumedCost:    outcome.ConsumedCost,
			PeakMemoryPages: outcome.PeakMemoryPages,
			Exception:       &Exception{Type: ExceptionRuntime, Reason: outcome.Termination.Message()},
		}
	}

	return judgeOutput(outcome, spec.ExpectedHash)
}

// checkSpec mirrors FastIOJudgeSpec::check_spec: cost/memory ceilings and
// the "exactly one of input/input_url" invariant.
func checkSpec(spec Spec) error {
	if spec.CostLimit == 0 || spec.CostLimit > maxCostLimit {
		return fmt.Errorf("invalid cost limit, got %d, max is %d", spec.CostLimit, maxCostLimit)
	}
	if spec.MemoryLimitMB == 0 || spec.MemoryLimitMB > maxMemoryLimitMB {
		return fmt.Errorf("invalid memory limit, got %d, max is %d", spec.MemoryLimitMB, maxMemoryLimitMB)
	}
	hasInput := spec.Input != nil
	hasURL := spec.InputURL != nil
	if hasInput == hasURL {
		return fmt.Errorf("must provide exactly one of input or input_url")
	}
	return nil
}

func (p *Pipeline) resolveInput(ctx context.Context, spec Spec) ([]byte, error) {
	if spec.Input != nil {
		return []byte(*spec.Input), nil
	}
	auth := ""
	if spec.InputAuth != nil {
		auth = *spec.InputAuth
	}
	return p.Cache.FetchAuth(ctx, *spec.InputURL, auth)
}

// judgeOutput is the IOFast judger: trim ASCII whitespace from both ends of
// stdout, SHA-256 it, and compare hex digests case-insensitively, matching
// judger/io_fast/mod.rs's judge_output (which additionally right-trims each
// line before joining; WARK's equivalent outcome.Stdout already contains
// only what the module wrote, so a single outer trim suffices per
// spec.md's simpler contract).
func judgeOutput(outcome *sandbox.Outcome, expectedHash string) Result {
	trimmed := strings.TrimFunc(string(outcome.Stdout), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
	})
	sum := sha256.Sum256([]byte(trimmed))
	actual := hex.EncodeToString(sum[:])

	if !strings.EqualFold(actual, expectedHash) {
		return Result{
			Success:         false,
			ConsumedCost:    outcome.ConsumedCost,
			PeakMemoryPages: outcome.PeakMemoryPages,
			Exception: &Exception{
				Type:   ExceptionOutput,
				Reason: fmt.Sprintf("Output hash mismatch. Expected %s, got %s", expectedHash, actual),
			},
		}
	}

	return Result{
		Success:         true,
		ConsumedCost:    outcome.ConsumedCost,
		PeakMemoryPages: outcome.PeakMemoryPages,
	}
}
