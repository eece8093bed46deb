package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/jacoblin/wark/internal/wasmcost"
)

// Runner builds and tears down one wazero runtime per call. Each run may
// carry a different memory cap, and wazero ties the page limit to the
// runtime rather than the module instance, so runs cannot share a runtime
// the way wazero.CompiledModule could in principle be shared — this
// mirrors the per-run Store/Engine lifecycle of the source's Wasmer-based
// runner (see run.rs), just rebuilt per call instead of reused.
type Runner struct{}

func NewRunner() *Runner { return &Runner{} }

// Run compiles, meters, instantiates and executes one module, returning a
// structured Outcome. A non-nil error return means the request could not
// even be attempted (currently unused — every failure mode the data model
// anticipates is folded into Outcome.Termination instead).
func (rnr *Runner) Run(ctx context.Context, req Request) (*Outcome, error) {
	rewritten, report, err := wasmcost.Rewrite(req.ModuleBytes, req.CostLimit)
	if err != nil {
		return &Outcome{
			Termination: Termination{Kind: TerminationInstantiationError, Reason: err.Error()},
		}, nil
	}

	pageCap := PageCap(req.MemoryLimitMB)

	rtConfig := wazero.NewRuntimeConfig().WithMemoryLimitPages(pageCap)
	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	defer rt.Close(ctx)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return &Outcome{
			Termination: Termination{Kind: TerminationInstantiationError, Reason: fmt.Sprintf("wasi instantiate: %v", err)},
		}, nil
	}

	compiled, err := rt.CompileModule(ctx, rewritten)
	if err != nil {
		return &Outcome{
			Termination:     Termination{Kind: TerminationInstantiationError, Reason: err.Error()},
			OperationCounts: report.OperationCounts,
			PenaltyOpcodes:  report.PenaltyOpcodes,
		}, nil
	}

	// wazero's default ModuleConfig lists "_start" as a start function but
	// treats a missing one as a no-op rather than an error, so a module
	// without it would otherwise instantiate cleanly and read back as a
	// successful Exit(0). Reject it up front instead.
	if _, ok := compiled.ExportedFunctions()["_start"]; !ok {
		return &Outcome{
			Termination:     Termination{Kind: TerminationInstantiationError, Reason: "module does not export a _start function"},
			OperationCounts: report.OperationCounts,
			PenaltyOpcodes:  report.PenaltyOpcodes,
		}, nil
	}

	var stdout, stderr bytes.Buffer
	modCfg := wazero.NewModuleConfig().
		WithName(""). // anonymous: concurrent runs must not collide on instance name
		WithStdin(bytes.NewReader(req.Stdin)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithRandSource(newSequentialRandSource()).
		WithWalltime(func() (int64, int32) {
			return deterministicWalltimeSeconds(), deterministicWalltimeNanos()
		}, sys.ClockResolution(1)).
		WithNanotime(func() int64 {
			return deterministicNanotime()
		}, sys.ClockResolution(1)).
		WithArgs("wark")

	mod, runErr := rt.InstantiateModule(ctx, compiled, modCfg)

	outcome := &Outcome{
		Stdout:          stdout.Bytes(),
		Stderr:          stderr.Bytes(),
		OperationCounts: report.OperationCounts,
		PenaltyOpcodes:  report.PenaltyOpcodes,
	}

	if mod != nil {
		outcome.PeakMemoryPages = peakMemoryPages(mod)
		outcome.ConsumedCost = consumedCost(mod, req.CostLimit)
		defer mod.Close(ctx)
	}

	outcome.Termination = classify(runErr, mod, req, outcome.PeakMemoryPages)
	outcome.Success = outcome.Termination.Kind == TerminationExit && outcome.Termination.ExitCode == 0

	// The debit sequence only subtracts a block's cost from $remaining on
	// the path that does NOT trap, so on cost exhaustion $remaining still
	// holds whatever was left after the last fully-debited block, not 0 —
	// reading it back would underreport how much budget was actually
	// spent. Per spec.md §3's invariant ("on exhaustion ... remaining =
	// 0") and run.rs's RunError::SpendingLimitExceeded(budget), the
	// budget is fully consumed.
	if outcome.Termination.Kind == TerminationCostExhausted {
		outcome.ConsumedCost = req.CostLimit
	}

	return outcome, nil
}

func peakMemoryPages(mod api.Module) uint32 {
	mem := mod.Memory()
	if mem == nil || reflect.ValueOf(mem).IsNil() {
		return 0
	}
	return mem.Size() / PageSize
}

func consumedCost(mod api.Module, costLimit uint64) uint64 {
	g := mod.ExportedGlobal(wasmcost.RemainingGlobalExport)
	if g == nil {
		return 0
	}
	remaining := g.Get()
	if remaining > costLimit {
		return 0
	}
	return costLimit - remaining
}

// classify maps the outcome of InstantiateModule onto the termination
// taxonomy, per the Host event -> Outcome.termination table: a clean
// proc_exit surfaces as a *sys.ExitError; a trap caused by our own
// cost-exhaustion sequence is distinguished by reading back the exhausted
// global; a trap that coincides with the memory cap being fully consumed
// is treated as MemoryExhausted; anything else is a generic Trap.
func classify(runErr error, mod api.Module, req Request, peakPages uint32) Termination {
	if runErr == nil {
		return Termination{Kind: TerminationExit, ExitCode: 0}
	}

	var exitErr *sys.ExitError
	if errors.As(runErr, &exitErr) {
		return Termination{Kind: TerminationExit, ExitCode: int(exitErr.ExitCode())}
	}

	if mod != nil {
		if exhausted := mod.ExportedGlobal(wasmcost.ExhaustedGlobalExport); exhausted != nil && exhausted.Get() != 0 {
			return Termination{Kind: TerminationCostExhausted}
		}
	}

	if peakPages >= PageCap(req.MemoryLimitMB) {
		return Termination{Kind: TerminationMemoryExhausted}
	}

	return Termination{Kind: TerminationTrap, Reason: runErr.Error()}
}
