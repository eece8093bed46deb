// Package sandbox instantiates a metered WebAssembly module under wazero,
// binds its stdio to host buffers, enforces a linear-memory page cap, and
// classifies how the run ended.
package sandbox

import "fmt"

// TerminationKind tags how a run ended.
type TerminationKind int

const (
	TerminationExit TerminationKind = iota
	TerminationCostExhausted
	TerminationMemoryExhausted
	TerminationTrap
	TerminationInstantiationError
	TerminationTimeout
)

func (k TerminationKind) String() string {
	switch k {
	case TerminationExit:
		return "exit"
	case TerminationCostExhausted:
		return "cost_exhausted"
	case TerminationMemoryExhausted:
		return "memory_exhausted"
	case TerminationTrap:
		return "trap"
	case TerminationInstantiationError:
		return "instantiation_error"
	case TerminationTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Termination describes the outcome.termination field of the data model:
// a kind plus whatever extra detail it carries (exit code or reason text).
type Termination struct {
	Kind     TerminationKind
	ExitCode int
	Reason   string
}

func (t Termination) Message() string {
	switch t.Kind {
	case TerminationExit:
		return fmt.Sprintf("exited with code %d", t.ExitCode)
	case TerminationCostExhausted:
		return "computational cost budget exhausted"
	case TerminationMemoryExhausted:
		return "linear memory cap exceeded"
	case TerminationTrap:
		return fmt.Sprintf("trap: %s", t.Reason)
	case TerminationInstantiationError:
		return fmt.Sprintf("instantiation error: %s", t.Reason)
	case TerminationTimeout:
		return "execution timed out"
	default:
		return "unknown termination"
	}
}

// Request is the Sandbox Runner's input contract.
type Request struct {
	ModuleBytes   []byte
	Stdin         []byte
	CostLimit     uint64
	MemoryLimitMB uint32
}

// Outcome is the Sandbox Runner's output contract.
type Outcome struct {
	Success         bool
	ConsumedCost    uint64
	PeakMemoryPages uint32
	Stdout          []byte
	Stderr          []byte
	Termination     Termination
	OperationCounts map[string]uint64
	PenaltyOpcodes  []string
}

// PageSize is one WebAssembly linear-memory page: 64 KiB.
const PageSize = 64 * 1024

// PagesPerMB is how many 64 KiB pages make up one megabyte (1024/64),
// used both to compute a page cap from a MB limit and to convert a page
// count back to MB for any wire format that reports memory in MB, per
// original_source/src/run.rs's max_mem = (memory.minimum.0 + 15) / 16.
const PagesPerMB = 16

// PageCap converts a megabyte memory limit into a page-count ceiling, per
// the data model's "memory limit MB" -> "page cap" conversion: ceil(limit
// * 1024 / 64), which is exactly limit*16 since 1024/64 is integral.
func PageCap(memoryLimitMB uint32) uint32 {
	return memoryLimitMB * PagesPerMB
}
