// Package wasmcost implements the pre-instantiation metering transform:
// it rewrites a raw WebAssembly module so that every basic block debits a
// module-global budget counter before running, trapping when the debit
// would underflow. This ports the basic-block accounting algorithm of the
// source cost middleware directly onto the module's bytes, since the
// runtime this module targets (wazero) exposes no compiler-level
// instrumentation hook equivalent to a Wasmer ModuleMiddleware.
package wasmcost

import (
	"fmt"

	"github.com/jacoblin/wark/internal/cost"
	"github.com/jacoblin/wark/internal/wasmbin"
)

// RemainingGlobalExport and ExhaustedGlobalExport name the two globals the
// transform appends and exports, so the Sandbox Runner can read them back
// after a run without needing to know their index.
const (
	RemainingGlobalExport = "wark_remaining_points"
	ExhaustedGlobalExport = "wark_points_exhausted"
)

// Opcodes that finalize the cost of the preceding basic block: they are
// either branch targets (Loop, End, Else) or branch/call/return sources.
const (
	opLoop         = 0x03
	opEnd          = 0x0B
	opElse         = 0x05
	opBr           = 0x0C
	opBrIf         = 0x0D
	opBrTable      = 0x0E
	opCall         = 0x10
	opCallIndirect = 0x11
	opReturn       = 0x0F
)

func isBasicBlockBoundary(in wasmbin.Instr) bool {
	if in.Prefix != 0x00 {
		return false
	}
	switch in.Code {
	case opLoop, opEnd, opElse, opBr, opBrIf, opBrTable, opCall, opCallIndirect, opReturn:
		return true
	default:
		return false
	}
}

// Report summarizes what the transform did to a module, for logging and
// for tests that assert on determinism/coverage.
type Report struct {
	FunctionsRewritten int
	OperationCounts    map[string]uint64
	PenaltyOpcodes     []string // unique opcode names that fell back to the default penalty, in first-seen order
	RemainingGlobalIdx uint32
	ExhaustedGlobalIdx uint32
}

// Budget records the global indices of the two budget globals the
// transform appended. It has no methods; the Sandbox Runner reads the
// remaining budget back through the global exported as
// RemainingGlobalExport, not through a Budget value.
type Budget struct {
	RemainingGlobalIdx uint32
	ExhaustedGlobalIdx uint32
}

// Rewrite applies the metering transform to moduleBytes for the given
// initial budget. It is deterministic: identical input bytes and budget
// always produce identical output bytes.
func Rewrite(moduleBytes []byte, initialBudget uint64) ([]byte, *Report, error) {
	mod, err := wasmbin.ParseModule(moduleBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("decode module: %w", err)
	}

	importedGlobals, err := countImportedGlobals(mod)
	if err != nil {
		return nil, nil, fmt.Errorf("count imported globals: %w", err)
	}

	existingGlobalCount, existingGlobalsBytes, err := splitGlobalSection(mod)
	if err != nil {
		return nil, nil, fmt.Errorf("parse global section: %w", err)
	}

	remainingIdx := uint32(importedGlobals) + existingGlobalCount
	exhaustedIdx := remainingIdx + 1

	mod.Replace(wasmbin.SecGlobal, buildGlobalSection(existingGlobalCount, existingGlobalsBytes, initialBudget))
	mod.Replace(wasmbin.SecExport, appendGlobalExports(mod, remainingIdx, exhaustedIdx))

	codePayload, report, err := rewriteCodeSection(mod, remainingIdx, exhaustedIdx)
	if err != nil {
		return nil, nil, fmt.Errorf("rewrite code section: %w", err)
	}
	mod.Replace(wasmbin.SecCode, codePayload)

	report.RemainingGlobalIdx = remainingIdx
	report.ExhaustedGlobalIdx = exhaustedIdx

	return mod.Encode(), report, nil
}

// countImportedGlobals walks the Import section (if present) to find how
// many entries import a global, since the global index space is
// imported-globals-first, then module-defined globals.
func countImportedGlobals(mod *wasmbin.Module) (int, error) {
	payload, ok := mod.Find(wasmbin.SecImport)
	if !ok {
		return 0, nil
	}
	r := wasmbin.NewReader(payload)
	n, err := r.U32()
	if err != nil {
		return 0, err
	}
	count := 0
	for i := uint32(0); i < n; i++ {
		if _, err := r.Name(); err != nil { // module name
			return 0, err
		}
		if _, err := r.Name(); err != nil { // field name
			return 0, err
		}
		kind, err := r.Byte()
		if err != nil {
			return 0, err
		}
		switch kind {
		case 0x00: // func: typeidx
			if _, err := r.U32(); err != nil {
				return 0, err
			}
		case 0x01: // table: reftype + limits
			if err := r.Skip(1); err != nil {
				return 0, err
			}
			if err := skipLimits(r); err != nil {
				return 0, err
			}
		case 0x02: // memory: limits
			if err := skipLimits(r); err != nil {
				return 0, err
			}
		case 0x03: // global: valtype + mutability
			count++
			if err := r.Skip(2); err != nil {
				return 0, err
			}
		default:
			return 0, fmt.Errorf("unknown import kind 0x%02x", kind)
		}
	}
	return count, nil
}

func skipLimits(r *wasmbin.Reader) error {
	flag, err := r.Byte()
	if err != nil {
		return err
	}
	if _, err := r.U32(); err != nil { // min
		return err
	}
	if flag == 0x01 {
		if _, err := r.U32(); err != nil { // max
			return err
		}
	}
	return nil
}

// splitGlobalSection returns the existing global count and the raw bytes
// of the existing global entries (everything after the count varint), so
// they can be copied verbatim into the rewritten section.
func splitGlobalSection(mod *wasmbin.Module) (uint32, []byte, error) {
	payload, ok := mod.Find(wasmbin.SecGlobal)
	if !ok {
		return 0, nil, nil
	}
	r := wasmbin.NewReader(payload)
	n, err := r.U32()
	if err != nil {
		return 0, nil, err
	}
	return n, payload[r.Pos():], nil
}

// buildGlobalSection appends the two budget globals after whatever globals
// the module already declares: an i64 var global initialized to
// initialBudget, and an i32 var global initialized to 0.
func buildGlobalSection(existingCount uint32, existingBytes []byte, initialBudget uint64) []byte {
	out := wasmbin.AppendULEB128(nil, uint64(existingCount)+2)
	out = append(out, existingBytes...)

	// i64 var global, init = i64.const initialBudget; end
	out = append(out, 0x7E, 0x01) // valtype i64, mutable
	out = append(out, 0x42)       // i64.const
	out = wasmbin.AppendSLEB128(out, int64(initialBudget))
	out = append(out, 0x0B) // end

	// i32 var global, init = i32.const 0; end
	out = append(out, 0x7F, 0x01) // valtype i32, mutable
	out = append(out, 0x41, 0x00) // i32.const 0
	out = append(out, 0x0B)       // end

	return out
}

// appendGlobalExports copies the module's existing exports (if any) and
// appends entries for the two budget globals.
func appendGlobalExports(mod *wasmbin.Module, remainingIdx, exhaustedIdx uint32) []byte {
	var existingCount uint32
	var existingBytes []byte
	if payload, ok := mod.Find(wasmbin.SecExport); ok {
		r := wasmbin.NewReader(payload)
		if n, err := r.U32(); err == nil {
			existingCount = n
			existingBytes = payload[r.Pos():]
		}
	}

	out := wasmbin.AppendULEB128(nil, uint64(existingCount)+2)
	out = append(out, existingBytes...)

	out = wasmbin.AppendName(out, RemainingGlobalExport)
	out = append(out, 0x03) // kind: global
	out = wasmbin.AppendULEB128(out, uint64(remainingIdx))

	out = wasmbin.AppendName(out, ExhaustedGlobalExport)
	out = append(out, 0x03)
	out = wasmbin.AppendULEB128(out, uint64(exhaustedIdx))

	return out
}

// rewriteCodeSection re-encodes every function body, inserting a
// debit-and-trap sequence at every basic-block boundary instruction.
func rewriteCodeSection(mod *wasmbin.Module, remainingIdx, exhaustedIdx uint32) ([]byte, *Report, error) {
	payload, ok := mod.Find(wasmbin.SecCode)
	if !ok {
		return nil, &Report{OperationCounts: map[string]uint64{}}, nil
	}

	r := wasmbin.NewReader(payload)
	count, err := r.U32()
	if err != nil {
		return nil, nil, err
	}

	report := &Report{OperationCounts: map[string]uint64{}}
	seenPenalty := map[string]bool{}

	out := wasmbin.AppendULEB128(nil, uint64(count))
	for i := uint32(0); i < count; i++ {
		bodySize, err := r.U32()
		if err != nil {
			return nil, nil, err
		}
		bodyBytes, err := r.Take(int(bodySize))
		if err != nil {
			return nil, nil, err
		}

		newBody, err := rewriteFunctionBody(bodyBytes, remainingIdx, exhaustedIdx, report, seenPenalty)
		if err != nil {
			return nil, nil, fmt.Errorf("function %d: %w", i, err)
		}

		out = wasmbin.AppendULEB128(out, uint64(len(newBody)))
		out = append(out, newBody...)
		report.FunctionsRewritten++
	}

	return out, report, nil
}

// rewriteFunctionBody copies a function's locals declarations unchanged
// and walks its instruction stream, splitting it into basic blocks that end
// at each boundary instruction. Each block's total cost is debited by a
// sequence inserted at the block's start, before any of its instructions
// run; accumulated cost resets to zero after each block.
func rewriteFunctionBody(body []byte, remainingIdx, exhaustedIdx uint32, report *Report, seenPenalty map[string]bool) ([]byte, error) {
	r := wasmbin.NewReader(body)

	// Locals declarations: vector of (count, valtype) pairs, copied through
	// byte-for-byte since the transform never touches local slots.
	localsStart := r.Pos()
	nGroups, err := r.U32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nGroups; i++ {
		if _, err := r.U32(); err != nil { // count
			return nil, err
		}
		if err := r.Skip(1); err != nil { // valtype
			return nil, err
		}
	}
	localsBytes := body[localsStart:r.Pos()]

	out := make([]byte, 0, len(body)+32)
	out = append(out, localsBytes...)

	var accumulated uint64
	var block []byte // instructions of the current basic block, not yet emitted
	for r.Remaining() > 0 {
		in, err := wasmbin.DecodeInstr(r)
		if err != nil {
			return nil, err
		}

		op := cost.Op{Prefix: in.Prefix, Code: in.Code}
		c, known := cost.Cost(op)
		accumulated += uint64(c)

		name := op.Name()
		report.OperationCounts[name]++
		if !known && !seenPenalty[name] {
			seenPenalty[name] = true
			report.PenaltyOpcodes = append(report.PenaltyOpcodes, name)
		}

		block = append(block, body[in.Start:in.End]...)

		if isBasicBlockBoundary(in) {
			if accumulated > 0 {
				out = appendDebitSequence(out, remainingIdx, exhaustedIdx, accumulated)
				accumulated = 0
			}
			out = append(out, block...)
			block = block[:0]
		}
	}
	out = append(out, block...)

	return out, nil
}

// appendDebitSequence emits the conservative subtract-and-test sequence:
// trap (setting the exhausted flag) if remaining < cost, else subtract
// cost from remaining. This is the direct byte-level translation of the
// source's `state.extend(&[...])` block.
func appendDebitSequence(out []byte, remainingIdx, exhaustedIdx uint32, cost uint64) []byte {
	out = append(out, 0x23) // global.get
	out = wasmbin.AppendULEB128(out, uint64(remainingIdx))
	out = append(out, 0x42) // i64.const
	out = wasmbin.AppendSLEB128(out, int64(cost))
	out = append(out, 0x54) // i64.lt_u
	out = append(out, 0x04, 0x40) // if (empty blocktype)
	out = append(out, 0x41, 0x01) // i32.const 1
	out = append(out, 0x24) // global.set
	out = wasmbin.AppendULEB128(out, uint64(exhaustedIdx))
	out = append(out, 0x00) // unreachable
	out = append(out, 0x0B) // end

	out = append(out, 0x23) // global.get
	out = wasmbin.AppendULEB128(out, uint64(remainingIdx))
	out = append(out, 0x42) // i64.const
	out = wasmbin.AppendSLEB128(out, int64(cost))
	out = append(out, 0x7D) // i64.sub
	out = append(out, 0x24) // global.set
	out = wasmbin.AppendULEB128(out, uint64(remainingIdx))

	return out
}
