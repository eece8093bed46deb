// Package cost holds the static opcode-to-cost table used by the metering
// transform. The table is pure data: a process-wide, read-only map from a
// decoded opcode identity to a non-negative cost, plus a penalty applied to
// anything the table does not recognize.
package cost

import "fmt"

// Op identifies a WebAssembly instruction for costing purposes. Most
// instructions are identified by their single opcode byte; the extended
// encodings (0xFC saturating-truncation/bulk-memory, 0xFD SIMD, 0xFE
// threads/atomics) carry a LEB128 sub-opcode in addition to the prefix
// byte.
type Op struct {
	Prefix byte // 0x00 for the plain opcode space, 0xFC/0xFD/0xFE for extended spaces
	Code   uint32
}

// Name returns a human-readable mnemonic for logging penalty hits. It does
// not need to be exhaustive — it only has to be distinct enough that a
// warning log line identifies which opcode triggered the penalty.
func (o Op) Name() string {
	if o.Prefix == 0x00 {
		if n, ok := names[o.Code]; ok {
			return n
		}
		return fmt.Sprintf("op_0x%02x", o.Code)
	}
	return fmt.Sprintf("ext_0x%02x_%d", o.Prefix, o.Code)
}

// DefaultPenalty is charged for any opcode with no entry in Table. The
// source implementation emits "Penalty Instruction <name>" once per run per
// name when this applies.
const DefaultPenalty uint32 = 1000

// Table maps an Op to its metering cost. It is populated once at package
// init and never mutated afterward — safe for concurrent reads from many
// sandboxed runs.
var Table = buildTable()

// Cost returns the metering cost of op, and whether op had an explicit
// entry (false means the DefaultPenalty was applied).
func Cost(op Op) (uint32, bool) {
	if c, ok := Table[op]; ok {
		return c, true
	}
	return DefaultPenalty, false
}

func plain(code uint32) Op { return Op{Prefix: 0x00, Code: code} }

// buildTable reproduces the per-opcode weights of the source cost table
// verbatim, organized by the families the source groups them into. Plain
// opcode byte values follow the WebAssembly core binary encoding.
func buildTable() map[Op]uint32 {
	t := map[Op]uint32{}
	set := func(cost uint32, codes ...uint32) {
		for _, c := range codes {
			t[plain(c)] = cost
		}
	}

	// Control flow: block/loop/if/else/end/br/br_if/br_table/select = 1.
	set(1, 0x02 /*block*/, 0x03 /*loop*/, 0x04 /*if*/, 0x05 /*else*/, 0x0B, /*end*/
		0x0C /*br*/, 0x0D /*br_if*/, 0x0E /*br_table*/, 0x1B /*select*/, 0x1C /*select t*/)

	// return/unreachable/nop/drop = 0.
	set(0, 0x00 /*unreachable*/, 0x01 /*nop*/, 0x0F /*return*/, 0x1A /*drop*/)

	// calls.
	set(4, 0x10 /*call*/)
	set(6, 0x11 /*call_indirect*/)

	// locals/globals.
	set(0, 0x20 /*local.get*/)
	set(1, 0x21 /*local.set*/, 0x22 /*local.tee*/)
	set(1, 0x23 /*global.get*/)
	set(2, 0x24 /*global.set*/)

	// loads: i32/i64/f32/f64 and the sign/width-extending variants.
	set(1,
		0x28 /*i32.load*/, 0x29 /*i64.load*/, 0x2A /*f32.load*/, 0x2B, /*f64.load*/
		0x2C /*i32.load8_s*/, 0x2D /*i32.load8_u*/, 0x2E /*i32.load16_s*/, 0x2F, /*i32.load16_u*/
		0x30 /*i64.load8_s*/, 0x31 /*i64.load8_u*/, 0x32 /*i64.load16_s*/, 0x33, /*i64.load16_u*/
		0x34 /*i64.load32_s*/, 0x35 /*i64.load32_u*/)

	// stores.
	set(2,
		0x36 /*i32.store*/, 0x37 /*i64.store*/, 0x38 /*f32.store*/, 0x39, /*f64.store*/
		0x3A /*i32.store8*/, 0x3B /*i32.store16*/, 0x3C /*i64.store8*/, 0x3D /*i64.store16*/, 0x3E /*i64.store32*/)

	// memory.size/memory.grow.
	set(1, 0x3F /*memory.size*/, 0x40 /*memory.grow*/)

	// consts.
	set(1, 0x41 /*i32.const*/, 0x42 /*i64.const*/, 0x43 /*f32.const*/, 0x44 /*f64.const*/)

	// i32 comparisons.
	set(1, 0x45, 0x46, 0x47, 0x48, 0x49, 0x4A, 0x4B, 0x4C, 0x4D, 0x4E, 0x4F)
	// i64 comparisons.
	set(1, 0x50, 0x51, 0x52, 0x53, 0x54, 0x55, 0x56, 0x57, 0x58, 0x59, 0x5A)
	// f32/f64 comparisons.
	set(1, 0x5B, 0x5C, 0x5D, 0x5E, 0x5F, 0x60, 0x61, 0x62, 0x63, 0x64, 0x65, 0x66)

	// i32 arithmetic: clz/ctz/popcnt/add/sub = 1, mul = 2, div/rem = 3, bitwise/shift/rotate = 1.
	set(1, 0x67 /*clz*/, 0x68 /*ctz*/, 0x69 /*popcnt*/, 0x6A /*add*/, 0x6B /*sub*/)
	set(2, 0x6C /*mul*/)
	set(3, 0x6D /*div_s*/, 0x6E /*div_u*/, 0x6F /*rem_s*/, 0x70 /*rem_u*/)
	set(1, 0x71 /*and*/, 0x72 /*or*/, 0x73 /*xor*/, 0x74 /*shl*/, 0x75 /*shr_s*/, 0x76 /*shr_u*/, 0x77 /*rotl*/, 0x78 /*rotr*/)

	// i64 arithmetic, same shape.
	set(1, 0x79 /*clz*/, 0x7A /*ctz*/, 0x7B /*popcnt*/, 0x7C /*add*/, 0x7D /*sub*/)
	set(2, 0x7E /*mul*/)
	set(3, 0x7F /*div_s*/, 0x80 /*div_u*/, 0x81 /*rem_s*/, 0x82 /*rem_u*/)
	set(1, 0x83 /*and*/, 0x84 /*or*/, 0x85 /*xor*/, 0x86 /*shl*/, 0x87 /*shr_s*/, 0x88 /*shr_u*/, 0x89 /*rotl*/, 0x8A /*rotr*/)

	// f32 arithmetic: abs/neg/ceil/floor/nearest = 1, sqrt = 2, add/sub/mul/div = per source (1/1/2/3 folded as 1 for add/sub, 2 mul, 3 div), min/max/copysign = 1.
	set(1, 0x8B /*abs*/, 0x8C /*neg*/, 0x8D /*ceil*/, 0x8E /*floor*/, 0x8F /*trunc*/, 0x90 /*nearest*/)
	set(2, 0x91 /*sqrt*/)
	set(1, 0x92 /*add*/, 0x93 /*sub*/)
	set(2, 0x94 /*mul*/)
	set(3, 0x95 /*div*/)
	set(1, 0x96 /*min*/, 0x97 /*max*/, 0x98 /*copysign*/)

	// f64 arithmetic, same shape.
	set(1, 0x99 /*abs*/, 0x9A /*neg*/, 0x9B /*ceil*/, 0x9C /*floor*/, 0x9D /*trunc*/, 0x9E /*nearest*/)
	set(2, 0x9F /*sqrt*/)
	set(1, 0xA0 /*add*/, 0xA1 /*sub*/)
	set(2, 0xA2 /*mul*/)
	set(3, 0xA3 /*div*/)
	set(1, 0xA4 /*min*/, 0xA5 /*max*/, 0xA6 /*copysign*/)

	// conversions / reinterpretations, all cost 1.
	set(1,
		0xA7 /*i32.wrap_i64*/, 0xA8 /*i32.trunc_f32_s*/, 0xA9 /*i32.trunc_f32_u*/, 0xAA, /*i32.trunc_f64_s*/
		0xAB /*i32.trunc_f64_u*/, 0xAC /*i64.extend_i32_s*/, 0xAD /*i64.extend_i32_u*/, 0xAE, /*i64.trunc_f32_s*/
		0xAF /*i64.trunc_f32_u*/, 0xB0 /*i64.trunc_f64_s*/, 0xB1 /*i64.trunc_f64_u*/, 0xB2, /*f32.convert_i32_s*/
		0xB3 /*f32.convert_i32_u*/, 0xB4 /*f32.convert_i64_s*/, 0xB5 /*f32.convert_i64_u*/, 0xB6, /*f32.demote_f64*/
		0xB7 /*f64.convert_i32_s*/, 0xB8 /*f64.convert_i32_u*/, 0xB9 /*f64.convert_i64_s*/, 0xBA, /*f64.convert_i64_u*/
		0xBB /*f64.promote_f32*/, 0xBC /*i32.reinterpret_f32*/, 0xBD /*i64.reinterpret_f64*/, 0xBE, /*f32.reinterpret_i32*/
		0xBF /*f64.reinterpret_i64*/, 0xC0 /*i32.extend8_s*/, 0xC1 /*i32.extend16_s*/, 0xC2, /*i64.extend8_s*/
		0xC3 /*i64.extend16_s*/, 0xC4 /*i64.extend32_s*/)

	return t
}

// ExtPlain is a helper for the 0xFC extended opcode space (saturating
// truncation and bulk-memory instructions), keyed by the LEB128 sub-opcode
// that follows the 0xFC prefix byte.
func ExtPlain(sub uint32) Op { return Op{Prefix: 0xFC, Code: sub} }

const (
	// Saturating truncation sub-opcodes cost 1, matching their non-saturating counterparts.
	ExtTruncSatF32S uint32 = 0
	ExtTruncSatF32U uint32 = 1
	ExtTruncSatF64S uint32 = 2
	ExtTruncSatF64U uint32 = 3

	// Bulk memory sub-opcodes.
	ExtMemoryInit uint32 = 8
	ExtDataDrop   uint32 = 9
	ExtMemoryCopy uint32 = 10
	ExtMemoryFill uint32 = 11
)

func init() {
	for _, s := range []uint32{ExtTruncSatF32S, ExtTruncSatF32U, ExtTruncSatF64S, ExtTruncSatF64U} {
		Table[ExtPlain(s)] = 1
	}
	Table[ExtPlain(ExtMemoryInit)] = 6
	Table[ExtPlain(ExtMemoryCopy)] = 6
	Table[ExtPlain(ExtMemoryFill)] = 6
	Table[ExtPlain(ExtDataDrop)] = 5

	for _, s := range []uint32{
		AtomicI32Load, AtomicI32Load8U, AtomicI32Load16U,
		AtomicI64Load, AtomicI64Load8U, AtomicI64Load16U, AtomicI64Load32U,
	} {
		Table[AtomicOp(s)] = 11 // source: 10 + 1 (cost.rs's I32AtomicLoad arm et al.)
	}
	for _, s := range []uint32{
		AtomicI32Store, AtomicI32Store8, AtomicI32Store16,
		AtomicI64Store, AtomicI64Store8, AtomicI64Store16, AtomicI64Store32,
	} {
		Table[AtomicOp(s)] = 12 // source: 10 + 2 (cost.rs's I32AtomicStore arm et al.)
	}
	// memory.atomic.notify/wait, atomic.fence, and the read-modify-write
	// family are not priced individually in the source and fall to
	// DefaultPenalty, matching its unmatched-operator arm.
}

// AtomicOp is a helper for the 0xFE extended opcode space (threads /
// atomic memory instructions), keyed by the LEB128 sub-opcode that follows
// the 0xFE prefix byte.
func AtomicOp(sub uint32) Op { return Op{Prefix: 0xFE, Code: sub} }

// Atomic load/store sub-opcodes, per the threads proposal's binary
// encoding. Only the seven load and seven store forms carry an explicit
// cost in cost.rs; everything else in the 0xFE space (notify, wait32/64,
// fence, the rmw/cmpxchg family) is intentionally left unpriced here and
// takes DefaultPenalty.
const (
	AtomicI32Load      uint32 = 0x10
	AtomicI64Load      uint32 = 0x11
	AtomicI32Load8U    uint32 = 0x12
	AtomicI32Load16U   uint32 = 0x13
	AtomicI64Load8U    uint32 = 0x14
	AtomicI64Load16U   uint32 = 0x15
	AtomicI64Load32U   uint32 = 0x16
	AtomicI32Store     uint32 = 0x17
	AtomicI64Store     uint32 = 0x18
	AtomicI32Store8    uint32 = 0x19
	AtomicI32Store16   uint32 = 0x1A
	AtomicI64Store8    uint32 = 0x1B
	AtomicI64Store16   uint32 = 0x1C
	AtomicI64Store32   uint32 = 0x1D
)

var names = map[uint32]string{
	0x00: "unreachable", 0x01: "nop", 0x02: "block", 0x03: "loop", 0x04: "if",
	0x05: "else", 0x0B: "end", 0x0C: "br", 0x0D: "br_if", 0x0E: "br_table",
	0x0F: "return", 0x10: "call", 0x11: "call_indirect", 0x1A: "drop",
	0x1B: "select", 0x1C: "select_t", 0x20: "local.get", 0x21: "local.set",
	0x22: "local.tee", 0x23: "global.get", 0x24: "global.set",
	0x28: "i32.load", 0x29: "i64.load", 0x36: "i32.store", 0x37: "i64.store",
	0x3F: "memory.size", 0x40: "memory.grow", 0x41: "i32.const", 0x42: "i64.const",
	0x43: "f32.const", 0x44: "f64.const",
}
