package wasmbin

import "fmt"

// Instr is one decoded instruction within a function body: its opcode
// identity (Prefix/Code mirror cost.Op) and the byte range [Start, End) it
// occupies in the body, immediate bytes included.
type Instr struct {
	Prefix byte // 0x00, 0xFC, 0xFD or 0xFE
	Code   uint32
	Start  int
	End    int
}

// blockTypeByte values that encode a single result type directly rather
// than indexing the type section.
var valueTypeBytes = map[byte]bool{
	0x7F: true, 0x7E: true, 0x7D: true, 0x7C: true, // i32 i64 f32 f64
	0x7B: true, // v128
	0x70: true, // funcref
	0x6F: true, // externref
	0x40: true, // empty
}

func skipBlockType(r *Reader) error {
	save := r.pos
	b, err := r.Byte()
	if err != nil {
		return err
	}
	if valueTypeBytes[b] {
		return nil
	}
	// Not a single-byte blocktype: it's a signed LEB128 type index. Rewind
	// and decode it properly so we consume the right number of bytes.
	r.pos = save
	_, err = r.sleb(33)
	return err
}

func skipMemarg(r *Reader) error {
	if _, err := r.U32(); err != nil { // align
		return err
	}
	_, err := r.U32() // offset
	return err
}

// DecodeInstr reads one instruction (opcode plus immediates) starting at
// the reader's current position and returns its identity and byte range.
// It deliberately does not validate operand values — only their shape, so
// it can skip over any well-formed instruction stream.
func DecodeInstr(r *Reader) (Instr, error) {
	start := r.pos
	op, err := r.Byte()
	if err != nil {
		return Instr{}, err
	}

	switch op {
	case 0x02, 0x03, 0x04: // block, loop, if
		if err := skipBlockType(r); err != nil {
			return Instr{}, err
		}
	case 0x05, 0x0B: // else, end

	case 0x0C, 0x0D: // br, br_if
		if _, err := r.U32(); err != nil {
			return Instr{}, err
		}
	case 0x0E: // br_table
		n, err := r.U32()
		if err != nil {
			return Instr{}, err
		}
		for i := uint32(0); i < n; i++ {
			if _, err := r.U32(); err != nil {
				return Instr{}, err
			}
		}
		if _, err := r.U32(); err != nil { // default label
			return Instr{}, err
		}
	case 0x0F, 0x00, 0x01, 0x1A, 0x1B: // return, unreachable, nop, drop, select

	case 0x10: // call
		if _, err := r.U32(); err != nil {
			return Instr{}, err
		}
	case 0x11: // call_indirect
		if _, err := r.U32(); err != nil { // type index
			return Instr{}, err
		}
		if _, err := r.U32(); err != nil { // table index
			return Instr{}, err
		}
	case 0x1C: // select t*
		n, err := r.U32()
		if err != nil {
			return Instr{}, err
		}
		if err := r.Skip(int(n)); err != nil {
			return Instr{}, err
		}
	case 0x20, 0x21, 0x22, 0x23, 0x24: // local/global get/set/tee
		if _, err := r.U32(); err != nil {
			return Instr{}, err
		}
	case 0x3F, 0x40: // memory.size, memory.grow
		if _, err := r.U32(); err != nil {
			return Instr{}, err
		}
	case 0x41: // i32.const
		if _, err := r.I32(); err != nil {
			return Instr{}, err
		}
	case 0x42: // i64.const
		if _, err := r.I64(); err != nil {
			return Instr{}, err
		}
	case 0x43: // f32.const
		if _, err := r.F32(); err != nil {
			return Instr{}, err
		}
	case 0x44: // f64.const
		if _, err := r.F64(); err != nil {
			return Instr{}, err
		}
	case 0xFC:
		sub, err := r.U32()
		if err != nil {
			return Instr{}, err
		}
		if err := decodeExtImmediate(r, sub); err != nil {
			return Instr{}, err
		}
		return Instr{Prefix: 0xFC, Code: sub, Start: start, End: r.pos}, nil
	case 0xFD:
		sub, err := r.U32()
		if err != nil {
			return Instr{}, err
		}
		if err := decodeSIMDImmediate(r, sub); err != nil {
			return Instr{}, err
		}
		return Instr{Prefix: 0xFD, Code: sub, Start: start, End: r.pos}, nil
	case 0xFE:
		sub, err := r.U32()
		if err != nil {
			return Instr{}, err
		}
		if err := decodeAtomicImmediate(r, sub); err != nil {
			return Instr{}, err
		}
		return Instr{Prefix: 0xFE, Code: sub, Start: start, End: r.pos}, nil
	default:
		if isMemoryOp(op) {
			if err := skipMemarg(r); err != nil {
				return Instr{}, err
			}
		}
		// Everything else in the plain arithmetic/comparison/conversion
		// space (0x45-0xC4) has no immediate operand.
	}

	return Instr{Prefix: 0x00, Code: uint32(op), Start: start, End: r.pos}, nil
}

func isMemoryOp(op byte) bool {
	return op >= 0x28 && op <= 0x3E
}

// decodeExtImmediate skips the immediates of the 0xFC (saturating
// truncation / bulk memory) extended opcode space.
func decodeExtImmediate(r *Reader, sub uint32) error {
	switch sub {
	case 0, 1, 2, 3, 4, 5, 6, 7: // i32/i64 trunc_sat variants: no immediate
		return nil
	case 8: // memory.init dataidx, memidx
		if _, err := r.U32(); err != nil {
			return err
		}
		_, err := r.U32()
		return err
	case 9: // data.drop dataidx
		_, err := r.U32()
		return err
	case 10: // memory.copy dst-memidx, src-memidx
		if _, err := r.U32(); err != nil {
			return err
		}
		_, err := r.U32()
		return err
	case 11: // memory.fill memidx
		_, err := r.U32()
		return err
	default:
		// table.init/copy/grow/size/fill and friends: two table/element
		// indices in the common case. Best-effort; these never appear in
		// the WASI command modules WARK targets.
		if _, err := r.U32(); err != nil {
			return err
		}
		_, err := r.U32()
		return err
	}
}

// decodeSIMDImmediate skips the immediates of the 0xFD (vector) extended
// opcode space. Coverage favors the forms that actually appear in modules
// compiled from C/Rust/Zig WASI targets: loads/stores, the two 16-byte
// immediates, and single-byte lane indices. Anything else is assumed to
// have no immediate, matching the source's treatment of unrecognized
// vector instructions as plain (penalty-costed) operators.
func decodeSIMDImmediate(r *Reader, sub uint32) error {
	switch {
	case sub <= 11: // v128.load*, v128.store*, v128.load{8,16,32,64}_lane family start
		return skipMemarg(r)
	case sub == 12: // v128.const
		return r.Skip(16)
	case sub == 13: // i8x16.shuffle
		return r.Skip(16)
	case sub >= 21 && sub <= 34: // extract_lane / replace_lane family
		_, err := r.Byte()
		return err
	case sub >= 84 && sub <= 91: // load_lane / store_lane family: memarg + lane byte
		if err := skipMemarg(r); err != nil {
			return err
		}
		_, err := r.Byte()
		return err
	default:
		return nil
	}
}

// decodeAtomicImmediate skips the immediates of the 0xFE (threads/atomics)
// extended opcode space. atomic.fence (sub-opcode 0x03) carries a single
// reserved byte; every other atomic instruction (notify, wait32/64, the
// atomic loads/stores, and the read-modify-write family) carries a memarg
// like its non-atomic counterpart. Anything this doesn't special-case
// still decodes safely through the memarg branch, matching the source's
// treatment of unrecognized instructions as plain (penalty-costed), never
// rejected.
func decodeAtomicImmediate(r *Reader, sub uint32) error {
	if sub == 0x03 { // atomic.fence
		_, err := r.Byte()
		return err
	}
	return skipMemarg(r)
}

// String is a debug helper; not used on any hot path.
func (i Instr) String() string {
	if i.Prefix == 0 {
		return fmt.Sprintf("op(0x%02x)@[%d:%d]", i.Code, i.Start, i.End)
	}
	return fmt.Sprintf("op(0x%02x,%d)@[%d:%d]", i.Prefix, i.Code, i.Start, i.End)
}
