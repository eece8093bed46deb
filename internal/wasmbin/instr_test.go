package wasmbin

import "testing"

func TestDecodeInstrSimpleSequence(t *testing.T) {
	// local.get 0 ; i32.const 5 ; i32.add ; end
	var body []byte
	body = append(body, 0x20)
	body = AppendULEB128(body, 0)
	body = append(body, 0x41)
	body = AppendSLEB128(body, 5)
	body = append(body, 0x6A)
	body = append(body, 0x0B)

	r := NewReader(body)
	var ops []Instr
	for r.Remaining() > 0 {
		in, err := DecodeInstr(r)
		if err != nil {
			t.Fatalf("DecodeInstr: %v", err)
		}
		ops = append(ops, in)
	}

	if len(ops) != 4 {
		t.Fatalf("expected 4 instructions, got %d: %v", len(ops), ops)
	}
	wantCodes := []uint32{0x20, 0x41, 0x6A, 0x0B}
	for i, want := range wantCodes {
		if ops[i].Code != want {
			t.Errorf("instr %d: code = 0x%02x, want 0x%02x", i, ops[i].Code, want)
		}
	}
}

func TestDecodeInstrBrTable(t *testing.T) {
	var body []byte
	body = append(body, 0x0E) // br_table
	body = AppendULEB128(body, 2)
	body = AppendULEB128(body, 0)
	body = AppendULEB128(body, 1)
	body = AppendULEB128(body, 2) // default

	r := NewReader(body)
	in, err := DecodeInstr(r)
	if err != nil {
		t.Fatalf("DecodeInstr: %v", err)
	}
	if in.Code != 0x0E {
		t.Fatalf("expected br_table, got 0x%02x", in.Code)
	}
	if r.Remaining() != 0 {
		t.Errorf("expected to consume whole instruction, %d bytes left", r.Remaining())
	}
}

func TestDecodeInstrExtendedMemoryCopy(t *testing.T) {
	var body []byte
	body = append(body, 0xFC)
	body = AppendULEB128(body, 10) // memory.copy
	body = append(body, 0x00, 0x00)

	r := NewReader(body)
	in, err := DecodeInstr(r)
	if err != nil {
		t.Fatalf("DecodeInstr: %v", err)
	}
	if in.Prefix != 0xFC || in.Code != 10 {
		t.Fatalf("expected memory.copy, got %+v", in)
	}
	if r.Remaining() != 0 {
		t.Errorf("expected to consume whole instruction, %d bytes left", r.Remaining())
	}
}

func TestDecodeInstrAtomicLoadDoesNotDesyncStream(t *testing.T) {
	// i32.atomic.load (memarg align+offset), followed by a plain end, to
	// confirm the reader lands exactly on the next instruction's opcode.
	var body []byte
	body = append(body, 0xFE)
	body = AppendULEB128(body, 0x10) // i32.atomic.load
	body = AppendULEB128(body, 2)    // align
	body = AppendULEB128(body, 0)    // offset
	body = append(body, 0x0B)        // end

	r := NewReader(body)
	in, err := DecodeInstr(r)
	if err != nil {
		t.Fatalf("DecodeInstr: %v", err)
	}
	if in.Prefix != 0xFE || in.Code != 0x10 {
		t.Fatalf("expected i32.atomic.load, got %+v", in)
	}

	next, err := DecodeInstr(r)
	if err != nil {
		t.Fatalf("DecodeInstr (next): %v", err)
	}
	if next.Prefix != 0x00 || next.Code != 0x0B {
		t.Fatalf("expected end to follow without desync, got %+v", next)
	}
	if r.Remaining() != 0 {
		t.Errorf("expected to consume whole sequence, %d bytes left", r.Remaining())
	}
}

func TestDecodeInstrAtomicFenceConsumesReservedByte(t *testing.T) {
	var body []byte
	body = append(body, 0xFE)
	body = AppendULEB128(body, 0x03) // atomic.fence
	body = append(body, 0x00)        // reserved byte

	r := NewReader(body)
	in, err := DecodeInstr(r)
	if err != nil {
		t.Fatalf("DecodeInstr: %v", err)
	}
	if in.Prefix != 0xFE || in.Code != 0x03 {
		t.Fatalf("expected atomic.fence, got %+v", in)
	}
	if r.Remaining() != 0 {
		t.Errorf("expected to consume whole instruction, %d bytes left", r.Remaining())
	}
}
