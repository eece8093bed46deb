package wasmcost

import (
	"bytes"
	"testing"

	"github.com/jacoblin/wark/internal/wasmbin"
)

// buildMinimalModule constructs a module with one function of type () -> ()
// whose body is: i32.const 1 ; i32.const 2 ; i32.add ; drop ; end
func buildMinimalModule(t *testing.T) []byte {
	t.Helper()

	var mod []byte
	mod = append(mod, wasmbin.Magic[:]...)
	mod = append(mod, wasmbin.Version[:]...)

	// Type section: one func type () -> ()
	typePayload := wasmbin.AppendULEB128(nil, 1)
	typePayload = append(typePayload, 0x60, 0x00, 0x00) // form, 0 params, 0 results
	mod = appendSection(mod, wasmbin.SecType, typePayload)

	// Function section: one function using type 0
	funcPayload := wasmbin.AppendULEB128(nil, 1)
	funcPayload = wasmbin.AppendULEB128(funcPayload, 0)
	mod = appendSection(mod, wasmbin.SecFunction, funcPayload)

	// Code section: one body
	var body []byte
	body = wasmbin.AppendULEB128(body, 0) // no locals groups
	body = append(body, 0x41)             // i32.const 1
	body = wasmbin.AppendSLEB128(body, 1)
	body = append(body, 0x41) // i32.const 2
	body = wasmbin.AppendSLEB128(body, 2)
	body = append(body, 0x6A) // i32.add
	body = append(body, 0x1A) // drop
	body = append(body, 0x0B) // end

	var codePayload []byte
	codePayload = wasmbin.AppendULEB128(codePayload, 1) // one function body
	codePayload = wasmbin.AppendULEB128(codePayload, uint64(len(body)))
	codePayload = append(codePayload, body...)
	mod = appendSection(mod, wasmbin.SecCode, codePayload)

	return mod
}

func appendSection(mod []byte, id wasmbin.SectionID, payload []byte) []byte {
	mod = append(mod, byte(id))
	mod = wasmbin.AppendULEB128(mod, uint64(len(payload)))
	return append(mod, payload...)
}

func TestRewriteAppendsBudgetGlobalsAndExports(t *testing.T) {
	raw := buildMinimalModule(t)

	out, report, err := Rewrite(raw, 1_000_000)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	mod, err := wasmbin.ParseModule(out)
	if err != nil {
		t.Fatalf("re-parsing rewritten module: %v", err)
	}

	globalsPayload, ok := mod.Find(wasmbin.SecGlobal)
	if !ok {
		t.Fatal("expected a Global section to be present")
	}
	r := wasmbin.NewReader(globalsPayload)
	n, err := r.U32()
	if err != nil || n != 2 {
		t.Fatalf("expected 2 globals, got %d (err=%v)", n, err)
	}

	exportsPayload, ok := mod.Find(wasmbin.SecExport)
	if !ok {
		t.Fatal("expected an Export section to be present")
	}
	r = wasmbin.NewReader(exportsPayload)
	n, err = r.U32()
	if err != nil || n != 2 {
		t.Fatalf("expected 2 exports, got %d (err=%v)", n, err)
	}

	if report.FunctionsRewritten != 1 {
		t.Errorf("FunctionsRewritten = %d, want 1", report.FunctionsRewritten)
	}
	if report.RemainingGlobalIdx != 0 || report.ExhaustedGlobalIdx != 1 {
		t.Errorf("unexpected global indexes: remaining=%d exhausted=%d",
			report.RemainingGlobalIdx, report.ExhaustedGlobalIdx)
	}
}

func TestRewriteIsDeterministic(t *testing.T) {
	raw := buildMinimalModule(t)

	out1, _, err := Rewrite(raw, 500)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	out2, _, err := Rewrite(raw, 500)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	if !bytes.Equal(out1, out2) {
		t.Error("Rewrite should be deterministic for identical input and budget")
	}
}

func TestRewriteCodeGrowsWithDebitSequences(t *testing.T) {
	raw := buildMinimalModule(t)
	out, _, err := Rewrite(raw, 10)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if len(out) <= len(raw) {
		t.Error("rewritten module should be larger than the original due to inserted debit sequences")
	}
}

func TestRewriteTracksOperationCounts(t *testing.T) {
	raw := buildMinimalModule(t)
	_, report, err := Rewrite(raw, 10)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if report.OperationCounts["i32.const"] != 2 {
		t.Errorf("expected 2 i32.const operations, got %d", report.OperationCounts["i32.const"])
	}
	if got := report.OperationCounts["op_0x6a"]; got != 1 {
		t.Errorf("expected 1 i32.add operation, got %d (counts=%v)", got, report.OperationCounts)
	}
}
