//go:build linux && amd64

package plthook

import (
	"testing"
)

func TestOpenMainExecutable(t *testing.T) {
	h, err := Open("")
	if err != nil {
		t.Fatalf("Open(\"\"): %v", err)
	}
	if h.dyn.base == 0 && h.dyn.symtab == 0 {
		t.Fatalf("Open(\"\") returned an empty dynamic section")
	}
}

func TestEnumerateFindsKnownLibcSymbols(t *testing.T) {
	h, err := Open("")
	if err != nil {
		t.Fatalf("Open(\"\"): %v", err)
	}

	exports, err := h.Enumerate()
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(exports) == 0 {
		t.Fatalf("Enumerate returned no JUMP_SLOT relocations for a cgo-linked test binary")
	}

	names := make(map[string]bool, len(exports))
	for _, e := range exports {
		names[e.Name] = true
		if e.GotAddr == 0 {
			t.Fatalf("export %q has a zero GOT address", e.Name)
		}
	}
	if !names["getpid"] {
		t.Fatalf("expected a JUMP_SLOT relocation for getpid, got %d exports: %v", len(exports), names)
	}
}

func TestReplaceAndRestoreRoundTrip(t *testing.T) {
	h, err := Open("")
	if err != nil {
		t.Fatalf("Open(\"\"): %v", err)
	}

	fake := testFakeGetpidAddr()

	original, err := h.Replace("getpid", fake)
	if err != nil {
		t.Fatalf("Replace(getpid): %v", err)
	}
	if original == 0 {
		t.Fatalf("Replace(getpid) returned a zero original address")
	}

	if got := testGetpid(); got != 424242 {
		t.Fatalf("getpid() after Replace = %d, want 424242", got)
	}

	if _, err := h.Replace("getpid", original); err != nil {
		t.Fatalf("restoring getpid: %v", err)
	}

	if got := testGetpid(); got == 424242 {
		t.Fatalf("getpid() still patched after restore")
	}
}

func TestReplaceUnknownSymbol(t *testing.T) {
	h, err := Open("")
	if err != nil {
		t.Fatalf("Open(\"\"): %v", err)
	}

	if _, err := h.Replace("nvdetector_definitely_not_a_real_symbol", 0); err == nil {
		t.Fatalf("Replace of an unknown symbol should fail")
	} else if perr, ok := err.(*Error); !ok || perr.Code != FunctionNotFound {
		t.Fatalf("expected FunctionNotFound error, got %v", err)
	}
}

func TestResolveKnownSymbol(t *testing.T) {
	addr, err := Resolve("malloc")
	if err != nil {
		t.Fatalf("Resolve(malloc): %v", err)
	}
	if addr == 0 {
		t.Fatalf("Resolve(malloc) returned a zero address")
	}
}
