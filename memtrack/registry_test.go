package memtrack

import (
	"context"
	"testing"

	"github.com/nvdetector/nvdetector/output"
)

func TestRecordAllocationAndDeallocation(t *testing.T) {
	r := &Registry{live: make(map[uintptr]Allocation)}

	r.RecordAllocation(0x1000, 64)
	r.RecordAllocation(0x2000, 32)

	if !r.HasLeaks() {
		t.Fatalf("expected leaks after two allocations with no frees")
	}
	if got := r.ActiveAllocations(); got != 2 {
		t.Fatalf("ActiveAllocations = %d, want 2", got)
	}
	if got := r.TotalAllocated(); got != 96 {
		t.Fatalf("TotalAllocated = %d, want 96", got)
	}

	r.RecordDeallocation(0x1000)
	if got := r.ActiveAllocations(); got != 1 {
		t.Fatalf("ActiveAllocations after free = %d, want 1", got)
	}
	if got := r.TotalFreed(); got != 64 {
		t.Fatalf("TotalFreed = %d, want 64", got)
	}

	r.RecordDeallocation(0x2000)
	if r.HasLeaks() {
		t.Fatalf("expected no leaks after balanced alloc/free")
	}
}

func TestRecordAllocationIgnoresNilPointer(t *testing.T) {
	r := &Registry{live: make(map[uintptr]Allocation)}
	r.RecordAllocation(0, 128)
	if r.HasLeaks() {
		t.Fatalf("a zero address allocation should not be tracked")
	}
}

func TestUpdateAllocationSizeAdjustsTotals(t *testing.T) {
	r := &Registry{live: make(map[uintptr]Allocation)}
	r.RecordAllocation(0x3000, 16)
	r.UpdateAllocationSize(0x3000, 48)

	if got := r.TotalAllocated(); got != 48 {
		t.Fatalf("TotalAllocated after resize = %d, want 48", got)
	}
	if got := r.ActiveAllocations(); got != 1 {
		t.Fatalf("ActiveAllocations after resize = %d, want 1", got)
	}
}

func TestUpdateAllocationSizeOnUnknownAddrIsNoop(t *testing.T) {
	r := &Registry{live: make(map[uintptr]Allocation)}
	r.UpdateAllocationSize(0x9999, 100)
	if r.HasLeaks() {
		t.Fatalf("resizing an untracked address should not create an entry")
	}
}

func TestReportRendersLeakSummary(t *testing.T) {
	sink := output.Default()
	sink.Configure(output.ModeConsole, "")

	r := &Registry{live: make(map[uintptr]Allocation)}
	r.RecordAllocation(0x4000, 256)

	// Report shells out to addr2line per frame; give it a context that
	// cancels immediately so the test doesn't depend on the tool or the
	// target binary's debug info being present.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r.Report(ctx, sink)

	if !r.HasLeaks() {
		t.Fatalf("expected the registry to still report the leak after Report")
	}
}

func TestDefaultIsSingleton(t *testing.T) {
	if Default() != Default() {
		t.Fatalf("Default() returned different instances")
	}
}
