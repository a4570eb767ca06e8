// Package memtrack records live heap allocations made through shimmed
// allocator calls and reports anything still outstanding as a
// potential leak, grounded on original_source/src/memory_detect.cpp's
// MemoryTracker.
package memtrack

import (
	"context"
	"fmt"
	"sync"

	"github.com/nvdetector/nvdetector/internal/callstack"
	"github.com/nvdetector/nvdetector/output"
)

// Allocation is one outstanding allocation's metadata: its size and the
// call stack captured at allocation (or last resize) time.
type Allocation struct {
	Size  uint64
	Stack []uintptr
}

// Registry tracks live allocations keyed by address. The zero value is
// usable; Default returns the process-wide singleton every memory shim
// records through, matching MemoryTracker::GetInstance().
type Registry struct {
	mu             sync.Mutex
	live           map[uintptr]Allocation
	totalAllocated uint64
	totalFreed     uint64
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide Registry singleton.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultReg = &Registry{live: make(map[uintptr]Allocation)}
	})
	return defaultReg
}

// RecordAllocation notes a newly allocated address and captures the
// current call stack. A zero addr (a failed malloc) is ignored.
func (r *Registry) RecordAllocation(addr uintptr, size uint64) {
	if addr == 0 {
		return
	}
	stack := callstack.Capture()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live == nil {
		r.live = make(map[uintptr]Allocation)
	}
	r.live[addr] = Allocation{Size: size, Stack: stack}
	r.totalAllocated += size
}

// RecordDeallocation removes addr from the live set, if present.
func (r *Registry) RecordDeallocation(addr uintptr) {
	if addr == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.live[addr]; ok {
		r.totalFreed += a.Size
		delete(r.live, addr)
	}
}

// UpdateAllocationSize re-sizes an in-place realloc's record and
// recaptures its call stack, mirroring
// MemoryTracker::UpdateAllocationSize.
func (r *Registry) UpdateAllocationSize(addr uintptr, newSize uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.live[addr]
	if !ok {
		return
	}
	r.totalAllocated = r.totalAllocated - a.Size + newSize
	a.Size = newSize
	a.Stack = callstack.Capture()
	r.live[addr] = a
}

// HasLeaks reports whether any allocation is currently outstanding.
func (r *Registry) HasLeaks() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live) > 0
}

// TotalAllocated returns the cumulative number of bytes ever allocated.
func (r *Registry) TotalAllocated() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalAllocated
}

// TotalFreed returns the cumulative number of bytes ever freed.
func (r *Registry) TotalFreed() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalFreed
}

// ActiveAllocations returns the number of allocations currently live.
func (r *Registry) ActiveAllocations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// snapshot copies the live set so reporting can run without holding the
// registry lock across potentially slow addr2line subprocess calls.
func (r *Registry) snapshot() (map[uintptr]Allocation, uint64, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uintptr]Allocation, len(r.live))
	for addr, a := range r.live {
		out[addr] = a
	}
	return out, r.totalAllocated, r.totalFreed
}

// Report renders the current tracker status to sink, in the same shape
// as MemoryTracker::PrintStatus: totals, a leak count colored red or
// green, and per-leak call stacks with addr2line source annotation
// where available. Frames belonging to this detector's own code are
// elided.
func (r *Registry) Report(ctx context.Context, sink *output.Sink) {
	live, allocated, freed := r.snapshot()

	sink.Printf("\n\n=== Memory Tracker Status ===\n")
	sink.Printf("Total allocated: %d bytes\n", allocated)
	sink.Printf("Total freed: %d bytes\n", freed)
	sink.Printf("Active allocations: %d\n", len(live))
	sink.Printf("Potential leaks: ")

	leakColor := output.Color.Green
	if len(live) > 0 {
		leakColor = output.Color.BoldRed
	}
	sink.PrintColored(leakColor, fmt.Sprintf("%d", len(live)))
	sink.Printf("\n")

	if len(live) > 0 {
		sink.Printf("\n")
		sink.PrintColored(output.Color.BoldYellow, "Detailed leak information:")
		sink.Printf("\n")
		for addr, a := range live {
			sink.Printf("\n")
			sink.PrintColored(output.Color.BoldRed, fmt.Sprintf("Leak at %#x (size: %d bytes)", addr, a.Size))
			sink.Printf("\n")
			printStack(ctx, sink, a.Stack)
		}
	}
	sink.Printf("\n===========================\n")
}

func printStack(ctx context.Context, sink *output.Sink, stack []uintptr) {
	frames := callstack.Symbolicate(stack)
	sink.Printf("Callstack:\n")
	index := 0
	for _, f := range frames {
		if callstack.IsSelf(f) {
			continue
		}
		line := callstack.FormatFrame(index, f)
		sink.Printf("  ")
		if index == 0 {
			sink.PrintColored(output.Color.BoldCyan, line)
		} else {
			sink.Printf("%s", line)
		}
		sink.Printf("\n")
		sink.Printf("      Module: %s\n", f.Module)
		if src := callstack.SourceLine(ctx, f); src != "" {
			sink.Printf("      ")
			if index == 0 {
				sink.PrintColored(output.Color.BoldCyan, fmt.Sprintf("Source: %s", src))
			} else {
				sink.Printf("Source: %s", src)
			}
			sink.Printf("\n")
		}
		index++
	}
}
