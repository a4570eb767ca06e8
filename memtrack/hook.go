package memtrack

import (
	"fmt"
	"strings"

	"github.com/nvdetector/nvdetector/output"
	"github.com/nvdetector/nvdetector/plthook"
	"github.com/nvdetector/nvdetector/shim"
)

// hookedSymbol pairs a dynamic symbol name with the display name a
// status line should use for it (operator new/delete have mangled C++
// names that would otherwise read as noise).
type hookedSymbol struct {
	symbol, display string
	required        bool
}

var memorySymbols = []hookedSymbol{
	{symbol: "malloc", display: "malloc", required: true},
	{symbol: "free", display: "free", required: true},
	{symbol: "calloc", display: "calloc"},
	{symbol: "realloc", display: "realloc"},
	{symbol: "_Znwm", display: "operator new"},
	{symbol: "_ZdlPv", display: "operator delete"},
	{symbol: "_Znam", display: "operator new[]"},
	{symbol: "_ZdaPv", display: "operator delete[]"},
}

// Hook installs allocator shims into one loaded object (the main
// executable, when path is empty, or a named shared library), mirroring
// MemoryHook::Start. It is safe to call once per object; calling it
// again re-patches the same GOT slots.
type Hook struct {
	path     string
	registry *Registry
}

// NewHook returns a Hook that will record through registry.
func NewHook(path string, registry *Registry) *Hook {
	return &Hook{path: path, registry: registry}
}

// Start rewrites path's allocator entry points to route through this
// hook's Registry, printing a status line naming which symbols were
// hooked and which were absent from the object's PLT.
func (h *Hook) Start(sink *output.Sink) error {
	handle, err := plthook.Open(h.path)
	if err != nil {
		return fmt.Errorf("memtrack: opening %q: %w", displayPath(h.path), err)
	}

	shim.InstallMemoryRegistry(h.registry)

	var hooked, skipped []string
	for _, hs := range memorySymbols {
		fn, ok := shim.MemoryFuncAddr(hs.symbol)
		if !ok {
			continue
		}
		original, err := handle.Replace(hs.symbol, fn)
		if err != nil {
			if hs.required {
				sink.Printf("ERROR: Failed to hook %s: %v\n", hs.display, err)
			}
			skipped = append(skipped, hs.display)
			continue
		}
		shim.StoreOriginal(hs.symbol, original)
		hooked = append(hooked, hs.display)
	}

	sink.PrintColored(output.Color.Green, "Successfully hooked functions: ")
	sink.Printf("%s\n", strings.Join(hooked, ", "))
	if len(skipped) > 0 {
		sink.PrintColored(output.Color.Yellow, "Skipped functions (not in PLT): ")
		sink.Printf("%s\n", strings.Join(skipped, ", "))
	}
	return nil
}

func displayPath(path string) string {
	if path == "" {
		return "<main executable>"
	}
	return path
}
