//go:build linux && amd64

package nvdetector_test

import (
	"runtime"
	"testing"

	"github.com/nvdetector/nvdetector"
	"github.com/nvdetector/nvdetector/memmod"
	"github.com/nvdetector/nvdetector/memtrack"
	"github.com/nvdetector/nvdetector/output"
)

// buildAndLoadLeaker builds testdata/go/leaker as a c-shared object and
// stages it into this process via memmod, serving as the target an
// Orchestrator instruments.
func buildAndLoadLeaker(t *testing.T) (*memmod.Module, string) {
	t.Helper()
	outDir := t.TempDir()
	soPath := buildOneGoSharedLib(t, outDir, "linux", runtime.GOARCH)

	lib, err := memmod.LoadLibraryFile(soPath)
	if err != nil {
		t.Fatalf("LoadLibraryFile(%s): %v", soPath, err)
	}
	t.Cleanup(func() { lib.Close() })
	return lib, soPath
}

func TestOrchestratorDetectsLeakInLoadedLibrary(t *testing.T) {
	lib, soPath := buildAndLoadLeaker(t)

	o, err := nvdetector.New(nvdetector.Config{
		Mode:   nvdetector.ModeMemory,
		Output: output.ModeConsole,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { o.Close() })

	if err := o.Register(soPath); err != nil {
		t.Fatalf("Register(%s): %v", soPath, err)
	}
	if err := o.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := lib.CallExport("RunLeak"); err != nil {
		t.Fatalf("CallExport(RunLeak): %v", err)
	}

	if !memtrack.Default().HasLeaks() {
		t.Fatalf("expected the memory registry to report an outstanding allocation after RunLeak")
	}

	o.Detect()
}

func TestOrchestratorReportsNoLeakForBalancedAllocation(t *testing.T) {
	lib, soPath := buildAndLoadLeaker(t)

	o, err := nvdetector.New(nvdetector.Config{
		Mode:   nvdetector.ModeMemory,
		Output: output.ModeConsole,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { o.Close() })

	if err := o.Register(soPath); err != nil {
		t.Fatalf("Register(%s): %v", soPath, err)
	}
	if err := o.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	before := memtrack.Default().ActiveAllocations()

	if err := lib.CallExport("RunBalanced"); err != nil {
		t.Fatalf("CallExport(RunBalanced): %v", err)
	}

	if got := memtrack.Default().ActiveAllocations(); got != before {
		t.Fatalf("ActiveAllocations after balanced alloc/free = %d, want %d", got, before)
	}

	o.Detect()
}
