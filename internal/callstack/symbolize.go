package callstack

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"reflect"
	"strings"
	"sync"
	"time"
)

// selfProbeAddr returns the runtime address of a function compiled into
// this package, giving selfBase something concrete to dladdr.
func selfProbeAddr() uintptr {
	return reflect.ValueOf(selfProbeAddr).Pointer()
}

// selfBase is the load base of the module that contains this package's
// own code, computed once via dladdr against a real function in this
// package. Frames whose module base matches it are this library's own
// hook machinery, not the instrumented target, and are elided from
// reports the same way the design this is modeled on special-cased its
// own shared-object name.
var selfBase = sync.OnceValue(func() uintptr {
	frames := Symbolicate([]uintptr{selfProbeAddr()})
	if len(frames) == 0 {
		return 0
	}
	return frames[0].ModuleBase
})

// IsSelf reports whether f belongs to the module that implements this
// detector itself, rather than the program under instrumentation.
func IsSelf(f Frame) bool {
	base := selfBase()
	return base != 0 && f.ModuleBase == base
}

// SourceLine shells out to addr2line for f's module, the same external
// tool the design this package models itself on pipes through popen.
// It returns "" (not an error) if addr2line is unavailable or the
// address can't be resolved; source annotation is best-effort.
func SourceLine(ctx context.Context, f Frame) string {
	if f.Module == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "addr2line",
		"-e", f.Module,
		"-f", "-C", "-p",
		fmt.Sprintf("%#x", f.Relative()),
	)
	out, err := cmd.Output()
	if err != nil {
		return ""
	}

	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}
	return ""
}

// FormatFrame renders one resolved frame the way a console report lists
// it: absolute/relative address, owning module, and (if Symbolicate
// found one) the nearest exported symbol name.
func FormatFrame(index int, f Frame) string {
	if f.Symbol != "" {
		return fmt.Sprintf("[%d] %#x (%s+%#x) in %s", index, f.Addr, f.Symbol, f.SymbolOff, f.Module)
	}
	return fmt.Sprintf("[%d] %#x (rel %#x) in %s", index, f.Addr, f.Relative(), f.Module)
}
