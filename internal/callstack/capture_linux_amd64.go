//go:build linux && amd64

package callstack

/*
#define _GNU_SOURCE
#include <execinfo.h>
#include <dlfcn.h>
#include <stdlib.h>
#include <string.h>

static int nvdetector_backtrace(void **buf, int size) {
	return backtrace(buf, size);
}

typedef struct {
	unsigned long base;
	char *fname;
	char *sname;
	unsigned long saddr;
	int ok;
} nvdetector_dladdr_result;

static nvdetector_dladdr_result nvdetector_dladdr(void *addr) {
	nvdetector_dladdr_result r;
	r.base = 0;
	r.fname = NULL;
	r.sname = NULL;
	r.saddr = 0;
	r.ok = 0;

	Dl_info info;
	if (dladdr(addr, &info) != 0) {
		r.ok = 1;
		r.base = (unsigned long)info.dli_fbase;
		if (info.dli_fname != NULL) {
			r.fname = strdup(info.dli_fname);
		}
		if (info.dli_sname != NULL) {
			r.sname = strdup(info.dli_sname);
			r.saddr = (unsigned long)info.dli_saddr;
		}
	}
	return r;
}
*/
import "C"

import (
	"unsafe"

	"github.com/nvdetector/nvdetector/shim"
)

// Capture records up to MaxFrames return addresses for the calling
// goroutine's current native call stack.
func Capture() []uintptr {
	buf := make([]unsafe.Pointer, MaxFrames)
	n := C.nvdetector_backtrace(&buf[0], C.int(MaxFrames))
	out := make([]uintptr, n)
	for i := 0; i < int(n); i++ {
		out[i] = uintptr(buf[i])
	}
	return out
}

// Symbolicate resolves each address's owning module and nearest symbol
// via dladdr. Frames dladdr cannot resolve are dropped.
//
// dladdr's result strings are duplicated with strdup and released with
// free below; on a process where malloc/free are shimmed, those calls
// would otherwise be recorded as allocations made by the instrumented
// program. shim's re-entrancy guard marks this thread as doing
// detector-internal work for the duration of the loop so the hooks
// recognize and skip them.
func Symbolicate(addrs []uintptr) []Frame {
	if shim.BeginGuard() {
		defer shim.EndGuard()
	}

	frames := make([]Frame, 0, len(addrs))
	for _, addr := range addrs {
		r := C.nvdetector_dladdr(unsafe.Pointer(addr))
		if r.ok == 0 {
			continue
		}
		f := Frame{
			Addr:       addr,
			ModuleBase: uintptr(r.base),
		}
		if r.fname != nil {
			f.Module = C.GoString(r.fname)
			C.free(unsafe.Pointer(r.fname))
		}
		if r.sname != nil {
			f.Symbol = C.GoString(r.sname)
			f.SymbolOff = addr - uintptr(r.saddr)
			C.free(unsafe.Pointer(r.sname))
		}
		frames = append(frames, f)
	}
	return frames
}
