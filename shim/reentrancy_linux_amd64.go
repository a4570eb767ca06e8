//go:build linux && amd64

package shim

/*
#include <pthread.h>
*/
import "C"

import "sync"

// insideShim marks, per OS thread, that this thread is currently running
// detector-internal bookkeeping rather than forwarding a target call.
// Bookkeeping itself can call malloc/free (capturing a call stack, or
// dladdr/strdup while symbolicating one for a report): without this
// guard those calls would route back through the very allocator shims
// being evaluated and get recorded as if they were allocations made by
// the instrumented program.
var insideShim sync.Map // map[C.pthread_t]struct{}

// BeginGuard marks the calling thread as inside detector-internal work.
// It returns false if the thread was already marked, in which case the
// caller must not call EndGuard: an outer BeginGuard on the same thread
// still owns the entry.
func BeginGuard() bool {
	tid := C.pthread_self()
	_, loaded := insideShim.LoadOrStore(tid, struct{}{})
	return !loaded
}

// EndGuard clears the calling thread's guard flag. Only call this after
// a BeginGuard call on the same thread that returned true.
func EndGuard() {
	tid := C.pthread_self()
	insideShim.Delete(tid)
}

// Guarded reports whether the calling thread is currently inside
// detector-internal work.
func Guarded() bool {
	tid := C.pthread_self()
	_, inside := insideShim.Load(tid)
	return inside
}
