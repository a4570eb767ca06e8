//go:build linux && amd64

package shim

/*
#include <stddef.h>

typedef void *(*malloc_fn)(size_t);
typedef void (*free_fn)(void *);
typedef void *(*calloc_fn)(size_t, size_t);
typedef void *(*realloc_fn)(void *, size_t);

static void *nvdetector_call_malloc_like(void *fn, size_t size) {
	return ((malloc_fn)fn)(size);
}
static void nvdetector_call_free_like(void *fn, void *ptr) {
	((free_fn)fn)(ptr);
}
static void *nvdetector_call_calloc_like(void *fn, size_t nmemb, size_t size) {
	return ((calloc_fn)fn)(nmemb, size);
}
static void *nvdetector_call_realloc_like(void *fn, void *ptr, size_t size) {
	return ((realloc_fn)fn)(ptr, size);
}

extern void *nvdetector_hooked_malloc(size_t size);
extern void nvdetector_hooked_free(void *ptr);
extern void *nvdetector_hooked_calloc(size_t nmemb, size_t size);
extern void *nvdetector_hooked_realloc(void *ptr, size_t size);
extern void *nvdetector_hooked_operator_new(size_t size);
extern void nvdetector_hooked_operator_delete(void *ptr);
extern void *nvdetector_hooked_operator_new_array(size_t size);
extern void nvdetector_hooked_operator_delete_array(void *ptr);

static void *nvdetector_addr_malloc(void)              { return (void *)&nvdetector_hooked_malloc; }
static void *nvdetector_addr_free(void)                { return (void *)&nvdetector_hooked_free; }
static void *nvdetector_addr_calloc(void)               { return (void *)&nvdetector_hooked_calloc; }
static void *nvdetector_addr_realloc(void)              { return (void *)&nvdetector_hooked_realloc; }
static void *nvdetector_addr_operator_new(void)         { return (void *)&nvdetector_hooked_operator_new; }
static void *nvdetector_addr_operator_delete(void)      { return (void *)&nvdetector_hooked_operator_delete; }
static void *nvdetector_addr_operator_new_array(void)   { return (void *)&nvdetector_hooked_operator_new_array; }
static void *nvdetector_addr_operator_delete_array(void){ return (void *)&nvdetector_hooked_operator_delete_array; }
*/
import "C"

import "unsafe"

//export nvdetector_hooked_malloc
func nvdetector_hooked_malloc(size C.size_t) unsafe.Pointer {
	ptr := C.nvdetector_call_malloc_like(unsafe.Pointer(mustLoadOriginal("malloc")), size)
	if Guarded() {
		return ptr
	}
	BeginGuard()
	defer EndGuard()
	if r, ok := currentMemoryRecorder(); ok {
		r.RecordAllocation(uintptr(ptr), uint64(size))
	}
	return ptr
}

//export nvdetector_hooked_free
func nvdetector_hooked_free(ptr unsafe.Pointer) {
	if !Guarded() {
		BeginGuard()
		if r, ok := currentMemoryRecorder(); ok {
			r.RecordDeallocation(uintptr(ptr))
		}
		EndGuard()
	}
	C.nvdetector_call_free_like(unsafe.Pointer(mustLoadOriginal("free")), ptr)
}

//export nvdetector_hooked_calloc
func nvdetector_hooked_calloc(nmemb, size C.size_t) unsafe.Pointer {
	ptr := C.nvdetector_call_calloc_like(unsafe.Pointer(mustLoadOriginal("calloc")), nmemb, size)
	if Guarded() {
		return ptr
	}
	BeginGuard()
	defer EndGuard()
	if r, ok := currentMemoryRecorder(); ok {
		r.RecordAllocation(uintptr(ptr), uint64(nmemb)*uint64(size))
	}
	return ptr
}

//export nvdetector_hooked_realloc
func nvdetector_hooked_realloc(ptr unsafe.Pointer, size C.size_t) unsafe.Pointer {
	oldAddr := uintptr(ptr)
	newPtr := C.nvdetector_call_realloc_like(unsafe.Pointer(mustLoadOriginal("realloc")), ptr, size)
	if newPtr == nil {
		return nil
	}
	if Guarded() {
		return newPtr
	}
	BeginGuard()
	defer EndGuard()
	r, ok := currentMemoryRecorder()
	if !ok {
		return newPtr
	}
	if uintptr(newPtr) == oldAddr {
		r.UpdateAllocationSize(oldAddr, uint64(size))
	} else {
		r.RecordDeallocation(oldAddr)
		r.RecordAllocation(uintptr(newPtr), uint64(size))
	}
	return newPtr
}

//export nvdetector_hooked_operator_new
func nvdetector_hooked_operator_new(size C.size_t) unsafe.Pointer {
	ptr := C.nvdetector_call_malloc_like(unsafe.Pointer(mustLoadOriginal("_Znwm")), size)
	if Guarded() {
		return ptr
	}
	BeginGuard()
	defer EndGuard()
	if r, ok := currentMemoryRecorder(); ok {
		r.RecordAllocation(uintptr(ptr), uint64(size))
	}
	return ptr
}

//export nvdetector_hooked_operator_delete
func nvdetector_hooked_operator_delete(ptr unsafe.Pointer) {
	if !Guarded() {
		BeginGuard()
		if r, ok := currentMemoryRecorder(); ok {
			r.RecordDeallocation(uintptr(ptr))
		}
		EndGuard()
	}
	C.nvdetector_call_free_like(unsafe.Pointer(mustLoadOriginal("_ZdlPv")), ptr)
}

//export nvdetector_hooked_operator_new_array
func nvdetector_hooked_operator_new_array(size C.size_t) unsafe.Pointer {
	ptr := C.nvdetector_call_malloc_like(unsafe.Pointer(mustLoadOriginal("_Znam")), size)
	if Guarded() {
		return ptr
	}
	BeginGuard()
	defer EndGuard()
	if r, ok := currentMemoryRecorder(); ok {
		r.RecordAllocation(uintptr(ptr), uint64(size))
	}
	return ptr
}

//export nvdetector_hooked_operator_delete_array
func nvdetector_hooked_operator_delete_array(ptr unsafe.Pointer) {
	if !Guarded() {
		BeginGuard()
		if r, ok := currentMemoryRecorder(); ok {
			r.RecordDeallocation(uintptr(ptr))
		}
		EndGuard()
	}
	C.nvdetector_call_free_like(unsafe.Pointer(mustLoadOriginal("_ZdaPv")), ptr)
}

// MemoryFuncAddr returns the C function address that should be written
// into symbol's GOT slot, for the subset of dynamic symbols this file
// shims. ok is false for any symbol this package doesn't recognize.
func MemoryFuncAddr(symbol string) (uintptr, bool) {
	switch symbol {
	case "malloc":
		return uintptr(C.nvdetector_addr_malloc()), true
	case "free":
		return uintptr(C.nvdetector_addr_free()), true
	case "calloc":
		return uintptr(C.nvdetector_addr_calloc()), true
	case "realloc":
		return uintptr(C.nvdetector_addr_realloc()), true
	case "_Znwm":
		return uintptr(C.nvdetector_addr_operator_new()), true
	case "_ZdlPv":
		return uintptr(C.nvdetector_addr_operator_delete()), true
	case "_Znam":
		return uintptr(C.nvdetector_addr_operator_new_array()), true
	case "_ZdaPv":
		return uintptr(C.nvdetector_addr_operator_delete_array()), true
	default:
		return 0, false
	}
}
