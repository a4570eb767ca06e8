//go:build linux && amd64

package shim

/*
#include <pthread.h>

typedef int (*mutex_fn)(pthread_mutex_t *);

static int nvdetector_call_mutex_fn(void *fn, pthread_mutex_t *mutex) {
	return ((mutex_fn)fn)(mutex);
}

extern int nvdetector_hooked_pthread_mutex_lock(void *mutex);
extern int nvdetector_hooked_pthread_mutex_unlock(void *mutex);
extern int nvdetector_hooked_pthread_mutex_trylock(void *mutex);

static void *nvdetector_addr_mutex_lock(void)    { return (void *)&nvdetector_hooked_pthread_mutex_lock; }
static void *nvdetector_addr_mutex_unlock(void)  { return (void *)&nvdetector_hooked_pthread_mutex_unlock; }
static void *nvdetector_addr_mutex_trylock(void) { return (void *)&nvdetector_hooked_pthread_mutex_trylock; }
*/
import "C"

import "unsafe"

//export nvdetector_hooked_pthread_mutex_lock
func nvdetector_hooked_pthread_mutex_lock(mutex unsafe.Pointer) C.int {
	if !Guarded() {
		BeginGuard()
		if r, ok := currentLockRecorder(); ok {
			r.Acquiring(uintptr(mutex))
		}
		EndGuard()
	}
	result := C.nvdetector_call_mutex_fn(unsafe.Pointer(mustLoadOriginal("pthread_mutex_lock")), (*C.pthread_mutex_t)(mutex))
	if result == 0 && !Guarded() {
		BeginGuard()
		if r, ok := currentLockRecorder(); ok {
			r.Acquired(uintptr(mutex))
		}
		EndGuard()
	}
	return result
}

//export nvdetector_hooked_pthread_mutex_unlock
func nvdetector_hooked_pthread_mutex_unlock(mutex unsafe.Pointer) C.int {
	if !Guarded() {
		BeginGuard()
		if r, ok := currentLockRecorder(); ok {
			r.Released(uintptr(mutex))
		}
		EndGuard()
	}
	return C.nvdetector_call_mutex_fn(unsafe.Pointer(mustLoadOriginal("pthread_mutex_unlock")), (*C.pthread_mutex_t)(mutex))
}

//export nvdetector_hooked_pthread_mutex_trylock
func nvdetector_hooked_pthread_mutex_trylock(mutex unsafe.Pointer) C.int {
	result := C.nvdetector_call_mutex_fn(unsafe.Pointer(mustLoadOriginal("pthread_mutex_trylock")), (*C.pthread_mutex_t)(mutex))
	if result == 0 && !Guarded() {
		BeginGuard()
		if r, ok := currentLockRecorder(); ok {
			r.Acquired(uintptr(mutex))
		}
		EndGuard()
	}
	return result
}

// LockFuncAddr returns the C function address that should be written
// into symbol's GOT slot, for the pthread mutex symbols this file
// shims.
func LockFuncAddr(symbol string) (uintptr, bool) {
	switch symbol {
	case "pthread_mutex_lock":
		return uintptr(C.nvdetector_addr_mutex_lock()), true
	case "pthread_mutex_unlock":
		return uintptr(C.nvdetector_addr_mutex_unlock()), true
	case "pthread_mutex_trylock":
		return uintptr(C.nvdetector_addr_mutex_trylock()), true
	default:
		return 0, false
	}
}
