//go:build linux && amd64

package locktrack

/*
#include <pthread.h>

static unsigned long nvdetector_pthread_self(void) {
	return (unsigned long)pthread_self();
}
*/
import "C"

// threadIDOverride lets tests simulate multiple threads deterministically
// without spawning real OS threads; nil in production.
var threadIDOverride *uint64

// currentThreadID returns the calling OS thread's pthread_t, matching
// the original tracker's use of pthread_self() as its thread-info key.
func currentThreadID() uint64 {
	if threadIDOverride != nil {
		return *threadIDOverride
	}
	return uint64(C.nvdetector_pthread_self())
}
