// Package locktrack records pthread mutex acquire/release events and
// flags wait cycles that look like a deadlock, grounded on
// original_source/src/lock_detect.cpp's LockTracker.
package locktrack

import (
	"sync"

	"github.com/nvdetector/nvdetector/internal/callstack"
	"github.com/nvdetector/nvdetector/output"
)

// LockInfo is one currently-tracked mutex's state.
type LockInfo struct {
	Addr        uintptr
	OwnerThread uint64
	Stack       []uintptr
	WaitingFor  map[uintptr]struct{}
	Acquired    bool
}

// ThreadInfo is one thread's held and waited-for locks.
type ThreadInfo struct {
	Held    []uintptr
	Waiting []uintptr
}

// Registry tracks active mutexes and the wait-for graph between them.
// Its own internal mutex is a plain sync.Mutex, deliberately not a
// pthread mutex, so the registry never deadlocks against the very
// primitive it is instrumenting. Default returns the process-wide
// singleton every lock shim reports through.
type Registry struct {
	mu          sync.Mutex
	activeLocks map[uintptr]*LockInfo
	threads     map[uint64]*ThreadInfo
	inDetect    bool

	// pendingDeadlock holds the most recent DFS cycle found by
	// Acquiring, consumed and cleared by the next Report.
	pendingDeadlock []chainLink
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide Registry singleton.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultReg = &Registry{
			activeLocks: make(map[uintptr]*LockInfo),
			threads:     make(map[uint64]*ThreadInfo),
		}
	})
	return defaultReg
}

// Acquiring is called before the real pthread_mutex_lock, recording the
// calling thread's intent to wait on mutex if it is already held, and
// running deadlock detection over the resulting wait-for graph.
func (r *Registry) Acquiring(mutex uintptr) {
	if mutex == 0 {
		return
	}
	thread := currentThreadID()

	r.mu.Lock()
	defer r.mu.Unlock()

	info, exists := r.activeLocks[mutex]
	if exists {
		if info.Acquired {
			th := r.threadInfo(thread)
			th.Waiting = append(th.Waiting, mutex)
			for _, held := range th.Held {
				if heldInfo, ok := r.activeLocks[held]; ok {
					heldInfo.WaitingFor[mutex] = struct{}{}
				}
			}
			r.detectDeadlockLocked(mutex, thread)
		}
		return
	}

	r.activeLocks[mutex] = &LockInfo{
		Addr:       mutex,
		WaitingFor: make(map[uintptr]struct{}),
		Stack:      callstack.Capture(),
	}
}

// Acquired is called after a successful lock (or trylock), recording
// ownership and clearing the calling thread's waiting-list entry.
func (r *Registry) Acquired(mutex uintptr) {
	if mutex == 0 {
		return
	}
	thread := currentThreadID()

	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.activeLocks[mutex]
	if !ok {
		return
	}
	info.OwnerThread = thread
	info.Acquired = true

	th := r.threadInfo(thread)
	th.Held = append(th.Held, mutex)
	th.Waiting = removeAddr(th.Waiting, mutex)
}

// Released is called before the real pthread_mutex_unlock, dropping the mutex
// from the active set and pruning any thread record left empty.
func (r *Registry) Released(mutex uintptr) {
	if mutex == 0 {
		return
	}
	thread := currentThreadID()

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.activeLocks, mutex)

	th, ok := r.threads[thread]
	if !ok {
		return
	}
	th.Held = removeAddr(th.Held, mutex)
	if len(th.Held) == 0 && len(th.Waiting) == 0 {
		delete(r.threads, thread)
	}
}

func (r *Registry) threadInfo(thread uint64) *ThreadInfo {
	th, ok := r.threads[thread]
	if !ok {
		th = &ThreadInfo{}
		r.threads[thread] = th
	}
	return th
}

func removeAddr(s []uintptr, addr uintptr) []uintptr {
	out := s[:0]
	for _, v := range s {
		if v != addr {
			out = append(out, v)
		}
	}
	return out
}

// chainLink is one edge in a reported wait cycle: the lock and the
// thread that was found holding (or trying to hold) it.
type chainLink struct {
	lock   uintptr
	thread uint64
}

// detectDeadlockLocked runs depth-first search over the wait-for graph
// starting from lockAddr/thread and, if a cycle closes, stores the
// chain in pendingDeadlock for the next Report to print. Called with mu
// already held. inDetect makes a nested call during the walk a no-op.
func (r *Registry) detectDeadlockLocked(lockAddr uintptr, thread uint64) {
	if r.inDetect {
		return
	}
	r.inDetect = true
	defer func() { r.inDetect = false }()

	visited := make(map[uint64]struct{})
	var chain []chainLink

	if r.dfs(lockAddr, thread, visited, &chain) {
		r.pendingDeadlock = chain
	}
}

func (r *Registry) dfs(currentLock uintptr, currentThread uint64, visited map[uint64]struct{}, chain *[]chainLink) bool {
	if _, seen := visited[currentThread]; seen {
		*chain = append(*chain, chainLink{lock: currentLock, thread: currentThread})
		return true
	}
	visited[currentThread] = struct{}{}
	*chain = append(*chain, chainLink{lock: currentLock, thread: currentThread})

	info, ok := r.activeLocks[currentLock]
	if !ok {
		delete(visited, currentThread)
		*chain = (*chain)[:len(*chain)-1]
		return false
	}

	for waited := range info.WaitingFor {
		waitedInfo, ok := r.activeLocks[waited]
		if !ok {
			continue
		}
		if r.dfs(waited, waitedInfo.OwnerThread, visited, chain) {
			return true
		}
	}

	delete(visited, currentThread)
	*chain = (*chain)[:len(*chain)-1]
	return false
}

// Report renders the current lock tracker status, the analog of
// LockTracker::PrintStatus.
func (r *Registry) Report(sink *output.Sink) {
	r.mu.Lock()
	locks := make(map[uintptr]*LockInfo, len(r.activeLocks))
	for addr, info := range r.activeLocks {
		locks[addr] = info
	}
	threads := make(map[uint64]*ThreadInfo, len(r.threads))
	for id, info := range r.threads {
		threads[id] = info
	}
	pending := r.pendingDeadlock
	r.pendingDeadlock = nil
	r.mu.Unlock()

	if len(pending) > 0 {
		sink.Printf("\n=== Potential Deadlock Detected! ===\n")
		sink.Printf("Lock chain:\n")
		for _, link := range pending {
			if info, ok := locks[link.lock]; ok {
				r.printLockInfo(sink, info, locks)
			}
			sink.Printf("\n")
		}
	}

	sink.Printf("\n=== Lock Detector Status ===\n")
	sink.Printf("Active locks: %d\n", len(locks))
	sink.Printf("Active threads: %d\n", len(threads))

	if len(locks) > 0 {
		sink.Printf("\nDetailed lock information:\n")
		for _, info := range locks {
			sink.Printf("\n")
			r.printLockInfo(sink, info, locks)
		}
	}

	if len(threads) > 0 {
		sink.Printf("\nThread Information:\n")
		for id, th := range threads {
			sink.Printf("\nThread %d:\n", id)
			sink.Printf("  Held locks:")
			for _, addr := range th.Held {
				sink.Printf(" %#x", addr)
			}
			sink.Printf("\n  Waiting for locks:")
			for _, addr := range th.Waiting {
				if info, ok := locks[addr]; ok {
					sink.Printf(" %#x (held by thread %d)", addr, info.OwnerThread)
				} else {
					sink.Printf(" %#x", addr)
				}
			}
			sink.Printf("\n")
		}
	}

	sink.Printf("\n===========================\n")
}

func (r *Registry) printLockInfo(sink *output.Sink, info *LockInfo, locks map[uintptr]*LockInfo) {
	sink.Printf("Lock %#x (Mutex) held by thread %d\n", info.Addr, info.OwnerThread)
	sink.Printf("Acquired at:\n")
	for i, f := range callstack.Symbolicate(info.Stack) {
		sink.Printf("  %s\n", callstack.FormatFrame(i, f))
	}

	if len(info.WaitingFor) > 0 {
		sink.Printf("Waiting for locks:")
		for waited := range info.WaitingFor {
			if w, ok := locks[waited]; ok {
				sink.Printf(" %#x (held by thread %d)", waited, w.OwnerThread)
			} else {
				sink.Printf(" %#x (unknown)", waited)
			}
		}
		sink.Printf("\n")
	}
}
