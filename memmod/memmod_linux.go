//go:build linux && (386 || amd64 || arm64)

// Package memmod (Linux) is the library loader used to stage a target
// shared object into this process's own address space, so that
// plthook can subsequently find it already resident via dlopen and
// patch its PLT/GOT. It resolves dlopen/dlsym/dlclose/dlerror itself
// from the runtime libc mapping rather than linking libdl directly.
// Calls into those functions go through the cgo trampolines in
// memmod_linux_call_cgo.go; memmod_linux_call.go's non-cgo declarations
// have no implementation in this module, so a build with cgo disabled
// does not compile this package.
package memmod

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	"github.com/nvdetector/nvdetector/internal/procmaps"
	"golang.org/x/sys/unix"
)

const (
	rtldNow   = 2
	rtldLocal = 0
)

type linuxDynAPI struct {
	dlopen  uintptr
	dlsym   uintptr
	dlclose uintptr
	dlerror uintptr
}

var (
	linuxAPIOnce sync.Once
	linuxAPI     linuxDynAPI
	linuxAPIErr  error
)

type Module struct {
	mu     sync.RWMutex
	fd     int
	handle uintptr
	path   string
	closed bool
}

func LoadLibrary(data []byte) (*Module, error) {
	if len(data) == 0 {
		return nil, errors.New("empty ELF image")
	}
	if err := validateELFForCurrentArch(data); err != nil {
		return nil, err
	}

	api, err := getLinuxDynAPI()
	if err != nil {
		return nil, err
	}

	fd, err := createAnonymousLibraryFD()
	if err != nil {
		return nil, fmt.Errorf("create anonymous shared object fd: %w", err)
	}
	written := 0
	for written < len(data) {
		n, err := unix.Write(fd, data[written:])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			_ = unix.Close(fd)
			return nil, fmt.Errorf("write anonymous shared object: %w", err)
		}
		if n <= 0 {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("write anonymous shared object: short write (%d/%d)", written, len(data))
		}
		written += n
	}

	module := &Module{
		fd:   fd,
		path: fmt.Sprintf("/proc/self/fd/%d", fd),
	}

	cPath, err := cStringBytes(module.path)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	// clear stale dlerror
	_ = cCall0(api.dlerror)
	handle := cCall2(api.dlopen, cStringPtr(cPath), uintptr(rtldNow|rtldLocal))
	runtime.KeepAlive(cPath)
	if handle == 0 {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("dlopen(%s): %w", module.path, lastDLErrorWithFallback(api, "unknown dlopen error"))
	}

	module.handle = handle
	return module, nil
}

func (module *Module) Free() {
	module.mu.Lock()
	defer module.mu.Unlock()

	if module.closed {
		return
	}
	module.closed = true

	if module.handle != 0 {
		if api, err := getLinuxDynAPI(); err == nil {
			_ = cCall1(api.dlclose, module.handle)
		}
		module.handle = 0
	}
	if module.fd >= 0 {
		_ = unix.Close(module.fd)
		module.fd = -1
	}
}

func (module *Module) CallExport(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("export name cannot be empty")
	}

	candidates := []string{name}
	if strings.HasPrefix(name, "_") {
		candidates = append(candidates, strings.TrimPrefix(name, "_"))
	} else {
		candidates = append(candidates, "_"+name)
	}

	var (
		addr uintptr
		err  error
	)
	for _, candidate := range candidates {
		addr, err = module.ProcAddressByName(candidate)
		if err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("resolve export %q: %w", name, err)
	}

	_ = cCall0(addr)
	return nil
}

func (module *Module) ProcAddressByName(name string) (uintptr, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, errors.New("export name cannot be empty")
	}

	module.mu.RLock()
	if module.closed {
		module.mu.RUnlock()
		return 0, errors.New("library is closed")
	}
	handle := module.handle
	module.mu.RUnlock()
	if handle == 0 {
		return 0, errors.New("library handle is nil")
	}

	api, err := getLinuxDynAPI()
	if err != nil {
		return 0, err
	}

	cName, err := cStringBytes(name)
	if err != nil {
		return 0, err
	}

	// clear stale dlerror
	_ = cCall0(api.dlerror)
	sym := cCall2(api.dlsym, handle, cStringPtr(cName))
	runtime.KeepAlive(cName)
	if err := lastDLError(api); err != nil {
		return 0, fmt.Errorf("dlsym(%s): %w", name, err)
	}
	if sym == 0 {
		return 0, errors.New("symbol address is nil")
	}
	return sym, nil
}

func (module *Module) ProcAddressByOrdinal(ordinal uint16) (uintptr, error) {
	_ = ordinal
	return 0, errors.New("ProcAddressByOrdinal is not supported on linux; use ProcAddressByName")
}

func createAnonymousLibraryFD() (int, error) {
	// Prefer O_TMPFILE on tmpfs so there is never a directory entry.
	fd, err := unix.Open("/dev/shm", unix.O_RDWR|unix.O_CLOEXEC|unix.O_TMPFILE, 0o600)
	if err == nil {
		return fd, nil
	}

	// Fallback: create under /dev/shm then unlink immediately. The open fd
	// remains usable via /proc/self/fd/<n> while avoiding persistent files.
	f, tmpErr := os.CreateTemp("/dev/shm", "nvdetector-memmod-*")
	if tmpErr != nil {
		return -1, errors.Join(err, tmpErr)
	}
	name := f.Name()
	if rmErr := os.Remove(name); rmErr != nil {
		_ = f.Close()
		return -1, fmt.Errorf("unlink temp shared object %s: %w", name, rmErr)
	}
	dupFD, dupErr := unix.Dup(int(f.Fd()))
	if closeErr := f.Close(); closeErr != nil && dupErr == nil {
		return -1, fmt.Errorf("close temp shared object file %s: %w", name, closeErr)
	}
	if dupErr != nil {
		return -1, fmt.Errorf("dup temp shared object fd: %w", dupErr)
	}
	return dupFD, nil
}

func cStringBytes(s string) ([]byte, error) {
	if strings.ContainsRune(s, '\x00') {
		return nil, errors.New("string contains NUL")
	}
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b, nil
}

func cStringPtr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

func cStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	const maxLen = 1 << 20
	buf := make([]byte, 0, 64)
	for i := 0; i < maxLen; i++ {
		ch := *(*byte)(unsafe.Pointer(ptr + uintptr(i)))
		if ch == 0 {
			return string(buf)
		}
		buf = append(buf, ch)
	}
	return string(buf)
}

func lastDLError(api *linuxDynAPI) error {
	msg := cStringFromPtr(cCall0(api.dlerror))
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}

func lastDLErrorWithFallback(api *linuxDynAPI, fallback string) error {
	if err := lastDLError(api); err != nil {
		return err
	}
	return errors.New(fallback)
}

func getLinuxDynAPI() (*linuxDynAPI, error) {
	linuxAPIOnce.Do(func() {
		linuxAPIErr = initLinuxDynAPI()
	})
	if linuxAPIErr != nil {
		return nil, linuxAPIErr
	}
	return &linuxAPI, nil
}

func initLinuxDynAPI() error {
	libcPath, baseAddr, err := findRuntimeLibc()
	if err != nil {
		return err
	}

	dlopenOff, err := findELFSymbolOffset(libcPath, "dlopen")
	if err != nil {
		return fmt.Errorf("resolve libc symbol dlopen: %w", err)
	}
	dlsymOff, err := findELFSymbolOffset(libcPath, "dlsym")
	if err != nil {
		return fmt.Errorf("resolve libc symbol dlsym: %w", err)
	}
	dlcloseOff, err := findELFSymbolOffset(libcPath, "dlclose")
	if err != nil {
		return fmt.Errorf("resolve libc symbol dlclose: %w", err)
	}
	dlerrorOff, err := findELFSymbolOffset(libcPath, "dlerror")
	if err != nil {
		return fmt.Errorf("resolve libc symbol dlerror: %w", err)
	}

	linuxAPI = linuxDynAPI{
		dlopen:  baseAddr + dlopenOff,
		dlsym:   baseAddr + dlsymOff,
		dlclose: baseAddr + dlcloseOff,
		dlerror: baseAddr + dlerrorOff,
	}
	return nil
}

// findRuntimeLibc locates the process's own libc (or musl) mapping via
// internal/procmaps, the parser plthook also uses for GOT page
// protection snapshots. Only executable segments are considered: the
// base address a symbol offset is added to must come from the text
// segment, not a later read-only data segment that happens to share
// the same path.
func findRuntimeLibc() (string, uintptr, error) {
	entries, err := procmaps.Read()
	if err != nil {
		return "", 0, err
	}

	var exec []procmaps.Entry
	for _, e := range entries {
		if e.Prot()&unix.PROT_EXEC != 0 && strings.HasPrefix(e.Path, "/") {
			exec = append(exec, e)
		}
	}

	best, ok := procmaps.BestLibc(exec)
	if !ok {
		return "", 0, errors.New("failed to locate runtime libc mapping")
	}
	if best.Start < best.Offset {
		return "", 0, fmt.Errorf("invalid libc mapping base for %s", best.Path)
	}
	return best.Path, best.Start - best.Offset, nil
}

func findELFSymbolOffset(path string, symbol string) (uintptr, error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open elf %s: %w", path, err)
	}
	defer f.Close()

	if syms, err := f.DynamicSymbols(); err == nil {
		if off, ok := matchSymbolOffset(syms, symbol); ok {
			return off, nil
		}
	}
	if syms, err := f.Symbols(); err == nil {
		if off, ok := matchSymbolOffset(syms, symbol); ok {
			return off, nil
		}
	}
	return 0, fmt.Errorf("symbol %s not found in %s", symbol, path)
}

func matchSymbolOffset(symbols []elf.Symbol, want string) (uintptr, bool) {
	for _, s := range symbols {
		if s.Value == 0 {
			continue
		}
		if s.Name == want || strings.HasPrefix(s.Name, want+"@") {
			return uintptr(s.Value), true
		}
	}
	return 0, false
}

func validateELFForCurrentArch(data []byte) error {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid ELF image: %w", err)
	}
	defer f.Close()

	machine, err := currentELFMachine()
	if err != nil {
		return err
	}
	if f.Machine != machine {
		return fmt.Errorf("foreign platform (provided: %s, expected: %s)", f.Machine, machine)
	}
	if f.Type != elf.ET_DYN {
		return fmt.Errorf("unsupported ELF file type: %s", f.Type)
	}
	return nil
}

func currentELFMachine() (elf.Machine, error) {
	switch runtime.GOARCH {
	case "386":
		return elf.EM_386, nil
	case "amd64":
		return elf.EM_X86_64, nil
	case "arm64":
		return elf.EM_AARCH64, nil
	default:
		return 0, fmt.Errorf("unsupported linux architecture: %s", runtime.GOARCH)
	}
}
