//go:build linux && amd64

package plthook

import (
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	rX8664JumpSlot = 7 // R_X86_64_JUMP_SLOT, debug/elf.R_X86_64_JMP_SLOT

	pageSize = 4096
)

// elf64Sym mirrors Elf64_Sym.
type elf64Sym struct {
	Name  uint32
	Info  uint8
	Other uint8
	Shndx uint16
	Value uint64
	Size  uint64
}

// elf64Rela mirrors Elf64_Rela.
type elf64Rela struct {
	Offset uint64
	Info   uint64
	Addend int64
}

func (r elf64Rela) symIndex() uint32 { return uint32(r.Info >> 32) }
func (r elf64Rela) relType() uint32  { return uint32(r.Info & 0xffffffff) }

// Export describes one JUMP_SLOT relocation discovered by Enumerate,
// naming the dynamic symbol it routes and the address of its GOT cell.
type Export struct {
	Name    string
	GotAddr uintptr
}

// Handle is an object (the main executable or a shared library) that has
// been located in the current process and is ready for PLT/GOT rewriting.
type Handle struct {
	path string
	dyn  dynSections
}

// Open locates an already-loaded object's dynamic section. An empty path
// resolves the main executable; any other path must already be mapped
// into the process (plthook never loads anything itself).
func Open(path string) (*Handle, error) {
	var lm unsafe.Pointer
	var err error
	if path == "" {
		lm, err = openMainLinkMap()
	} else {
		lm, err = openLibLinkMap(path)
	}
	if err != nil {
		return nil, newError(FileNotFound, "plthook: open %q: %v", displayPath(path), err)
	}

	dyn, ok := parseDynamicSections(lm)
	if !ok {
		return nil, newError(InternalError, "plthook: %q has no usable PT_DYNAMIC section", displayPath(path))
	}
	return &Handle{path: path, dyn: dyn}, nil
}

func displayPath(path string) string {
	if path == "" {
		return "<main executable>"
	}
	return path
}

// Enumerate walks the object's .rela.plt, returning one Export per
// R_X86_64_JUMP_SLOT relocation.
func (h *Handle) Enumerate() ([]Export, error) {
	if h.dyn.pltrelsz == 0 {
		return nil, nil
	}
	count := h.dyn.pltrelsz / unsafe.Sizeof(elf64Rela{})
	relas := unsafe.Slice((*elf64Rela)(unsafe.Pointer(h.dyn.base+uintptr(h.dyn.jmprel))), count)

	out := make([]Export, 0, count)
	for _, rela := range relas {
		if rela.relType() != rX8664JumpSlot {
			continue
		}
		sym := h.symbolAt(uintptr(rela.symIndex()))
		name := h.stringAt(uintptr(sym.Name))
		if name == "" {
			continue
		}
		out = append(out, Export{
			Name:    name,
			GotAddr: h.dyn.base + uintptr(rela.Offset),
		})
	}
	return out, nil
}

func (h *Handle) symbolAt(index uintptr) elf64Sym {
	symPtr := (*elf64Sym)(unsafe.Pointer(h.dyn.base + uintptr(h.dyn.symtab) + index*unsafe.Sizeof(elf64Sym{})))
	return *symPtr
}

func (h *Handle) stringAt(offset uintptr) string {
	base := h.dyn.base + uintptr(h.dyn.strtab) + offset
	var b []byte
	for i := uintptr(0); ; i++ {
		c := *(*byte)(unsafe.Pointer(base + i))
		if c == 0 {
			break
		}
		b = append(b, c)
	}
	return string(b)
}

// symbolMatches reports whether name (as found in the object's dynamic
// symbol table) refers to funcname, tolerating the "@version" suffix
// glibc attaches to versioned symbols (malloc@GLIBC_2.2.5 still means
// malloc).
func symbolMatches(name, funcname string) bool {
	return name == funcname || strings.HasPrefix(name, funcname+"@")
}

// Replace rewrites funcname's GOT slot to point at replacement, returning
// the address the dynamic linker's default lookup resolves funcname to
// (not the value the slot held before the write), so the caller can
// still invoke the real function. It is a no-op error (FunctionNotFound) if funcname has
// no JUMP_SLOT relocation in this object.
func (h *Handle) Replace(funcname string, replacement uintptr) (original uintptr, err error) {
	exports, err := h.Enumerate()
	if err != nil {
		return 0, err
	}

	var got uintptr
	found := false
	for _, e := range exports {
		if symbolMatches(e.Name, funcname) {
			got = e.GotAddr
			found = true
			break
		}
	}
	if !found {
		return 0, newError(FunctionNotFound, "plthook: %q: no JUMP_SLOT relocation for %q", displayPath(h.path), funcname)
	}

	// Force the dynamic linker to resolve funcname before the GOT slot
	// is touched: a slot the object has never called through still
	// holds its unresolved PLT trampoline, not a callable function
	// address, and that trampoline is what would otherwise be captured
	// as "original".
	original, err = Resolve(funcname)
	if err != nil {
		return 0, err
	}

	slot := (*uintptr)(unsafe.Pointer(got))

	if err := withWritableGOTPage(got, func() error {
		*slot = replacement
		return nil
	}); err != nil {
		return 0, newError(InternalError, "plthook: %q: patching %q: %v", displayPath(h.path), funcname, err)
	}
	return original, nil
}

// withWritableGOTPage temporarily adds PROT_WRITE to the page containing
// addr (GOT pages are normally read-only after relocation), runs fn, then
// restores the page's original protection as read from /proc/self/maps.
func withWritableGOTPage(addr uintptr, fn func() error) error {
	pageAddr := addr &^ (pageSize - 1)

	orig, err := currentProtection(addr)
	if err != nil {
		return err
	}

	if err := unix.Mprotect(pageBytes(pageAddr), orig|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("mprotect(+W): %w", err)
	}
	defer unix.Mprotect(pageBytes(pageAddr), orig)

	return fn()
}

func pageBytes(pageAddr uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(pageAddr)), pageSize)
}

// Resolve looks up funcname via the dynamic linker's default symbol
// search (RTLD_DEFAULT), independent of any particular Handle. Replace
// uses this to capture a call-through address before it patches a GOT
// slot.
func Resolve(funcname string) (uintptr, error) {
	addr, err := resolveDefault(funcname)
	if err != nil {
		return 0, newError(FunctionNotFound, "plthook: resolve %q: %v", funcname, err)
	}
	return addr, nil
}
