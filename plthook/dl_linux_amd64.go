//go:build linux && amd64

package plthook

/*
#cgo LDFLAGS: -ldl

#define _GNU_SOURCE
#include <dlfcn.h>
#include <link.h>
#include <string.h>
#include <stdlib.h>

// nvdetector_dynsections mirrors the handful of DT_* tags the rewriter
// needs out of an object's dynamic section; ok is 0 if any required tag
// is missing from lm->l_ld.
typedef struct {
	unsigned long base;
	unsigned long symtab;
	unsigned long strtab;
	unsigned long strsz;
	unsigned long jmprel;
	unsigned long pltrelsz;
	int ok;
} nvdetector_dynsections;

static const ElfW(Dyn) *nvdetector_find_dyn(const ElfW(Dyn) *dyn, long tag) {
	while (dyn->d_tag != DT_NULL) {
		if (dyn->d_tag == tag) {
			return dyn;
		}
		dyn++;
	}
	return NULL;
}

static nvdetector_dynsections nvdetector_parse_dynamic(struct link_map *lm) {
	nvdetector_dynsections out;
	memset(&out, 0, sizeof(out));
	out.base = (unsigned long)lm->l_addr;

	const ElfW(Dyn) *d;

	d = nvdetector_find_dyn(lm->l_ld, DT_SYMTAB);
	if (d == NULL) return out;
	out.symtab = (unsigned long)d->d_un.d_ptr;

	d = nvdetector_find_dyn(lm->l_ld, DT_STRTAB);
	if (d == NULL) return out;
	out.strtab = (unsigned long)d->d_un.d_ptr;

	d = nvdetector_find_dyn(lm->l_ld, DT_STRSZ);
	if (d == NULL) return out;
	out.strsz = (unsigned long)d->d_un.d_val;

	d = nvdetector_find_dyn(lm->l_ld, DT_JMPREL);
	if (d == NULL) return out;
	out.jmprel = (unsigned long)d->d_un.d_ptr;

	d = nvdetector_find_dyn(lm->l_ld, DT_PLTRELSZ);
	if (d == NULL) return out;
	out.pltrelsz = (unsigned long)d->d_un.d_val;

	out.ok = 1;
	return out;
}

static struct link_map *nvdetector_linkmap_of(void *handle, char **errmsg) {
	struct link_map *lm = NULL;
	dlerror();
	if (dlinfo(handle, RTLD_DI_LINKMAP, &lm) != 0) {
		const char *e = dlerror();
		*errmsg = e != NULL ? strdup(e) : strdup("dlinfo failed");
		return NULL;
	}
	return lm;
}

static struct link_map *nvdetector_linkmap_head(struct link_map *lm) {
	while (lm->l_prev != NULL) {
		lm = lm->l_prev;
	}
	return lm;
}

static void *nvdetector_dlopen_main(char **errmsg) {
	dlerror();
	void *h = dlopen(NULL, RTLD_LAZY);
	if (h == NULL) {
		const char *e = dlerror();
		*errmsg = e != NULL ? strdup(e) : strdup("dlopen failed");
	}
	return h;
}

static void *nvdetector_dlopen_noload(const char *path, char **errmsg) {
	dlerror();
	void *h = dlopen(path, RTLD_LAZY | RTLD_NOLOAD);
	if (h == NULL) {
		const char *e = dlerror();
		*errmsg = e != NULL ? strdup(e) : strdup("dlopen failed");
	}
	return h;
}

static void *nvdetector_dlsym_default(const char *name, char **errmsg) {
	dlerror();
	void *sym = dlsym(RTLD_DEFAULT, name);
	if (sym == NULL) {
		const char *e = dlerror();
		if (e != NULL) {
			*errmsg = strdup(e);
		}
	}
	return sym;
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

type dynSections struct {
	base, symtab, strtab, strsz, jmprel, pltrelsz uintptr
}

func takeCString(p *C.char) string {
	if p == nil {
		return ""
	}
	s := C.GoString(p)
	C.free(unsafe.Pointer(p))
	return s
}

// openMainLinkMap resolves the link_map for the main executable by
// dlopen(NULL) and walking the link-map chain back to its head.
func openMainLinkMap() (unsafe.Pointer, error) {
	var errmsg *C.char
	handle := C.nvdetector_dlopen_main(&errmsg)
	if handle == nil {
		return nil, fmt.Errorf("dlopen(NULL): %s", takeCString(errmsg))
	}
	defer C.dlclose(handle)

	lm, err := linkMapOf(handle)
	if err != nil {
		return nil, err
	}
	return unsafe.Pointer(C.nvdetector_linkmap_head((*C.struct_link_map)(lm))), nil
}

// openLibLinkMap resolves the link_map for a shared object already mapped
// into the process, failing if it is not loaded (RTLD_NOLOAD).
func openLibLinkMap(path string) (unsafe.Pointer, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	var errmsg *C.char
	handle := C.nvdetector_dlopen_noload(cpath, &errmsg)
	if handle == nil {
		return nil, fmt.Errorf("dlopen(%s, RTLD_NOLOAD): %s", path, takeCString(errmsg))
	}
	defer C.dlclose(handle)

	return linkMapOf(handle)
}

func linkMapOf(handle unsafe.Pointer) (unsafe.Pointer, error) {
	var errmsg *C.char
	lm := C.nvdetector_linkmap_of(handle, &errmsg)
	if lm == nil {
		return nil, fmt.Errorf("dlinfo: %s", takeCString(errmsg))
	}
	return unsafe.Pointer(lm), nil
}

func parseDynamicSections(lm unsafe.Pointer) (dynSections, bool) {
	c := C.nvdetector_parse_dynamic((*C.struct_link_map)(lm))
	if c.ok == 0 {
		return dynSections{}, false
	}
	return dynSections{
		base:     uintptr(c.base),
		symtab:   uintptr(c.symtab),
		strtab:   uintptr(c.strtab),
		strsz:    uintptr(c.strsz),
		jmprel:   uintptr(c.jmprel),
		pltrelsz: uintptr(c.pltrelsz),
	}, true
}

// resolveDefault forces lazy PLT resolution of name and returns its
// resolved address via the dynamic linker's default symbol search.
func resolveDefault(name string) (uintptr, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	var errmsg *C.char
	sym := C.nvdetector_dlsym_default(cname, &errmsg)
	if sym == nil {
		msg := takeCString(errmsg)
		if msg == "" {
			msg = "symbol not found"
		}
		return 0, fmt.Errorf("%s", msg)
	}
	return uintptr(sym), nil
}
