// Package plthook rewrites ELF64 PLT/GOT entries of an already-loaded
// object (the main executable or a named shared library) so that calls to
// a chosen dynamic symbol route through a caller-supplied function, while
// preserving the ability to call the original.
//
// Linux/x86_64 only. An object must already be mapped into the process;
// plthook never loads anything itself.
package plthook
