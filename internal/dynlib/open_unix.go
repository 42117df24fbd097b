//go:build darwin || freebsd || linux || netbsd

package dynlib

import (
	"github.com/ebitengine/purego"
	"golang.org/x/sys/unix"
)

func openLibrary(name string) (uintptr, error) {
	return purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
}

func lookupSymbol(handle uintptr, name string) (uintptr, error) {
	return purego.Dlsym(handle, name)
}

// GoString copies a NUL-terminated string owned by native code.
func GoString(p *byte) string {
	return unix.BytePtrToString(p)
}

func registerFunc(fptr any, addr uintptr) {
	purego.RegisterFunc(fptr, addr)
}

func callPointer(fn uintptr, args ...uintptr) uintptr {
	r1, _, _ := purego.SyscallN(fn, args...)
	return r1
}
