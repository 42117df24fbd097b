//go:build windows

package dynlib

import (
	"github.com/ebitengine/purego"
	"golang.org/x/sys/windows"
)

func openLibrary(name string) (uintptr, error) {
	handle, err := windows.LoadLibraryEx(name, 0, windows.LOAD_LIBRARY_SEARCH_DEFAULT_DIRS)
	if err != nil {
		handle, err = windows.LoadLibrary(name)
		if err != nil {
			return 0, err
		}
	}
	return uintptr(handle), nil
}

func lookupSymbol(handle uintptr, name string) (uintptr, error) {
	return windows.GetProcAddress(windows.Handle(handle), name)
}

// GoString copies a NUL-terminated string owned by native code.
func GoString(p *byte) string {
	return windows.BytePtrToString(p)
}

func registerFunc(fptr any, addr uintptr) {
	purego.RegisterFunc(fptr, addr)
}

func callPointer(fn uintptr, args ...uintptr) uintptr {
	r1, _, _ := purego.SyscallN(fn, args...)
	return r1
}
