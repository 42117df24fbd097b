//go:build !darwin && !freebsd && !linux && !netbsd && !windows

package dynlib

func openLibrary(string) (uintptr, error) {
	return 0, ErrUnsupported
}

func lookupSymbol(uintptr, string) (uintptr, error) {
	return 0, ErrUnsupported
}

// GoString is unavailable without a native loader.
func GoString(*byte) string {
	return ""
}

func registerFunc(any, uintptr) {}

func callPointer(uintptr, ...uintptr) uintptr {
	return 0
}
