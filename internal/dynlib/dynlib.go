// Package dynlib loads native shared libraries at runtime and binds their
// entry points to Go function variables.
//
// Handles returned by Open are never closed. A backend that activated once
// keeps its library mapped for the process lifetime.
package dynlib

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when none of the candidate libraries could be loaded.
	ErrNotFound = errors.New("library not found")
	// ErrUnsupported is returned on platforms without a dynamic loader.
	ErrUnsupported = errors.New("dynamic loading unsupported on this platform")
)

// MissingSymbolError reports a required entry point absent from a loaded library.
type MissingSymbolError struct {
	Library string
	Symbol  string
}

func (e *MissingSymbolError) Error() string {
	return fmt.Sprintf("missing symbol %q in %s", e.Symbol, e.Library)
}

// Library is an opened native library.
type Library struct {
	name   string
	handle uintptr
}

// Open loads the first candidate that the platform loader accepts.
func Open(candidates []string) (*Library, error) {
	var lastErr error
	for _, name := range candidates {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		handle, err := openLibrary(name)
		if err != nil {
			lastErr = err
			continue
		}
		return &Library{name: name, handle: handle}, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, lastErr)
	}
	return nil, ErrNotFound
}

// Name returns the candidate name the library was loaded from.
func (l *Library) Name() string {
	return l.name
}

// Symbol returns the raw address of an exported symbol.
func (l *Library) Symbol(name string) (uintptr, error) {
	addr, err := lookupSymbol(l.handle, name)
	if err != nil {
		return 0, &MissingSymbolError{Library: l.name, Symbol: name}
	}
	if addr == 0 {
		return 0, &MissingSymbolError{Library: l.name, Symbol: name}
	}
	return addr, nil
}

// Has reports whether the library exports name.
func (l *Library) Has(name string) bool {
	_, err := l.Symbol(name)
	return err == nil
}

// Require binds a mandatory symbol to fptr, which must point to a func variable.
func (l *Library) Require(name string, fptr any) error {
	addr, err := l.Symbol(name)
	if err != nil {
		return err
	}
	registerFunc(fptr, addr)
	return nil
}

// Optional binds name when present and leaves fptr untouched otherwise.
func (l *Library) Optional(name string, fptr any) bool {
	addr, err := l.Symbol(name)
	if err != nil {
		return false
	}
	registerFunc(fptr, addr)
	return true
}

// Binding pairs a symbol name with the func variable it binds to.
type Binding struct {
	Symbol string
	Fn     any
}

// RequireAll binds every entry in order and stops at the first missing symbol.
func (l *Library) RequireAll(bindings []Binding) error {
	for _, b := range bindings {
		if err := l.Require(b.Symbol, b.Fn); err != nil {
			return err
		}
	}
	return nil
}

// OptionalAll binds whatever entries are present.
func (l *Library) OptionalAll(bindings []Binding) {
	for _, b := range bindings {
		l.Optional(b.Symbol, b.Fn)
	}
}

// CString converts a NUL-terminated byte buffer filled by native code.
func CString(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

// BindPointer binds a func variable to a native function pointer obtained at
// runtime, such as an entry of a vendor API table. addr must be non-zero.
func BindPointer(fptr any, addr uintptr) {
	registerFunc(fptr, addr)
}

// Call invokes a native function pointer with integer and pointer arguments
// and returns its first result register.
func Call(fn uintptr, args ...uintptr) uintptr {
	return callPointer(fn, args...)
}
