package dynlib

import (
	"runtime"
	"strings"
)

// Names picks the candidate list for the running OS. Darwin reuses the unix
// names with the .dylib extension.
func Names(unix, windows []string) []string {
	switch runtime.GOOS {
	case "windows":
		return append([]string(nil), windows...)
	case "darwin":
		out := make([]string, 0, len(unix))
		for _, name := range unix {
			out = append(out, darwinName(name))
		}
		return out
	default:
		return append([]string(nil), unix...)
	}
}

// WithUnversioned appends the unversioned soname of every versioned entry,
// e.g. libfoo.so.1 also tries libfoo.so. Order and uniqueness are preserved.
func WithUnversioned(names []string) []string {
	out := make([]string, 0, len(names)*2)
	seen := make(map[string]struct{}, len(names)*2)
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, name := range names {
		add(name)
	}
	for _, name := range names {
		if idx := strings.Index(name, ".so."); idx >= 0 {
			add(name[:idx+len(".so")])
		}
	}
	return out
}

func darwinName(name string) string {
	idx := strings.Index(name, ".so")
	if idx < 0 {
		return name
	}
	base := name[:idx]
	rest := strings.TrimPrefix(name[idx+len(".so"):], ".")
	if rest == "" {
		return base + ".dylib"
	}
	return base + "." + rest + ".dylib"
}
