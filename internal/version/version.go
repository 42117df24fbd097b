// Package version tracks build metadata for the application.
package version

import (
	"runtime/debug"
	"sync"
)

// Info describes build metadata for the application.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version,omitempty"`
}

var (
	info      = Info{Version: "dev"}
	infoMutex sync.RWMutex
)

// Set updates the version metadata exposed by the application.
func Set(v Info) {
	infoMutex.Lock()
	defer infoMutex.Unlock()

	if v.Version == "" {
		v.Version = "dev"
	}
	info = v
}

// Current returns the currently configured build metadata.
func Current() Info {
	infoMutex.RLock()
	defer infoMutex.RUnlock()
	return info
}

// Resolve combines linker-provided values with the module build info. Values
// set through -ldflags win.
func Resolve(ver, commit, buildTime string) Info {
	bi, _ := debug.ReadBuildInfo()
	return resolve(ver, commit, buildTime, bi)
}

func resolve(ver, commit, buildTime string, bi *debug.BuildInfo) Info {
	out := Info{Version: ver, Commit: commit, BuildTime: buildTime}
	if bi == nil {
		return out
	}
	out.GoVersion = bi.GoVersion
	if out.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		out.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if out.Commit == "" {
				out.Commit = s.Value
			}
		case "vcs.time":
			if out.BuildTime == "" {
				out.BuildTime = s.Value
			}
		}
	}
	return out
}
