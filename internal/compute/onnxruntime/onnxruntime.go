// Package onnxruntime probes an installed ONNX Runtime shared library through
// its C API base table.
package onnxruntime

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/aiz-dev/hwtelemetry/internal/compute"
	"github.com/aiz-dev/hwtelemetry/internal/dynlib"
)

// API names this runtime in compute.Info.
const API = "onnxruntime"

// PathEnv overrides the library location when set.
const PathEnv = "AI_Z_ONNXRUNTIME_PATH"

const cudaProviderSymbol = "OrtSessionOptionsAppendExecutionProvider_CUDA"

// apiVersions are tried newest first; newer runtimes serve older versions.
var apiVersions = []uint32{22, 21, 20, 19, 18}

var (
	errNotFound       = errors.New("ONNX Runtime not found. Install with: pip install onnxruntime")
	errNoAPIBase      = errors.New("Failed to find OrtGetApiBase in libonnxruntime.")
	errInvalidAPIBase = errors.New("Invalid OrtApiBase returned.")
	errNoAPIVersion   = errors.New("Failed to get a compatible ORT API version.")
)

// apiBase mirrors OrtApiBase: two function pointers.
type apiBase struct {
	GetAPI           uintptr
	GetVersionString uintptr
}

type functions struct {
	library string

	// getAPI returns a non-zero OrtApi pointer when version is supported.
	getAPI        func(version uint32) uintptr
	versionString func() string
	cudaProvider  bool
}

func candidateLibraries(getenv func(string) string, goos string) []string {
	var paths []string
	if custom := getenv(PathEnv); custom != "" {
		paths = append(paths, custom)
	}
	if goos == "windows" {
		return append(paths, "onnxruntime.dll")
	}
	if goos == "darwin" {
		return append(paths, "libonnxruntime.dylib", "libonnxruntime.1.dylib", "/opt/homebrew/lib/libonnxruntime.dylib", "/usr/local/lib/libonnxruntime.dylib")
	}

	paths = append(paths,
		"libonnxruntime.so",
		"libonnxruntime.so.1",
		"libonnxruntime.so.1.18",
		"/usr/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/opt/onnxruntime/lib/libonnxruntime.so",
	)
	const capi = "onnxruntime/capi/libonnxruntime.so"
	if home := getenv("HOME"); home != "" {
		for minor := 8; minor <= 13; minor++ {
			paths = append(paths, fmt.Sprintf("%s/.local/lib/python3.%d/site-packages/%s", home, minor, capi))
		}
	}
	for minor := 8; minor <= 13; minor++ {
		paths = append(paths,
			fmt.Sprintf("/usr/local/lib/python3.%d/dist-packages/%s", minor, capi),
			fmt.Sprintf("/usr/lib/python3.%d/site-packages/%s", minor, capi),
		)
	}
	return paths
}

func loadFunctions() (*functions, error) {
	lib, err := dynlib.Open(candidateLibraries(os.Getenv, runtime.GOOS))
	if err != nil {
		return nil, errNotFound
	}

	var getAPIBase func() *apiBase
	if !lib.Optional("OrtGetApiBase", &getAPIBase) {
		return nil, errNoAPIBase
	}
	base := getAPIBase()
	if base == nil || base.GetAPI == 0 {
		return nil, errInvalidAPIBase
	}

	f := &functions{
		library: lib.Name(),
		getAPI: func(version uint32) uintptr {
			return dynlib.Call(base.GetAPI, uintptr(version))
		},
		cudaProvider: lib.Has(cudaProviderSymbol),
	}
	if base.GetVersionString != 0 {
		dynlib.BindPointer(&f.versionString, base.GetVersionString)
	}
	return f, nil
}

// Prober reports ONNX Runtime availability, version and execution providers.
type Prober struct {
	lazy *dynlib.Lazy[*functions]
}

var defaultProber = newProber(loadFunctions)

// Default returns the process-wide prober.
func Default() *Prober {
	return defaultProber
}

func newProber(load func() (*functions, error)) *Prober {
	return &Prober{lazy: dynlib.NewLazy(load)}
}

// Probe negotiates an API version and lists the execution providers.
func (p *Prober) Probe() compute.Info {
	f, err := p.lazy.Get()
	if err != nil {
		return compute.Unavailable(API, err)
	}

	version, ok := negotiate(f)
	if !ok {
		return compute.Info{API: API, Library: f.library, Reason: errNoAPIVersion.Error()}
	}

	info := compute.Info{
		API:       API,
		Available: true,
		Library:   f.library,
		Providers: []string{"CPU"},
	}
	if f.versionString != nil {
		info.Version = f.versionString()
	}
	if info.Version == "" {
		info.Version = fmt.Sprintf("api %d", version)
	}
	if f.cudaProvider {
		info.Providers = append(info.Providers, "CUDA")
	}
	return info
}

func negotiate(f *functions) (uint32, bool) {
	for _, v := range apiVersions {
		if f.getAPI(v) != 0 {
			return v, true
		}
	}
	return 0, false
}
