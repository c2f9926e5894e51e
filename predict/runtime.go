package predict

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// SharedLibPath returns the path to the ONNX Runtime shared library for the
// current platform. LABELQA_ORT_LIB overrides the default location.
func SharedLibPath() string {
	if v := os.Getenv("LABELQA_ORT_LIB"); v != "" {
		return v
	}
	if runtime.GOOS == "windows" {
		return "third_party/onnxruntime.dll"
	}
	if runtime.GOOS == "darwin" {
		return "third_party/libonnxruntime.dylib"
	}
	if runtime.GOARCH == "arm64" {
		return "third_party/onnxruntime_arm64.so"
	}
	return "third_party/onnxruntime.so"
}

// initRuntime points ONNX Runtime at the shared library and initializes the
// native environment. Required once per process; both the trainer and the
// predictor funnel through here.
func initRuntime() error {
	ortInitOnce.Do(func() {
		libPath := SharedLibPath()
		if _, err := os.Stat(libPath); os.IsNotExist(err) {
			ortInitErr = fmt.Errorf("ONNX Runtime library not found at %s (set LABELQA_ORT_LIB): %w", libPath, err)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			ortInitErr = fmt.Errorf("error initializing ORT environment: %w", err)
		}
	})
	return ortInitErr
}

// InitRuntime exposes runtime initialization to the training package.
func InitRuntime() error {
	return initRuntime()
}
