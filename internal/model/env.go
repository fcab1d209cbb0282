package model

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// The onnxruntime environment is process-wide. Servers share it through a
// reference count and the last Close tears it down.
var (
	envMu   sync.Mutex
	envRefs int

	initEnv = func(libraryPath string) error {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		return ort.InitializeEnvironment()
	}
	destroyEnv = ort.DestroyEnvironment
)

func acquireEnv(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 {
		if err := initEnv(libraryPath); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnv() error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 {
		return nil
	}
	envRefs--
	if envRefs == 0 {
		return destroyEnv()
	}
	return nil
}
