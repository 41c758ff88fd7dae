package main

import (
	"context"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"

	"github.com/Tutortoise/frame-pipeline/detections"
)

// libraryName is the ONNX Runtime shared library file for this OS.
func libraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// resolveLibrary returns an explicit path as is, otherwise looks for the
// library next to the model and then in ./lib.
func resolveLibrary(explicit, modelPath string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	candidates := []string{
		filepath.Join(filepath.Dir(modelPath), libraryName()),
		filepath.Join("lib", libraryName()),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return filepath.Abs(c)
		}
	}
	return "", &detections.ResourceError{
		Message: "onnxruntime library not found",
		Cause:   errors.Errorf("looked in %v", candidates),
	}
}

// loadEngine boots the runtime and loads the model, or connects to a remote
// engine when one is configured.
func loadEngine(ctx context.Context, cfg *Config) (detections.Engine, error) {
	if cfg.RemoteURL != "" {
		remote := detections.NewRemoteEngine(cfg.RemoteURL, cfg.RemoteTimeout)
		if err := remote.Ping(ctx); err != nil {
			return nil, err
		}
		return remote, nil
	}

	modelPath, err := filepath.Abs(filepath.Clean(cfg.ModelPath))
	if err != nil {
		return nil, &detections.ResourceError{Message: "model path", Cause: err}
	}
	libPath, err := resolveLibrary(cfg.LibraryPath, modelPath)
	if err != nil {
		return nil, err
	}
	if err := detections.InitRuntime(libPath); err != nil {
		return nil, err
	}
	return detections.NewModelSession(cfg.sessionConfig(modelPath))
}
