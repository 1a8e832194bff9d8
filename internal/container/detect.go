package container

import (
	"os/exec"
	"runtime"

	"github.com/bunrunner/bunrunner/internal/log"
)

// Detect creates a runtime for the configured binary, or auto-detects one.
// On macOS with Apple Silicon, Apple's container tool is preferred when
// installed; everywhere else (and as the fallback) Docker is used.
func Detect(binary string) (*Runtime, error) {
	if binary != "" {
		return New(binary)
	}
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		if _, err := exec.LookPath("container"); err == nil {
			log.Debug("using Apple container runtime")
			return New("container")
		}
	}
	log.Debug("using Docker runtime")
	return New("docker")
}
