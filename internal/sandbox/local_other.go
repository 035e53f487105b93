//go:build !unix

package sandbox

import (
	"os"
	"os/exec"
)

func isolateProcessGroup(*exec.Cmd) {}

func exitCode(state *os.ProcessState) int {
	if code := state.ExitCode(); code >= 0 {
		return code
	}
	return 1
}
