//go:build windows

package sandbox

import (
	"errors"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func asExitError(err error, target **exec.ExitError) bool {
	return errors.As(err, target)
}
