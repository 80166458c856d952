//go:build !unix

package capture

import "os/exec"

func detachFromTerminal(cmd *exec.Cmd) {}
