//go:build unix

package capture

import (
	"os/exec"
	"syscall"
)

// detachFromTerminal moves the recorder into its own process group so that a
// Ctrl+C at the terminal reaches only this process. The recorder is then
// stopped through Stop, which lets it flush its trailer.
func detachFromTerminal(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
