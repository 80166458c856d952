//go:build unix

package capture

import (
	"os/exec"
	"testing"
)

func TestDetachFromTerminal(t *testing.T) {
	cmd := exec.Command("true")
	detachFromTerminal(cmd)

	if cmd.SysProcAttr == nil || !cmd.SysProcAttr.Setpgid {
		t.Error("Expected recorder to run in its own process group")
	}
}
