//go:build !windows

package doctor

import "os/exec"

// resetTerminal undoes a raw-mode device picker that exited without
// restoring the tty, so line-based prompts echo again.
func resetTerminal() {
	exec.Command("stty", "sane").Run()
}
