//go:build unix

package procmon

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// sysProcAttr puts every child in its own process group so that a hard kill also
// takes down anything it forked.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(p *os.Process) error {
	if err := unix.Kill(-p.Pid, unix.SIGKILL); err == nil {
		return nil
	}
	return p.Kill()
}
