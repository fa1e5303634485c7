//go:build !unix

package procmon

import (
	"os"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

func killProcessGroup(p *os.Process) error {
	return p.Kill()
}
