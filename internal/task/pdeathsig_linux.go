package task

import "syscall"

// setPdeathsig makes the kernel send SIGTERM to the worker if hlink dies.
// Only available on Linux.
func setPdeathsig(attr *syscall.SysProcAttr) {
	attr.Pdeathsig = syscall.SIGTERM
}
