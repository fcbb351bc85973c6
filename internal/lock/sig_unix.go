//go:build !windows

package lock

import "syscall"

// syscallSig0 returns the zero-signal used purely for process-liveness
// probing (os.Process.Signal(syscall.Signal(0))).
func syscallSig0() syscall.Signal { return syscall.Signal(0) }
