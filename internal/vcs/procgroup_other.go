//go:build !unix

package vcs

import "os/exec"

// killGroupOnCancel is a no-op; WaitDelay bounds the wait instead.
func killGroupOnCancel(cmd *exec.Cmd) {}
