//go:build !unix

package services

import "os/exec"

// killProcessGroup is a no-op where process groups are unavailable; WaitDelay
// still bounds the wait.
func killProcessGroup(*exec.Cmd) {}
