//go:build unix

package main

import (
	"os"
	"syscall"
)

var saveSignals = []os.Signal{syscall.SIGUSR1}
