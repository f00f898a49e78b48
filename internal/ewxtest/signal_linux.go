// SPDX-License-Identifier: MIT

//go:build linux

package ewxtest

import "syscall"

var processProbeSignal = syscall.Signal(0)
