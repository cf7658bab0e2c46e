//go:build unix && !linux

// File: cmd/aioctl/reuseport_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

const reusePortSupported = false

func setReusePort(int) error { return nil }
