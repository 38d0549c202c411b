// Package boardinfo answers the System/Board introspection request
// with a descriptor of the host the fabric is running on, standing in
// for the hardcoded Arduino board name strings of the original
// per-device manifestos.
package boardinfo

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/host"
)

// Describe returns a short host descriptor ("platform version (arch)")
// bounded to the 42-char manifesto-class-description budget. On any
// gopsutil failure it falls back to a fixed placeholder so System/Board
// always answers something.
func Describe() string {
	info, err := host.Info()
	if err != nil {
		return fallback()
	}
	s := fmt.Sprintf("%s %s (%s)", info.Platform, info.PlatformVersion, info.KernelArch)
	if len(s) > 42 {
		s = s[:42]
	}
	return s
}

func fallback() string {
	return "unknown-host"
}
