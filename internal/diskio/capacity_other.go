//go:build !linux

package diskio

import (
	"fmt"
	"os"
)

func isDevice(info os.FileInfo) bool {
	return info.Mode()&os.ModeDevice != 0
}

// blockDeviceSize has no portable implementation outside Linux's
// BLKGETSIZE64 ioctl; raw block-device targets are a Linux-only feature.
// Regular-file raw targets work on every platform via OpenRawTarget's
// stat-size fallback.
func blockDeviceSize(f *os.File) (int64, error) {
	return 0, fmt.Errorf("diskio: raw block-device capacity probing is only supported on linux")
}
