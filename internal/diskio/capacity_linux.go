//go:build linux

package diskio

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

func isDevice(info os.FileInfo) bool {
	return info.Mode()&os.ModeDevice != 0
}

// blockDeviceSize probes a block device's byte capacity via the
// BLKGETSIZE64 ioctl, since os.FileInfo.Size() reports zero for device
// nodes.
func blockDeviceSize(f *os.File) (int64, error) {
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, errno
	}
	return int64(size), nil
}
