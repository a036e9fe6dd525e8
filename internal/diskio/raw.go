package diskio

import (
	"fmt"
	"io"
	"os"
)

// RawContainer is a Container backed directly by a regular file or a block
// device, with no footer of its own — the raw IMG output format of
// the raw IMG container path.
type RawContainer struct {
	file     *os.File
	capacity int64
}

// CreateRawFile creates (or truncates) a regular file at path sized to
// sizeBytes.
func CreateRawFile(path string, sizeBytes int64) (*RawContainer, error) {
	if sizeBytes <= 0 {
		return nil, fmt.Errorf("diskio: raw image size must be positive")
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("diskio: create %s: %w", path, err)
	}
	if err := f.Truncate(sizeBytes); err != nil {
		f.Close()
		return nil, fmt.Errorf("diskio: truncate %s: %w", path, err)
	}
	return &RawContainer{file: f, capacity: sizeBytes}, nil
}

// OpenRawTarget opens path for read/write. When path names a block device,
// its capacity is probed via the platform's raw-device ioctl rather than
// assumed equal to stat's (meaningless, for a device node) file size.
func OpenRawTarget(path string) (*RawContainer, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("diskio: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	var capacity int64
	if isDevice(info) {
		capacity, err = blockDeviceSize(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("diskio: probe capacity of device %s: %w", path, err)
		}
	} else {
		capacity = info.Size()
	}

	return &RawContainer{file: f, capacity: capacity}, nil
}

func (r *RawContainer) Capacity() int64 { return r.capacity }

func (r *RawContainer) Read(p []byte) (int, error) {
	return r.file.Read(p)
}

func (r *RawContainer) Write(p []byte) (int, error) {
	return r.file.Write(p)
}

func (r *RawContainer) Seek(offset int64, whence int) (int64, error) {
	return r.file.Seek(offset, whence)
}

func (r *RawContainer) Close() error {
	return r.file.Close()
}

var _ io.ReadWriteSeeker = (*RawContainer)(nil)
