// Package fatpop formats the EFI System Partition as FAT32 and mirrors a
// local staging directory into it.
package fatpop

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/schollz/progressbar/v3"

	"github.com/rinb-project/winimg/internal/logger"
)

const (
	clusterSize         = 32 * 1024
	dirEntrySize        = 32
	lfnCharsPerEntry    = 13
	copyBufferSize      = 4 * 1024 * 1024
	progressRefreshSize = 8 * 1024 * 1024
)

// EstimateSize walks dirPath and returns the FAT32 volume size needed to
// hold it: every file rounds up to a whole number of 32 KiB clusters, and
// every entry (file or directory) pays for its long-filename directory
// entries, mirroring dir2fatsize's accounting.
func EstimateSize(dirPath string) (uint64, error) {
	var total uint64

	var walk func(path string) error
	walk = func(path string) error {
		entries, err := os.ReadDir(path)
		if err != nil {
			return fmt.Errorf("fatpop: read dir %s: %w", path, err)
		}
		for _, e := range entries {
			nameLen := len(e.Name())
			lfnEntries := uint64((nameLen + lfnCharsPerEntry - 1) / lfnCharsPerEntry)
			entryOverhead := dirEntrySize + lfnEntries*dirEntrySize

			if e.IsDir() {
				total += dirEntrySize + entryOverhead
				if err := walk(filepath.Join(path, e.Name())); err != nil {
					return err
				}
				continue
			}
			info, err := e.Info()
			if err != nil {
				return fmt.Errorf("fatpop: stat %s: %w", filepath.Join(path, e.Name()), err)
			}
			clusters := (uint64(info.Size()) + clusterSize - 1) / clusterSize
			total += clusters*clusterSize + entryOverhead
		}
		return nil
	}

	if err := walk(dirPath); err != nil {
		return 0, err
	}
	return total, nil
}

// Format creates a FAT32 filesystem on the given partition of d.
func Format(d *disk.Disk, partitionNumber int, volumeLabel string) (filesystem.FileSystem, error) {
	fs, err := d.CreateFilesystem(disk.FilesystemSpec{
		Partition:   partitionNumber,
		FSType:      filesystem.TypeFat32,
		VolumeLabel: volumeLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("fatpop: format partition %d as fat32: %w", partitionNumber, err)
	}
	return fs, nil
}

// Populate mirrors every file and directory under srcDir into fs, reporting
// copy progress the way the verified-download stream does.
func Populate(fs filesystem.FileSystem, srcDir string) error {
	log := logger.Logger()

	totalBytes, err := sizeOnDisk(srcDir)
	if err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	if totalBytes > 0 {
		bar = progressbar.DefaultBytes(totalBytes, "writing dir to FAT32")
	}

	if err := copyTree(fs, srcDir, "/", bar); err != nil {
		return err
	}
	if bar != nil {
		_ = bar.Finish()
	}
	log.Infof("fatpop: populated %s", srcDir)
	return nil
}

func sizeOnDisk(dirPath string) (int64, error) {
	var total int64
	var walk func(path string) error
	walk = func(path string) error {
		entries, err := os.ReadDir(path)
		if err != nil {
			return err
		}
		for _, e := range entries {
			full := filepath.Join(path, e.Name())
			if e.IsDir() {
				if err := walk(full); err != nil {
					return err
				}
				continue
			}
			info, err := e.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	}
	return total, walk(dirPath)
}

func copyTree(fs filesystem.FileSystem, srcDir, dstDir string, bar *progressbar.ProgressBar) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("fatpop: read dir %s: %w", srcDir, err)
	}

	for _, e := range entries {
		srcPath := filepath.Join(srcDir, e.Name())
		dstPath := filepath.ToSlash(filepath.Join(dstDir, e.Name()))

		if e.IsDir() {
			if err := fs.Mkdir(dstPath); err != nil {
				return fmt.Errorf("fatpop: mkdir %s: %w", dstPath, err)
			}
			if err := copyTree(fs, srcPath, dstPath, bar); err != nil {
				return err
			}
			continue
		}

		if err := copyFile(fs, srcPath, dstPath, bar); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(fs filesystem.FileSystem, srcPath, dstPath string, bar *progressbar.ProgressBar) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("fatpop: open %s: %w", srcPath, err)
	}
	defer src.Close()

	dst, err := fs.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY)
	if err != nil {
		return fmt.Errorf("fatpop: create %s: %w", dstPath, err)
	}
	defer dst.Close()

	buf := make([]byte, copyBufferSize)
	var sinceProgress int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("fatpop: write %s: %w", dstPath, werr)
			}
			if bar != nil {
				sinceProgress += int64(n)
				if sinceProgress >= progressRefreshSize {
					_ = bar.Add64(sinceProgress)
					sinceProgress = 0
				}
			}
		}
		if rerr == io.EOF {
			if bar != nil && sinceProgress > 0 {
				_ = bar.Add64(sinceProgress)
			}
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("fatpop: read %s: %w", srcPath, rerr)
		}
	}
}
