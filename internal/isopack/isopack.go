// Package isopack packs a staging directory tree into a bootable El Torito
// ISO 9660 image with dual BIOS (etfsboot.com) and UEFI (efisys.bin)
// no-emulation boot entries.
package isopack

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/filesystem/iso9660"

	"github.com/rinb-project/winimg/internal/logger"
)

const sectorSize = 2048

// Windows install media's fixed boot-file locations, matching the layout
// every retail Windows ISO ships under.
const (
	BIOSBootImage = "boot/etfsboot.com"
	UEFIBootImage = "efi/microsoft/boot/efisys.bin"
	// biosLoadSize is the El Torito load size, in 512-byte sectors, for the
	// no-emulation BIOS boot image: etfsboot.com is always loaded as 4
	// sectors, matching every retail Windows boot catalog.
	biosLoadSize = 4
	// maxBasenameLen is the longest basename the ISO encoder handles
	// reliably for non-Joliet names; longer names are skipped rather than
	// risk a malformed directory record.
	maxBasenameLen = 32
)

// Options controls the packed volume's identity.
type Options struct {
	VolumeLabel string
}

// Pack walks stagingDir and writes a bootable ISO 9660 image to outPath.
// It requires stagingDir to contain both BIOSBootImage and UEFIBootImage:
// this packer always produces dual-boot Windows media, never BIOS-only or
// UEFI-only output.
func Pack(stagingDir, outPath string, opts Options) error {
	log := logger.Logger()

	if _, err := os.Stat(filepath.Join(stagingDir, BIOSBootImage)); err != nil {
		return fmt.Errorf("isopack: %s missing BIOS boot image %s: %w", stagingDir, BIOSBootImage, err)
	}
	if _, err := os.Stat(filepath.Join(stagingDir, UEFIBootImage)); err != nil {
		return fmt.Errorf("isopack: %s missing UEFI boot image %s: %w", stagingDir, UEFIBootImage, err)
	}

	size, err := estimateISOSize(stagingDir)
	if err != nil {
		return err
	}

	_ = os.Remove(outPath)
	d, err := diskfs.Create(outPath, size, diskfs.SectorSize(sectorSize))
	if err != nil {
		return fmt.Errorf("isopack: create %s: %w", outPath, err)
	}

	fs, err := d.CreateFilesystem(disk.FilesystemSpec{
		Partition:   0,
		FSType:      filesystem.TypeISO9660,
		VolumeLabel: opts.VolumeLabel,
	})
	if err != nil {
		return fmt.Errorf("isopack: create iso9660 filesystem: %w", err)
	}
	isoFS, ok := fs.(*iso9660.FileSystem)
	if !ok {
		return fmt.Errorf("isopack: created filesystem is not iso9660")
	}

	if err := copyTreeToISO(isoFS, stagingDir, "/"); err != nil {
		return err
	}

	finalizeOptions := iso9660.FinalizeOptions{
		RockRidge:        true,
		VolumeIdentifier: opts.VolumeLabel,
		ElTorito: &iso9660.ElTorito{
			BootCatalog: "boot.catalog",
			Entries: []*iso9660.ElToritoEntry{
				{
					Platform:  iso9660.BIOS,
					Emulation: iso9660.NoEmulation,
					BootFile:  BIOSBootImage,
					LoadSize:  biosLoadSize,
				},
				{
					Platform:  iso9660.EFI,
					Emulation: iso9660.NoEmulation,
					BootFile:  UEFIBootImage,
				},
			},
		},
	}
	if err := isoFS.Finalize(finalizeOptions); err != nil {
		return fmt.Errorf("isopack: finalize: %w", err)
	}

	log.Infof("isopack: wrote %s from %s", outPath, stagingDir)
	return nil
}

func estimateISOSize(stagingDir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(stagingDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += ((info.Size() + sectorSize - 1) / sectorSize) * sectorSize
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("isopack: estimate size: %w", err)
	}
	// Directory records, path tables, and the boot catalog sector; pad
	// generously rather than tracking iso9660's exact overhead.
	total += 64 * 1024 * 1024
	return ((total + sectorSize - 1) / sectorSize) * sectorSize, nil
}

func copyTreeToISO(isoFS *iso9660.FileSystem, srcDir, dstDir string) error {
	log := logger.Logger()

	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("isopack: read dir %s: %w", srcDir, err)
	}

	for _, e := range entries {
		srcPath := filepath.Join(srcDir, e.Name())
		dstPath := filepath.ToSlash(filepath.Join(dstDir, e.Name()))

		if e.IsDir() {
			if err := isoFS.Mkdir(dstPath); err != nil {
				return fmt.Errorf("isopack: mkdir %s: %w", dstPath, err)
			}
			if err := copyTreeToISO(isoFS, srcPath, dstPath); err != nil {
				return err
			}
			continue
		}

		if len(e.Name()) > maxBasenameLen {
			log.Infof("isopack: skipping %s (basename exceeds %d chars)", srcPath, maxBasenameLen)
			continue
		}

		if err := copyFileToISO(isoFS, srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFileToISO(isoFS *iso9660.FileSystem, srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("isopack: open %s: %w", srcPath, err)
	}
	defer src.Close()

	dst, err := isoFS.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY)
	if err != nil {
		return fmt.Errorf("isopack: create %s: %w", dstPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("isopack: write %s: %w", dstPath, err)
	}
	return nil
}
