// Package inspect opens a built output container (fixed VHD or raw IMG) and
// reports its GPT partition table and FAT32 contents, the read-side
// counterpart of internal/layout and internal/fatpop, narrowed to the
// single-partition GPT+FAT32 media this pipeline produces.
package inspect

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/partition/gpt"
)

// PartitionSummary describes one GPT partition as committed by
// internal/layout.Commit.
type PartitionSummary struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	GUID       string `json:"guid"`
	StartLBA   uint64 `json:"startLba"`
	EndLBA     uint64 `json:"endLba"`
	SizeBytes  uint64 `json:"sizeBytes"`
	Filesystem string `json:"filesystem,omitempty"`
	FileCount  int    `json:"fileCount,omitempty"`
}

// Summary is the report Inspect produces for one container file.
type Summary struct {
	File              string             `json:"file"`
	SHA256            string             `json:"sha256"`
	SizeBytes         int64              `json:"sizeBytes"`
	LogicalSectorSize int64              `json:"logicalSectorSize"`
	DiskGUID          string             `json:"diskGuid"`
	ProtectiveMBR     bool               `json:"protectiveMbr"`
	Partitions        []PartitionSummary `json:"partitions"`
	Files             []string           `json:"files,omitempty"`
}

// Inspect opens path — a raw IMG, or a fixed VHD whose trailing 512-byte
// footer diskfs simply never reads, since the GPT backup header it looks
// for sits well before it — and reports the GPT partition table plus, when
// listFiles is set, the file listing of the first partition table entry if
// it holds a filesystem diskfs can read.
func Inspect(path string, listFiles bool) (*Summary, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("inspect: stat %s: %w", path, err)
	}

	sha, err := sha256Of(path)
	if err != nil {
		return nil, err
	}

	d, err := diskfs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("inspect: open %s: %w", path, err)
	}
	defer d.Close()

	summary := &Summary{
		File:              path,
		SHA256:            sha,
		SizeBytes:         info.Size(),
		LogicalSectorSize: d.LogicalBlocksize,
	}

	table, err := d.GetPartitionTable()
	if err != nil {
		return nil, fmt.Errorf("inspect: read partition table: %w", err)
	}

	gptTable, ok := table.(*gpt.Table)
	if !ok {
		return nil, fmt.Errorf("inspect: %s does not carry a GPT partition table", path)
	}
	summary.DiskGUID = strings.ToUpper(gptTable.GUID)
	summary.ProtectiveMBR = gptTable.ProtectiveMBR

	for i, p := range gptTable.Partitions {
		if p.Start == 0 && p.End == 0 {
			continue
		}
		sizeBytes := (p.End - p.Start + 1) * uint64(d.LogicalBlocksize)
		ps := PartitionSummary{
			Index:     i + 1,
			Name:      p.Name,
			Type:      string(p.Type),
			GUID:      strings.ToUpper(p.GUID),
			StartLBA:  p.Start,
			EndLBA:    p.End,
			SizeBytes: sizeBytes,
		}

		if fs, ferr := d.GetFilesystem(i + 1); ferr == nil && fs != nil {
			ps.Filesystem = filesystemLabel(fs.Type())
			names, walkErr := listAllFiles(fs, "/")
			if walkErr == nil {
				ps.FileCount = len(names)
				if listFiles && i == 0 {
					summary.Files = names
				}
			}
		}

		summary.Partitions = append(summary.Partitions, ps)
	}

	sort.Slice(summary.Partitions, func(i, j int) bool {
		return summary.Partitions[i].StartLBA < summary.Partitions[j].StartLBA
	})

	return summary, nil
}

func filesystemLabel(t filesystem.Type) string {
	switch t {
	case filesystem.TypeFat32:
		return "fat32"
	case filesystem.TypeISO9660:
		return "iso9660"
	default:
		return fmt.Sprintf("type(%d)", t)
	}
}

// listAllFiles walks fs depth-first from dir, mirroring fatpop.copyTree's
// own traversal but reading instead of writing.
func listAllFiles(fs filesystem.FileSystem, dir string) ([]string, error) {
	entries, err := fs.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("inspect: readdir %s: %w", dir, err)
	}

	var out []string
	for _, e := range entries {
		full := dir + e.Name()
		if e.IsDir() {
			sub, err := listAllFiles(fs, full+"/")
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
			continue
		}
		out = append(out, full)
	}
	sort.Strings(out)
	return out, nil
}

func sha256Of(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("inspect: open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("inspect: hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
