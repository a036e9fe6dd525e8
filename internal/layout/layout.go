// Package layout builds a GPT-partitioned disk image for Windows install
// media: a protective MBR at LBA0 followed by a GPT table.
// Only the single-partition policy this pipeline requires is exercised; the
// historical multi-partition scheme (EFI+MSR+Primary+Recovery) is kept as
// named, unexercised constants, since multi-partition Windows target disks
// are out of scope here.
package layout

import (
	"fmt"
	"os"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/google/uuid"

	"github.com/rinb-project/winimg/internal/imgerr"
	"github.com/rinb-project/winimg/internal/logger"
)

const (
	// LogicalSectorSize is the block size every partition boundary is
	// computed against, matching mkwimg/src/lib.rs's Lb512 policy.
	LogicalSectorSize = 512
	// partAlignBytes is the alignment every partition's start LBA is padded
	// to, matching lib.rs's 1 MiB part_align.
	partAlignBytes = 1024 * 1024
)

// RecoveryAttributeFlag is the historical GPT partition attribute Windows
// used to mark a recovery partition. Multi-partition target disks are out
// of scope here, so no declared partition in this package ever sets it;
// kept named for a complete partition-type vocabulary.
const RecoveryAttributeFlag = 0x8000000000000001

// Type aliases the set of GPT partition type GUIDs this package can
// declare. MicrosoftReserved is carried for the same historical-vocabulary
// reason as RecoveryAttributeFlag above and is never used by Commit's
// current single-partition policy.
var (
	TypeEFISystem         = gpt.EFISystemPartition
	TypeMicrosoftReserved = gpt.MicrosoftReserved
	TypeMicrosoftBasicData = gpt.MicrosoftBasicData
)

// Partition is a two-phase declared/committed GPT partition, mirroring
// part.rs's SPartition: its start/end LBA are unknown (Cell::None) until
// the owning Layout is committed to disk.
type Partition struct {
	Name       string
	Type       gpt.Type
	SizeBytes  uint64
	Attributes uint64

	startLBA *uint64
	endLBA   *uint64
}

// StartLBA returns the partition's first LBA, set only after Commit.
func (p *Partition) StartLBA() (uint64, error) {
	if p.startLBA == nil {
		return 0, fmt.Errorf("layout: partition %q start unknown (not yet committed)", p.Name)
	}
	return *p.startLBA, nil
}

// EndLBA returns the partition's last (inclusive) LBA, set only after Commit.
func (p *Partition) EndLBA() (uint64, error) {
	if p.endLBA == nil {
		return 0, fmt.Errorf("layout: partition %q end not set (not yet committed)", p.Name)
	}
	return *p.endLBA, nil
}

// Layout accumulates declared partitions and commits them to disk as a
// single GPT write, in declaration order.
type Layout struct {
	partitions []*Partition
}

// New returns an empty Layout.
func New() *Layout {
	return &Layout{}
}

// Declare adds a partition to the layout, returning a handle whose
// StartLBA/EndLBA become valid after Commit.
func (l *Layout) Declare(name string, ptype gpt.Type, sizeBytes uint64, attributes uint64) *Partition {
	p := &Partition{Name: name, Type: ptype, SizeBytes: sizeBytes, Attributes: attributes}
	l.partitions = append(l.partitions, p)
	return p
}

// Commit creates (or truncates) the disk image at path sized to fit every
// declared partition plus alignment padding, writes a protective MBR + GPT
// table covering them in declaration order, and back-fills each
// Partition's Start/End LBA.
func (l *Layout) Commit(path string) error {
	log := logger.Logger()

	if len(l.partitions) == 0 {
		return fmt.Errorf("layout: commit: no partitions declared")
	}

	const sectorsPerAlign = partAlignBytes / LogicalSectorSize

	startLBA := uint64(sectorsPerAlign)
	gptPartitions := make([]*gpt.Partition, 0, len(l.partitions))
	for _, p := range l.partitions {
		sizeSectors := (p.SizeBytes + LogicalSectorSize - 1) / LogicalSectorSize
		endLBA := startLBA + sizeSectors - 1

		gptPartitions = append(gptPartitions, &gpt.Partition{
			Start:      startLBA,
			End:        endLBA,
			Type:       p.Type,
			Name:       p.Name,
			GUID:       uuid.New().String(),
			Attributes: p.Attributes,
		})

		s, e := startLBA, endLBA
		p.startLBA = &s
		p.endLBA = &e

		// Round the next partition's start up to the alignment boundary.
		startLBA = ((endLBA + 1 + sectorsPerAlign - 1) / sectorsPerAlign) * sectorsPerAlign
	}

	totalSize := int64((startLBA + sectorsPerAlign) * LogicalSectorSize)

	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("layout: remove existing %s: %w", path, err)
		}
	}
	disk, err := diskfs.Create(path, totalSize, diskfs.SectorSize(LogicalSectorSize))
	if err != nil {
		return fmt.Errorf("layout: create %s: %w", path, err)
	}
	defer disk.Close()

	table := &gpt.Table{
		LogicalSectorSize:  LogicalSectorSize,
		PhysicalSectorSize: LogicalSectorSize,
		ProtectiveMBR:      true,
		GUID:               uuid.New().String(),
		Partitions:         gptPartitions,
	}
	if err := disk.Partition(table); err != nil {
		return fmt.Errorf("layout: write partition table: %w", err)
	}

	if len(table.Partitions) != len(l.partitions) {
		return &imgerr.LayoutError{Want: len(l.partitions), Got: len(table.Partitions)}
	}

	log.Infof("layout: committed %s with %d partition(s)", path, len(l.partitions))
	return nil
}

// Disk reopens a committed image for filesystem population; the
// orchestrator calls this to hand the disk to the FAT32 populator.
func Disk(path string) (*diskfs.Disk, error) {
	d, err := diskfs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("layout: open %s: %w", path, err)
	}
	return d, nil
}
