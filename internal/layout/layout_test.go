package layout

import (
	"path/filepath"
	"testing"
)

func TestDeclareBeforeCommitReturnsUnknownLBA(t *testing.T) {
	l := New()
	p := l.Declare("EFI system partition", TypeEFISystem, 300*1024*1024, 0)

	if _, err := p.StartLBA(); err == nil {
		t.Fatalf("expected StartLBA to fail before Commit")
	}
	if _, err := p.EndLBA(); err == nil {
		t.Fatalf("expected EndLBA to fail before Commit")
	}
}

func TestCommitSinglePartitionBackfillsLBAs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk.img")

	l := New()
	p := l.Declare("EFI system partition", TypeEFISystem, 64*1024*1024, 0)

	if err := l.Commit(path); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	start, err := p.StartLBA()
	if err != nil {
		t.Fatalf("StartLBA after commit: %v", err)
	}
	end, err := p.EndLBA()
	if err != nil {
		t.Fatalf("EndLBA after commit: %v", err)
	}
	if end <= start {
		t.Fatalf("expected end LBA (%d) > start LBA (%d)", end, start)
	}

	sizeBytes := (end - start + 1) * LogicalSectorSize
	if sizeBytes < 64*1024*1024 {
		t.Fatalf("partition too small: %d bytes", sizeBytes)
	}

	d, err := Disk(path)
	if err != nil {
		t.Fatalf("Disk: %v", err)
	}
	defer d.Close()
}

func TestCommitMultiplePartitionsAreOrderedAndNonOverlapping(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk.img")

	l := New()
	first := l.Declare("first", TypeEFISystem, 8*1024*1024, 0)
	second := l.Declare("second", TypeMicrosoftBasicData, 16*1024*1024, 0)

	if err := l.Commit(path); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	firstEnd, _ := first.EndLBA()
	secondStart, _ := second.StartLBA()
	if secondStart <= firstEnd {
		t.Fatalf("second partition (start %d) overlaps first (end %d)", secondStart, firstEnd)
	}
}

func TestCommitWithNoPartitionsFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.img")

	l := New()
	if err := l.Commit(path); err == nil {
		t.Fatalf("expected Commit with zero declared partitions to fail")
	}
}
