package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rinb-project/winimg/internal/fatpop"
	"github.com/rinb-project/winimg/internal/layout"
)

func buildInspectFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "disk.img")

	srcDir := filepath.Join(dir, "src")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "bootmgr"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	l := layout.New()
	l.Declare("efi", layout.TypeMicrosoftBasicData, 32*1024*1024, 0)
	if err := l.Commit(path); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	d, err := layout.Disk(path)
	if err != nil {
		t.Fatalf("Disk: %v", err)
	}
	defer d.Close()
	fs, err := fatpop.Format(d, 1, "TESTVOL")
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if err := fatpop.Populate(fs, srcDir); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	return path
}

func TestExecuteInspectTextFormat(t *testing.T) {
	inspectFormat = "text"
	inspectPretty = false
	inspectFiles = true
	defer func() { inspectFormat = "text"; inspectFiles = false }()

	cmd := createInspectCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)

	if err := cmd.RunE(cmd, []string{buildInspectFixture(t)}); err != nil {
		t.Fatalf("RunE: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("expected non-empty text output")
	}
}

func TestExecuteInspectRejectsUnknownFormat(t *testing.T) {
	cmd := createInspectCommand()
	if err := cmd.Flags().Set("format", "xml"); err != nil {
		t.Fatalf("set format: %v", err)
	}
	if err := cmd.PreRunE(cmd, []string{"unused"}); err == nil {
		t.Fatalf("expected unknown format to fail PreRunE")
	}
}
