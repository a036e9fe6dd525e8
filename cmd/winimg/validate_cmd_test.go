package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFixture(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestCreateValidateCommandMetadata(t *testing.T) {
	cmd := createValidateCommand()
	if cmd.Use != "validate CONFIG_FILE" {
		t.Fatalf("unexpected Use: %q", cmd.Use)
	}
	if cmd.Args == nil {
		t.Fatalf("expected an Args validator")
	}
}

func TestExecuteValidateAcceptsWellFormedConfig(t *testing.T) {
	path := writeConfigFixture(t, `{"version":"11","arch":"x64","edition":"Professional","lang":"en-us"}`)

	cmd := createValidateCommand()
	if err := cmd.RunE(cmd, []string{path}); err != nil {
		t.Fatalf("expected valid config to pass, got: %v", err)
	}
}

func TestExecuteValidateRejectsURLWithoutPin(t *testing.T) {
	path := writeConfigFixture(t, `{"version":"11","arch":"x64","url":"https://example.invalid/x.esd"}`)

	cmd := createValidateCommand()
	if err := cmd.RunE(cmd, []string{path}); err == nil {
		t.Fatalf("expected url-without-sha1size to fail validation")
	}
}
