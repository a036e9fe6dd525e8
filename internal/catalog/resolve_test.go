package catalog

import (
	"testing"

	"github.com/rinb-project/winimg/internal/config"
	"github.com/rinb-project/winimg/internal/imgerr"
)

func sampleFiles() []FileInfo {
	return []FileInfo{
		{FileName: "Win11_English_x64.esd", LanguageCode: "en-us", Edition: "Professional", Architecture: "x64", Size: 100, SHA1: "aaaa"},
		{FileName: "Win11_English_arm64.esd", LanguageCode: "en-us", Edition: "Professional", Architecture: "arm64", Size: 200, SHA1: "bbbb"},
		{FileName: "Win11_English_x64_Home.esd", LanguageCode: "en-us", Edition: "Home", Architecture: "x64", Size: 300, SHA1: "cccc"},
	}
}

func TestResolveUniqueMatch(t *testing.T) {
	fi, err := Resolve(sampleFiles(), "en-us", "Professional", config.ArchAMD64)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if fi.SHA1 != "aaaa" {
		t.Errorf("resolved SHA1 = %q, want aaaa", fi.SHA1)
	}
}

func TestResolveNoMatch(t *testing.T) {
	_, err := Resolve(sampleFiles(), "fr-fr", "Professional", config.ArchAMD64)
	var want *imgerr.NoMatchError
	if err == nil {
		t.Fatal("expected NoMatchError")
	}
	if _, ok := err.(*imgerr.NoMatchError); !ok {
		t.Errorf("error = %T, want %T", err, want)
	}
}

func TestResolveAmbiguous(t *testing.T) {
	files := sampleFiles()
	files = append(files, FileInfo{LanguageCode: "en-us", Edition: "Professional", Architecture: "x64", SHA1: "dddd"})

	_, err := Resolve(files, "en-us", "Professional", config.ArchAMD64)
	if _, ok := err.(*imgerr.AmbiguousError); !ok {
		t.Errorf("error = %T, want *imgerr.AmbiguousError", err)
	}
}

func TestReconcilePinMismatch(t *testing.T) {
	fi := FileInfo{SHA1: "aaaa", Size: 100}
	if err := ReconcilePin(fi, "bbbb", 100); err == nil {
		t.Fatal("expected pin conflict")
	}
	if err := ReconcilePin(fi, "AAAA", 100); err != nil {
		t.Errorf("expected case-insensitive match to succeed, got %v", err)
	}
}
