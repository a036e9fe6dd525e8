package verify

import (
	"bytes"
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/rinb-project/winimg/internal/imgerr"
)

func sha1Hex(b []byte) string {
	h := sha1.Sum(b) //nolint:gosec
	return hex.EncodeToString(h[:])
}

func TestStreamSuccessWithSink(t *testing.T) {
	data := bytes.Repeat([]byte("a"), 1024)
	want := sha1Hex(data)

	dir := t.TempDir()
	sink := filepath.Join(dir, "out.bin")

	res, err := Stream(bytes.NewReader(data), sink, int64(len(data)), want, "test")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if res.SHA1Hex != want {
		t.Errorf("SHA1Hex = %s, want %s", res.SHA1Hex, want)
	}

	got, err := os.ReadFile(sink)
	if err != nil {
		t.Fatalf("read sink: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("sink contents mismatch")
	}
}

func TestStreamHashMismatch(t *testing.T) {
	data := []byte("hello world")
	_, err := Stream(bytes.NewReader(data), "", int64(len(data)), "0000000000000000000000000000000000000000", "test")
	var hmErr *imgerr.HashMismatchError
	if err == nil {
		t.Fatal("expected hash mismatch error")
	}
	if !isHashMismatch(err, &hmErr) {
		t.Errorf("error = %v, want *imgerr.HashMismatchError", err)
	}
}

func TestStreamSizeMismatch(t *testing.T) {
	data := []byte("short")
	_, err := Stream(bytes.NewReader(data), "", 999, sha1Hex(data), "test")
	var szErr *imgerr.SizeMismatchError
	if err == nil {
		t.Fatal("expected size mismatch error")
	}
	if !isSizeMismatch(err, &szErr) {
		t.Errorf("error = %v, want *imgerr.SizeMismatchError", err)
	}
}

func TestVerifyFileCorruptedByteRedetected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cached.esd")
	data := bytes.Repeat([]byte{0x42}, 4096)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	want := sha1Hex(data)

	if _, err := VerifyFile(path, int64(len(data)), want); err != nil {
		t.Fatalf("VerifyFile on good data: %v", err)
	}

	corrupted := append([]byte(nil), data...)
	corrupted[0] ^= 0xFF
	if err := os.WriteFile(path, corrupted, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := VerifyFile(path, int64(len(corrupted)), want); err == nil {
		t.Fatal("expected VerifyFile to detect corruption")
	}
}

func isHashMismatch(err error, target **imgerr.HashMismatchError) bool {
	e, ok := err.(*imgerr.HashMismatchError)
	if ok {
		*target = e
	}
	return ok
}

func isSizeMismatch(err error, target **imgerr.SizeMismatchError) bool {
	e, ok := err.(*imgerr.SizeMismatchError)
	if ok {
		*target = e
	}
	return ok
}
