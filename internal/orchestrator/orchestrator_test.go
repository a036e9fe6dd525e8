package orchestrator

import (
	"bytes"
	"compress/flate"
	"crypto/sha1" //nolint:gosec // matching the catalog's own published-hash verification, not a security boundary
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/diskfs/go-diskfs"

	"github.com/rinb-project/winimg/internal/wim"
)

func TestParseOutType(t *testing.T) {
	cases := map[string]OutType{"iso": ISO, "ISO": ISO, "vhd": VHD, "Vhd": VHD, "img": IMG}
	for in, want := range cases {
		got, err := ParseOutType(in)
		if err != nil {
			t.Fatalf("ParseOutType(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseOutType(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseOutType("vmdk"); err == nil {
		t.Fatalf("expected ParseOutType to reject an unknown type")
	}
}

// buildTestCab constructs a minimal single-folder, single-file MSZIP CAB
// archive holding the given products.xml payload, matching the shape
// internal/catalog's own extractor expects.
func buildTestCab(t *testing.T, payload []byte) []byte {
	t.Helper()

	var deflated bytes.Buffer
	zw, err := flate.NewWriter(&deflated, flate.DefaultCompression)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := zw.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	cfdataPayload := append([]byte("CK"), deflated.Bytes()...)

	const headerLen = 36
	const folderLen = 8
	fileNameBytes := append([]byte("products.xml"), 0)
	fileEntryLen := 16 + len(fileNameBytes)
	cfdataHeaderLen := 8
	cfdataOffset := headerLen + folderLen
	fileOffset := cfdataOffset + cfdataHeaderLen + len(cfdataPayload)

	buf := make([]byte, fileOffset+fileEntryLen)
	copy(buf[0:4], "MSCF")
	binary.LittleEndian.PutUint32(buf[16:20], uint32(fileOffset))
	binary.LittleEndian.PutUint16(buf[26:28], 1)
	binary.LittleEndian.PutUint16(buf[28:30], 1)
	binary.LittleEndian.PutUint16(buf[30:32], 0)

	binary.LittleEndian.PutUint32(buf[headerLen:headerLen+4], uint32(cfdataOffset))
	binary.LittleEndian.PutUint16(buf[headerLen+4:headerLen+6], 1)
	binary.LittleEndian.PutUint16(buf[headerLen+6:headerLen+8], 1) // compressTypeMSZIP

	binary.LittleEndian.PutUint16(buf[cfdataOffset+4:cfdataOffset+6], uint16(len(cfdataPayload)))
	binary.LittleEndian.PutUint16(buf[cfdataOffset+6:cfdataOffset+8], uint16(len(payload)))
	copy(buf[cfdataOffset+8:], cfdataPayload)

	binary.LittleEndian.PutUint32(buf[fileOffset:fileOffset+4], uint32(len(payload)))
	copy(buf[fileOffset+16:], fileNameBytes)

	return buf
}

// buildTestESD writes a minimal archive with the image indices the
// pipeline's selectors require: base (1), WinPE (2), Setup (3), and one
// install edition (4).
func buildTestESD(t *testing.T, path string) {
	t.Helper()

	images := []wim.ImageSource{
		{Index: 1, Properties: map[string]string{"NAME": "Windows Setup Media"}, Open: staticSource([]byte{})},
		{Index: 2, Boot: true, Properties: map[string]string{"FLAGS": "9", "WINDOWS/EDITIONID": "WindowsPE"}, Open: staticSource([]byte("winpe"))},
		{Index: 3, Boot: true, Properties: map[string]string{"FLAGS": "2", "WINDOWS/EDITIONID": "WindowsPE"}, Open: staticSource([]byte("setup"))},
		{Index: 4, Properties: map[string]string{"WINDOWS/EDITIONID": "Professional"}, Open: staticSource([]byte("install payload"))},
	}
	if err := wim.Write(images, path, wim.WriteOptions{Compressor: wim.LZX}); err != nil {
		t.Fatalf("wim.Write: %v", err)
	}
}

func staticSource(b []byte) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
}

func TestRunBuildsRawImage(t *testing.T) {
	root := t.TempDir()

	esdPath := filepath.Join(root, "source.esd")
	buildTestESD(t, esdPath)
	esdBytes, err := os.ReadFile(esdPath)
	if err != nil {
		t.Fatalf("ReadFile esd: %v", err)
	}
	sum := sha1.Sum(esdBytes) //nolint:gosec
	sha1hex := hex.EncodeToString(sum[:])

	productsXML := fmt.Sprintf(`<MCT><Files><File>
		<FileName>Win11_English_x64.esd</FileName>
		<LanguageCode>en-us</LanguageCode>
		<Language>English</Language>
		<Edition>Professional</Edition>
		<Architecture>x64</Architecture>
		<Size>%d</Size>
		<Sha1>%s</Sha1>
		<FilePath>https://example.invalid/Win11_English_x64.esd</FilePath>
	</File></Files></MCT>`, len(esdBytes), sha1hex)

	cab := buildTestCab(t, []byte(productsXML))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(cab)
	}))
	defer srv.Close()

	cacheDir := filepath.Join(root, "cache")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		t.Fatalf("MkdirAll cacheDir: %v", err)
	}
	// Pre-seed the cache with the resolved ESD under its deterministic name
	// so Resolve hits the cache instead of downloading from FilePath.
	cachedName := fmt.Sprintf("Win11_English_x64-en-us-Professional-x64-%s.esd", sha1hex)
	if err := os.WriteFile(filepath.Join(cacheDir, cachedName), esdBytes, 0o644); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	configPath := filepath.Join(root, "build.json")
	configJSON := `{"version":"11","arch":"x64","edition":"Professional","lang":"en-us"}`
	if err := os.WriteFile(configPath, []byte(configJSON), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	outPath := filepath.Join(root, "out.img")
	opts := Options{
		ConfigPath:       configPath,
		OutPath:          outPath,
		Type:             IMG,
		CachePath:        cacheDir,
		Compressor:       wim.LZX,
		NThreads:         1,
		MaxFileSizeBytes: 1 << 30,
		CatalogEndpoint: func(version string) string {
			return srv.URL
		},
	}

	if err := Run(opts); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := os.Stat(outPath); err != nil {
		t.Fatalf("expected output image at %s: %v", outPath, err)
	}
	lockPath := configPath // LockPath inserts ".lock" before first "."
	_ = lockPath

	d, err := diskfs.Open(outPath)
	if err != nil {
		t.Fatalf("diskfs.Open: %v", err)
	}
	defer d.Close()
	fs, err := d.GetFilesystem(1)
	if err != nil {
		t.Fatalf("GetFilesystem: %v", err)
	}
	if _, err := fs.OpenFile("/sources/install.esd", os.O_RDONLY); err != nil {
		t.Fatalf("expected sources/install.esd on the populated partition: %v", err)
	}
}
