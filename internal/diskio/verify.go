package diskio

import (
	"fmt"
	"io"
)

// VerifyBootSignature reads the container's first logical sector through
// the Container interface and checks the 0x55AA boot signature at bytes
// 510-511 that every protective-MBR sector this pipeline writes (§4.5's
// layout engine) ends with. The orchestrator calls this on the freshly
// built VHD/IMG container so VhdContainer and RawContainer are exercised
// by the real pack path, not only by this package's own tests.
func VerifyBootSignature(c Container) error {
	if c.Capacity() < 512 {
		return fmt.Errorf("diskio: container capacity %d too small for an MBR sector", c.Capacity())
	}
	if _, err := c.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("diskio: seek to boot sector: %w", err)
	}
	sector := make([]byte, 512)
	if _, err := io.ReadFull(c, sector); err != nil {
		return fmt.Errorf("diskio: read boot sector: %w", err)
	}
	if sector[510] != 0x55 || sector[511] != 0xAA {
		return fmt.Errorf("diskio: missing boot signature 0x55AA at bytes 510-511")
	}
	return nil
}
