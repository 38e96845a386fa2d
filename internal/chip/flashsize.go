package chip

import (
	"fmt"

	"github.com/smartspin2k/ss2k-flasher/internal/flasherr"
)

// FlashSize is the capacity of the SPI flash in bytes.
type FlashSize int

const (
	FlashSize256KB FlashSize = 256 * 1024
	FlashSize512KB FlashSize = 512 * 1024
	FlashSize1MB   FlashSize = 1024 * 1024
	FlashSize2MB   FlashSize = 2 * FlashSize1MB
	FlashSize4MB   FlashSize = 4 * FlashSize1MB
	FlashSize8MB   FlashSize = 8 * FlashSize1MB
	FlashSize16MB  FlashSize = 16 * FlashSize1MB
)

// DefaultFlashSize is assumed when the JEDEC capacity byte is not recognised.
const DefaultFlashSize = FlashSize4MB

// detectedFlashSizes maps the JEDEC capacity byte to a size bucket.
var detectedFlashSizes = map[byte]FlashSize{
	0x12: FlashSize256KB,
	0x13: FlashSize512KB,
	0x14: FlashSize1MB,
	0x15: FlashSize2MB,
	0x16: FlashSize4MB,
	0x17: FlashSize8MB,
	0x18: FlashSize16MB,
}

func (s FlashSize) String() string {
	if s >= FlashSize1MB && s%FlashSize1MB == 0 {
		return fmt.Sprintf("%dMB", s/FlashSize1MB)
	}

	return fmt.Sprintf("%dKB", s/1024)
}

// FlashSizeFromID returns the size bucket for a 24-bit JEDEC flash id.
func FlashSizeFromID(id uint32) FlashSize {
	if size, ok := detectedFlashSizes[byte(id>>16)]; ok {
		return size
	}

	return DefaultFlashSize
}

// DetectFlashSize reads the flash id from s and maps it to a size bucket.
func DetectFlashSize(s Session) (FlashSize, error) {
	id, err := s.ReadFlashID()
	if err != nil {
		return 0, flasherr.Wrap(flasherr.FlashSizeDetectFailed, err, "Reading flash size failed")
	}

	return FlashSizeFromID(id), nil
}
