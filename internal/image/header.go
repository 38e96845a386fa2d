package image

import (
	"fmt"
	"io"
	"strings"

	"github.com/smartspin2k/ss2k-flasher/internal/flasherr"
)

// Magic is the first byte of every ESP32 application image.
const Magic = 0xE9

// headerSize is the number of bytes inspected at the start of an image.
const headerSize = 4

// FlashMode is the SPI flash access mode encoded in byte 2 of the image header.
type FlashMode byte

const (
	ModeQIO  FlashMode = 0
	ModeQOUT FlashMode = 1
	ModeDIO  FlashMode = 2
	ModeDOUT FlashMode = 3
)

var flashModes = map[FlashMode]string{
	ModeQIO:  "qio",
	ModeQOUT: "qout",
	ModeDIO:  "dio",
	ModeDOUT: "dout",
}

func (m FlashMode) String() string {
	if s, ok := flashModes[m]; ok {
		return s
	}

	return fmt.Sprintf("mode(0x%02X)", byte(m))
}

// FlashFreq is the SPI flash clock encoded in the low nibble of byte 3.
type FlashFreq byte

const (
	Freq40M FlashFreq = 0x0
	Freq26M FlashFreq = 0x1
	Freq20M FlashFreq = 0x2
	Freq80M FlashFreq = 0xF
)

var flashFreqs = map[FlashFreq]string{
	Freq40M: "40m",
	Freq26M: "26m",
	Freq20M: "20m",
	Freq80M: "80m",
}

func (f FlashFreq) String() string {
	if s, ok := flashFreqs[f]; ok {
		return s
	}

	return fmt.Sprintf("freq(0x%X)", byte(f))
}

// Hz renders the frequency for display, e.g. "80MHz".
func (f FlashFreq) Hz() string {
	return strings.ToUpper(f.String()) + "Hz"
}

// Header holds the flash parameters of a firmware image.
type Header struct {
	Mode FlashMode
	Freq FlashFreq
}

// ReadHeader reads the 4 header bytes at the current position of r and
// rewinds r to the start. The image is not otherwise interpreted.
func ReadHeader(r io.ReadSeeker) (Header, error) {
	buf := make([]byte, headerSize)
	_, readErr := io.ReadFull(r, buf)

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return Header{}, flasherr.Wrap(flasherr.InvalidImage, err, "The firmware binary could not be rewound")
	}

	if readErr != nil {
		return Header{}, flasherr.Wrap(flasherr.InvalidImage, readErr, "The firmware binary is invalid (header too short)")
	}

	if buf[0] != Magic {
		return Header{}, flasherr.New(flasherr.InvalidImage,
			"The firmware binary is invalid (magic byte=%02X, should be %02X)", buf[0], Magic).
			WithValue(buf[0])
	}

	mode := FlashMode(buf[2])
	if _, ok := flashModes[mode]; !ok {
		return Header{}, flasherr.New(flasherr.InvalidImage,
			"The firmware binary is invalid (unknown flash mode %02X)", buf[2]).
			WithValue(buf[2])
	}

	freq := FlashFreq(buf[3] & 0x0F)
	if _, ok := flashFreqs[freq]; !ok {
		return Header{}, flasherr.New(flasherr.InvalidImage,
			"The firmware binary is invalid (unknown flash frequency %X)", byte(freq)).
			WithValue(byte(freq))
	}

	return Header{Mode: mode, Freq: freq}, nil
}
