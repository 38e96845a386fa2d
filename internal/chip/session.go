// Package chip describes the target device and the capability the flasher
// needs from a chip-control transport.
//
// The orchestrator only talks to these interfaces. The serial adapter lives in
// package flasher; tests use the fakes in internal/test/fakes.
package chip

import (
	"context"
	"io"

	"github.com/smartspin2k/ss2k-flasher/internal/protocol"
)

// DefaultBaudRate is the rate the ROM bootloader handshakes at.
const DefaultBaudRate = protocol.ROMBaudRate

// ProgressFunc reports write progress of one region in bytes.
type ProgressFunc func(region string, written, total int64)

// WriteOptions control a single region write.
type WriteOptions struct {
	// Name labels the region for progress reporting.
	Name string
	// Size is the number of bytes to take from the stream.
	Size int64
	// Compress sends the region deflated to the stub.
	Compress bool
	// Verify reads back an MD5 of the region after writing.
	Verify bool
	// Progress, if set, is called after every block.
	Progress ProgressFunc
}

// Connector opens sessions to a chip on a serial port.
type Connector interface {
	// Connect opens port at baud and performs the ROM handshake without
	// uploading a stub.
	Connect(ctx context.Context, port string, baud int) (Session, error)
}

// Session is a live connection to one chip. It is not safe for concurrent use.
type Session interface {
	ReadMAC() ([]byte, error)
	ReadDescription() (string, error)
	ReadFeatures() ([]string, error)
	// ReadFlashID returns the 24-bit JEDEC id of the attached SPI flash.
	ReadFlashID() (uint32, error)

	// ActivateStub uploads and starts the RAM flashing agent and returns the
	// stubbed session. The receiver must not be used afterwards.
	ActivateStub(ctx context.Context) (Session, error)
	ChangeBaud(rate int) error
	SetFlashParameters(size int) error
	Write(addr uint32, r io.Reader, opts WriteOptions) error
	HardReset() error

	// Close releases the port. Errors are for logging only.
	Close() error
}
