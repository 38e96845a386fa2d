// Package flasher implements chip.Session over the ESP32 ROM and stub serial
// protocol.
package flasher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartspin2k/ss2k-flasher/internal/chip"
	"github.com/smartspin2k/ss2k-flasher/internal/image"
	"github.com/smartspin2k/ss2k-flasher/internal/protocol"
	"github.com/smartspin2k/ss2k-flasher/internal/serial"
	"github.com/smartspin2k/ss2k-flasher/internal/slip"
)

const (
	defaultTimeout   = 3 * time.Second
	syncTimeout      = 100 * time.Millisecond
	readChunkTimeout = 100 * time.Millisecond

	connectAttempts = 3
	syncAttempts    = 5
)

var errTimeout = errors.New("timeout waiting for response")

// Port is the serial link a Session drives. *serial.Port implements it.
type Port interface {
	io.Writer
	ReadWithTimeout(buf []byte, timeout time.Duration) (int, error)
	SetBaudRate(baudRate int) error
	Flush() error
	ResetToBootloader() error
	HardReset() error
	Close() error
}

// Connector opens Sessions on serial ports. The stub image is resolved once
// and reused by every session it hands out.
type Connector struct {
	stubRef  image.Reference
	resolver *image.Resolver
	log      zerolog.Logger
	open     func(name string, baud int) (Port, error)

	mu   sync.Mutex
	stub *Stub
}

var _ chip.Connector = &Connector{}

// NewConnector returns a Connector that uploads the esptool-format stub
// found at stub.
func NewConnector(stub image.Reference, resolver *image.Resolver, log zerolog.Logger) *Connector {
	return &Connector{
		stubRef:  stub,
		resolver: resolver,
		log:      log,
		open:     openSerial,
	}
}

func openSerial(name string, baud int) (Port, error) {
	p, err := serial.Open(name, baud)
	if err != nil {
		return nil, err
	}

	return p, nil
}

// Connect opens port, resets the chip into its download mode and syncs with
// the ROM bootloader. Only ESP32 chips are accepted.
func (c *Connector) Connect(ctx context.Context, port string, baud int) (chip.Session, error) {
	p, err := c.open(port, baud)
	if err != nil {
		return nil, err
	}

	s := &Session{
		conn:      c,
		port:      p,
		baud:      baud,
		statusLen: protocol.ROMStatusLen,
		log:       c.log.With().Str("port", port).Logger(),
	}

	if err := s.connect(ctx); err != nil {
		p.Close()

		return nil, err
	}

	return s, nil
}

// Session is a live connection to one ESP32.
type Session struct {
	conn      *Connector
	port      Port
	dec       slip.Decoder
	baud      int
	stub      bool
	statusLen int
	log       zerolog.Logger
}

var _ chip.Session = &Session{}

func (s *Session) connect(ctx context.Context) error {
	var lastErr error

	for attempt := 0; attempt < connectAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.port.ResetToBootloader(); err != nil {
			return fmt.Errorf("failed to reset into bootloader: %w", err)
		}

		s.dec.Reset()

		if lastErr = s.sync(); lastErr == nil {
			break
		}

		s.log.Debug().Err(lastErr).Int("attempt", attempt+1).Msg("sync failed")
	}

	if lastErr != nil {
		return fmt.Errorf("failed to sync with bootloader: %w", lastErr)
	}

	magic, err := s.readReg(protocol.ChipDetectMagicReg)
	if err != nil {
		return fmt.Errorf("failed to read chip magic: %w", err)
	}

	if magic != protocol.ChipMagicESP32 {
		return fmt.Errorf("unexpected chip magic value 0x%08X, this is not an ESP32", magic)
	}

	return nil
}

// sync sends the SYNC command to establish communication.
func (s *Session) sync() error {
	frame := slip.Encode(protocol.NewRequest(protocol.CmdSync, protocol.SyncData()).Encode())

	for attempt := 0; attempt < syncAttempts; attempt++ {
		if _, err := s.port.Write(frame); err != nil {
			continue
		}

		resp, err := s.readResponse(protocol.CmdSync, syncTimeout)
		if err != nil || !resp.IsSuccess() {
			continue
		}

		// The ROM answers one SYNC with eight responses.
		for i := 0; i < 7; i++ {
			if _, err := s.readResponse(protocol.CmdSync, syncTimeout); err != nil {
				break
			}
		}

		return nil
	}

	return fmt.Errorf("sync failed after %d attempts", syncAttempts)
}

// sendCommand sends a command and waits for a successful response.
func (s *Session) sendCommand(req *protocol.Request, timeout time.Duration) (*protocol.Response, error) {
	name := protocol.CommandName(req.Command)

	if _, err := s.port.Write(slip.Encode(req.Encode())); err != nil {
		return nil, fmt.Errorf("write %s: %w", name, err)
	}

	resp, err := s.readResponse(req.Command, timeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	if !resp.IsSuccess() {
		return nil, fmt.Errorf("command %s failed: %s", name, resp.ErrorString())
	}

	return resp, nil
}

// readResponse returns the next response to cmd, skipping unrelated frames.
func (s *Session) readResponse(cmd byte, timeout time.Duration) (*protocol.Response, error) {
	deadline := time.Now().Add(timeout)

	for {
		frame, err := s.readFrame(time.Until(deadline))
		if err != nil {
			return nil, err
		}

		resp, err := protocol.DecodeResponse(frame, s.statusLen)
		if err != nil {
			s.log.Debug().Err(err).Msg("dropping undecodable frame")

			continue
		}

		if resp.Command == cmd {
			return resp, nil
		}

		s.log.Debug().Str("want", protocol.CommandName(cmd)).Str("got", protocol.CommandName(resp.Command)).Msg("dropping unrelated response")
	}
}

// readFrame returns the next complete SLIP frame received within timeout.
func (s *Session) readFrame(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 256)

	for {
		if frame, ok := s.dec.Next(); ok {
			return frame, nil
		}

		if !time.Now().Before(deadline) {
			return nil, errTimeout
		}

		n, err := s.port.ReadWithTimeout(buf, readChunkTimeout)
		if n > 0 {
			s.dec.Write(buf[:n])
		}

		if err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
	}
}

func (s *Session) readReg(addr uint32) (uint32, error) {
	resp, err := s.sendCommand(protocol.NewRequest(protocol.CmdReadReg, protocol.ReadRegData(addr)), defaultTimeout)
	if err != nil {
		return 0, err
	}

	return resp.Value, nil
}

func (s *Session) writeReg(addr, value uint32) error {
	_, err := s.sendCommand(protocol.NewRequest(protocol.CmdWriteReg, protocol.WriteRegData(addr, value)), defaultTimeout)

	return err
}

// ChangeBaud asks the chip to switch rates, then follows on the host side.
func (s *Session) ChangeBaud(rate int) error {
	var old uint32
	if s.stub {
		old = uint32(s.baud)
	}

	req := protocol.NewRequest(protocol.CmdChangeBaudrate, protocol.ChangeBaudData(uint32(rate), old))
	if _, err := s.sendCommand(req, defaultTimeout); err != nil {
		return err
	}

	if err := s.port.SetBaudRate(rate); err != nil {
		return err
	}

	// Let the chip settle on the new rate before talking to it.
	time.Sleep(50 * time.Millisecond)
	s.port.Flush()
	s.dec.Reset()

	s.log.Debug().Int("from", s.baud).Int("to", rate).Msg("baud rate changed")
	s.baud = rate

	return nil
}

// SetFlashParameters tells the chip the size of the attached flash.
func (s *Session) SetFlashParameters(size int) error {
	req := protocol.NewRequest(protocol.CmdSpiSetParams, protocol.SpiSetParamsData(uint32(size)))
	_, err := s.sendCommand(req, defaultTimeout)

	return err
}

// HardReset pulses EN so the chip boots from flash.
func (s *Session) HardReset() error {
	return s.port.HardReset()
}

// Close releases the serial port.
func (s *Session) Close() error {
	return s.port.Close()
}
