package fakes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/smartspin2k/ss2k-flasher/internal/chip"
)

// SessionConfig scripts the behaviour of a fake chip.
type SessionConfig struct {
	MAC            []byte
	MACErr         error
	Description    string
	DescriptionErr error
	Features       []string
	FeaturesErr    error

	FlashID uint32
	// FlashIDErr maps a baud rate to the error ReadFlashID returns at that rate.
	FlashIDErr map[int]error

	StubErr      error
	BaudErr      error
	SetParamsErr error
	// WriteErr maps a flash address to the error returned when writing it.
	WriteErr map[uint32]error
	ResetErr error
	CloseErr error
}

// Connector is a chip.Connector handing out fake sessions that share one call log.
type Connector struct {
	Config SessionConfig
	// ConnectErr is returned by every Connect call when set.
	ConnectErr error

	mu       sync.Mutex
	calls    []string
	sessions []*Session
}

var _ chip.Connector = &Connector{}

func (c *Connector) Connect(_ context.Context, port string, baud int) (chip.Session, error) {
	c.record(fmt.Sprintf("connect %s %d", port, baud))

	if c.ConnectErr != nil {
		return nil, c.ConnectErr
	}

	s := newSession(c.Config, c, baud)

	c.mu.Lock()
	c.sessions = append(c.sessions, s)
	c.mu.Unlock()

	return s, nil
}

// Calls returns the log of every call made on the connector and its sessions.
func (c *Connector) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.calls...)
}

// Count returns how many logged calls equal call.
func (c *Connector) Count(call string) int {
	n := 0

	for _, got := range c.Calls() {
		if got == call {
			n++
		}
	}

	return n
}

// Sessions returns every session handed out so far.
func (c *Connector) Sessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]*Session(nil), c.sessions...)
}

func (c *Connector) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, call)
}

// Session is a scripted chip.Session.
type Session struct {
	cfg     SessionConfig
	log     *Connector
	baud    int
	stubbed bool
	closed  bool

	// Written holds the bytes written per flash address.
	Written map[uint32][]byte
	// FlashSize is the last value passed to SetFlashParameters.
	FlashSize int
}

var _ chip.Session = &Session{}

// NewSession returns a standalone fake session at the default baud rate.
func NewSession(cfg SessionConfig) *Session {
	return newSession(cfg, &Connector{}, chip.DefaultBaudRate)
}

func newSession(cfg SessionConfig, log *Connector, baud int) *Session {
	if cfg.MAC == nil {
		cfg.MAC = []byte{0x24, 0x0A, 0xC4, 0x01, 0x02, 0x03}
	}

	if cfg.Description == "" {
		cfg.Description = "ESP32-D0WDQ6 (revision 1)"
	}

	if cfg.Features == nil {
		cfg.Features = []string{"WiFi", "BT", "Dual Core", "240MHz"}
	}

	if cfg.FlashID == 0 {
		cfg.FlashID = 0x1640EF
	}

	return &Session{cfg: cfg, log: log, baud: baud, Written: map[uint32][]byte{}}
}

// Baud returns the current baud rate of the session.
func (s *Session) Baud() int { return s.baud }

// Stubbed reports whether ActivateStub succeeded on the session.
func (s *Session) Stubbed() bool { return s.stubbed }

// Closed reports whether Close was called.
func (s *Session) Closed() bool { return s.closed }

func (s *Session) ReadMAC() ([]byte, error) {
	s.log.record("read_mac")

	return s.cfg.MAC, s.cfg.MACErr
}

func (s *Session) ReadDescription() (string, error) {
	s.log.record("read_description")

	return s.cfg.Description, s.cfg.DescriptionErr
}

func (s *Session) ReadFeatures() ([]string, error) {
	s.log.record("read_features")

	return s.cfg.Features, s.cfg.FeaturesErr
}

func (s *Session) ReadFlashID() (uint32, error) {
	s.log.record(fmt.Sprintf("flash_id %d", s.baud))

	if err := s.cfg.FlashIDErr[s.baud]; err != nil {
		return 0, err
	}

	return s.cfg.FlashID, nil
}

func (s *Session) ActivateStub(context.Context) (chip.Session, error) {
	s.log.record("stub")

	if s.cfg.StubErr != nil {
		return nil, s.cfg.StubErr
	}

	s.stubbed = true

	return s, nil
}

func (s *Session) ChangeBaud(rate int) error {
	s.log.record(fmt.Sprintf("baud %d", rate))

	if s.cfg.BaudErr != nil {
		return s.cfg.BaudErr
	}

	s.baud = rate

	return nil
}

func (s *Session) SetFlashParameters(size int) error {
	s.log.record(fmt.Sprintf("set_params %d", size))

	if s.cfg.SetParamsErr != nil {
		return s.cfg.SetParamsErr
	}

	s.FlashSize = size

	return nil
}

func (s *Session) Write(addr uint32, r io.Reader, opts chip.WriteOptions) error {
	s.log.record(fmt.Sprintf("write 0x%X", addr))

	if !s.stubbed {
		return errors.New("fake: write without stub")
	}

	if err := s.cfg.WriteErr[addr]; err != nil {
		return err
	}

	data, err := io.ReadAll(io.LimitReader(r, opts.Size))
	if err != nil {
		return err
	}

	s.Written[addr] = data

	if opts.Progress != nil {
		opts.Progress(opts.Name, int64(len(data)), opts.Size)
	}

	return nil
}

func (s *Session) HardReset() error {
	s.log.record("hard_reset")

	return s.cfg.ResetErr
}

func (s *Session) Close() error {
	s.log.record("close")
	s.closed = true

	return s.cfg.CloseErr
}
