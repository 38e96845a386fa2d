package flasher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/smartspin2k/ss2k-flasher/internal/chip"
	"github.com/smartspin2k/ss2k-flasher/internal/protocol"
)

// DefaultStub is the esptool ESP32 flasher stub.
const DefaultStub = "https://raw.githubusercontent.com/espressif/esptool/v4.7.0/esptool/targets/stub_flasher/stub_flasher_32.json"

const stubGreetingTimeout = time.Second

var stubGreeting = []byte("OHAI")

// Stub is a RAM flashing agent in the esptool JSON layout. Text and Data
// are base64 in the file.
type Stub struct {
	Entry     uint32 `json:"entry"`
	Text      []byte `json:"text"`
	TextStart uint32 `json:"text_start"`
	Data      []byte `json:"data"`
	DataStart uint32 `json:"data_start"`
}

// ParseStub decodes an esptool stub image.
func ParseStub(r io.Reader) (*Stub, error) {
	var st Stub

	if err := json.NewDecoder(r).Decode(&st); err != nil {
		return nil, fmt.Errorf("failed to parse stub image: %w", err)
	}

	if len(st.Text) == 0 || st.Entry == 0 {
		return nil, errors.New("stub image has no text segment or entry point")
	}

	return &st, nil
}

func (c *Connector) loadStub(ctx context.Context) (*Stub, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stub != nil {
		return c.stub, nil
	}

	if c.stubRef == nil {
		return nil, errors.New("no stub image configured")
	}

	r, err := c.resolver.Resolve(ctx, c.stubRef)
	if err != nil {
		return nil, err
	}

	if closer, ok := r.(io.Closer); ok {
		defer closer.Close()
	}

	st, err := ParseStub(r)
	if err != nil {
		return nil, err
	}

	c.log.Debug().Str("stub", c.stubRef.String()).Int("text", len(st.Text)).Int("data", len(st.Data)).Msg("stub loaded")
	c.stub = st

	return st, nil
}

// ActivateStub uploads the stub to RAM, jumps to it and attaches the SPI flash.
func (s *Session) ActivateStub(ctx context.Context) (chip.Session, error) {
	if s.stub {
		return s, nil
	}

	st, err := s.conn.loadStub(ctx)
	if err != nil {
		return nil, err
	}

	segments := []struct {
		data []byte
		addr uint32
	}{
		{st.Text, st.TextStart},
		{st.Data, st.DataStart},
	}

	for _, seg := range segments {
		if len(seg.data) == 0 {
			continue
		}

		if err := s.memUpload(seg.data, seg.addr); err != nil {
			return nil, fmt.Errorf("failed to upload stub segment at 0x%08X: %w", seg.addr, err)
		}
	}

	req := protocol.NewRequest(protocol.CmdMemEnd, protocol.MemEndData(st.Entry))
	if _, err := s.sendCommand(req, defaultTimeout); err != nil {
		return nil, err
	}

	if err := s.awaitGreeting(); err != nil {
		return nil, err
	}

	s.stub = true
	s.statusLen = protocol.StubStatusLen

	attach := protocol.NewRequest(protocol.CmdSpiAttach, protocol.SpiAttachData(true))
	if _, err := s.sendCommand(attach, defaultTimeout); err != nil {
		return nil, fmt.Errorf("failed to attach SPI flash: %w", err)
	}

	s.log.Debug().Msg("stub running")

	return s, nil
}

func (s *Session) memUpload(data []byte, addr uint32) error {
	blocks := protocol.CalculateBlocks(len(data), protocol.RAMBlockSize)

	begin := protocol.BeginData(uint32(len(data)), blocks, protocol.RAMBlockSize, addr)
	if _, err := s.sendCommand(protocol.NewRequest(protocol.CmdMemBegin, begin), defaultTimeout); err != nil {
		return err
	}

	for seq := uint32(0); seq < blocks; seq++ {
		start := int(seq) * protocol.RAMBlockSize
		end := min(start+protocol.RAMBlockSize, len(data))

		if _, err := s.sendCommand(protocol.NewDataRequest(protocol.CmdMemData, data[start:end], seq), defaultTimeout); err != nil {
			return err
		}
	}

	return nil
}

func (s *Session) awaitGreeting() error {
	deadline := time.Now().Add(stubGreetingTimeout)

	for {
		frame, err := s.readFrame(time.Until(deadline))
		if err != nil {
			return fmt.Errorf("stub did not start: %w", err)
		}

		if bytes.Equal(frame, stubGreeting) {
			return nil
		}
	}
}
