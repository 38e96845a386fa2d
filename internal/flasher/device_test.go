package flasher

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/zlib"

	"github.com/smartspin2k/ss2k-flasher/internal/protocol"
	"github.com/smartspin2k/ss2k-flasher/internal/slip"
)

// fakeDevice emulates enough of the ESP32 ROM and stub to drive a Session.
type fakeDevice struct {
	mu  sync.Mutex
	dec slip.Decoder
	out bytes.Buffer

	regs    map[uint32]uint32
	flashID uint32
	failCmd map[byte]bool
	stub    bool

	requests []request
	ram      map[uint32][]byte
	flash    map[uint32][]byte

	writeAddr uint32
	writeSize uint32
	writeBuf  bytes.Buffer

	baud       int
	resets     int
	hardResets int
	closed     bool
}

type request struct {
	cmd  byte
	data []byte
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		regs: map[uint32]uint32{
			protocol.ChipDetectMagicReg: protocol.ChipMagicESP32,
			protocol.EfuseBase + 4:      0xC4010203,
			protocol.EfuseBase + 8:      0x0000240A,
		},
		flashID: 0x1640EF,
		failCmd: map[byte]bool{},
		ram:     map[uint32][]byte{},
		flash:   map[uint32][]byte{},
		baud:    protocol.ROMBaudRate,
	}
}

func (d *fakeDevice) commands() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	cmds := make([]byte, 0, len(d.requests))
	for _, r := range d.requests {
		cmds = append(cmds, r.cmd)
	}

	return cmds
}

func (d *fakeDevice) last(cmd byte) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := len(d.requests) - 1; i >= 0; i-- {
		if d.requests[i].cmd == cmd {
			return d.requests[i].data
		}
	}

	return nil
}

func (d *fakeDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dec.Write(p)

	for {
		frame, ok := d.dec.Next()
		if !ok {
			break
		}

		if len(frame) < 8 {
			continue
		}

		d.handle(frame[1], frame[8:])
	}

	return len(p), nil
}

func word(data []byte, i int) uint32 {
	return binary.LittleEndian.Uint32(data[4*i:])
}

func (d *fakeDevice) handle(cmd byte, data []byte) {
	d.requests = append(d.requests, request{cmd: cmd, data: append([]byte(nil), data...)})

	if d.failCmd[cmd] {
		d.reply(cmd, 0, nil, 1, protocol.ErrFlashWriteErr)

		return
	}

	var (
		value uint32
		body  []byte
	)

	switch cmd {
	case protocol.CmdSync:
		for i := 0; i < 7; i++ {
			d.reply(cmd, 0, nil, 0, 0)
		}
	case protocol.CmdReadReg:
		value = d.regs[word(data, 0)]
	case protocol.CmdWriteReg:
		addr, v := word(data, 0), word(data, 1)
		d.regs[addr] = v

		if addr == protocol.SPICmdReg && v&protocol.SPICmdUsr != 0 {
			d.regs[protocol.SPIW0Reg] = d.flashID
			d.regs[protocol.SPICmdReg] = 0
		}
	case protocol.CmdMemBegin:
		d.writeAddr = word(data, 3)
		d.writeBuf.Reset()
	case protocol.CmdMemData:
		d.writeBuf.Write(data[16:])
		d.ram[d.writeAddr] = append([]byte(nil), d.writeBuf.Bytes()...)
	case protocol.CmdMemEnd:
		d.reply(cmd, 0, nil, 0, 0)
		d.out.Write(slip.Encode([]byte("OHAI")))
		d.stub = true

		return
	case protocol.CmdChangeBaudrate:
		d.baud = int(word(data, 0))
	case protocol.CmdFlashBegin, protocol.CmdFlashDeflBegin:
		d.writeSize = word(data, 0)
		d.writeAddr = word(data, 3)
		d.writeBuf.Reset()
	case protocol.CmdFlashData, protocol.CmdFlashDeflData:
		d.writeBuf.Write(data[16:])
	case protocol.CmdFlashEnd:
		d.flash[d.writeAddr] = append([]byte(nil), d.writeBuf.Bytes()[:d.writeSize]...)
	case protocol.CmdFlashDeflEnd:
		zr, err := zlib.NewReader(bytes.NewReader(d.writeBuf.Bytes()))
		if err != nil {
			d.reply(cmd, 0, nil, 1, protocol.ErrDeflateError)

			return
		}

		plain, _ := io.ReadAll(zr)
		d.flash[d.writeAddr] = plain
	case protocol.CmdSpiFlashMD5:
		addr, size := word(data, 0), word(data, 1)
		sum := md5.Sum(d.flash[addr][:size])
		body = sum[:]
	}

	d.reply(cmd, value, body, 0, 0)
}

func (d *fakeDevice) reply(cmd byte, value uint32, body []byte, status, code byte) {
	trailer := []byte{status, code}
	if !d.stub {
		trailer = append(trailer, 0, 0)
	}

	payload := append(append([]byte(nil), body...), trailer...)

	packet := make([]byte, 8+len(payload))
	packet[0] = protocol.DirResponse
	packet[1] = cmd
	binary.LittleEndian.PutUint16(packet[2:4], uint16(len(payload)))
	binary.LittleEndian.PutUint32(packet[4:8], value)
	copy(packet[8:], payload)

	d.out.Write(slip.Encode(packet))
}

func (d *fakeDevice) ReadWithTimeout(buf []byte, _ time.Duration) (int, error) {
	d.mu.Lock()
	n, _ := d.out.Read(buf)
	d.mu.Unlock()

	if n == 0 {
		time.Sleep(time.Millisecond)
	}

	return n, nil
}

func (d *fakeDevice) SetBaudRate(baud int) error { return nil }

func (d *fakeDevice) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.out.Reset()

	return nil
}

func (d *fakeDevice) ResetToBootloader() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.resets++

	return nil
}

func (d *fakeDevice) HardReset() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.hardResets++

	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true

	return nil
}
