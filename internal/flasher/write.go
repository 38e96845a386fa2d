package flasher

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zlib"

	"github.com/smartspin2k/ss2k-flasher/internal/chip"
	"github.com/smartspin2k/ss2k-flasher/internal/protocol"
)

const (
	eraseTimeoutPerMB = 30 * time.Second
	writeTimeoutPerMB = 40 * time.Second
	md5TimeoutPerMB   = 8 * time.Second
)

// timeoutPerMB scales perMB to size bytes, never going below defaultTimeout.
func timeoutPerMB(perMB time.Duration, size int) time.Duration {
	t := time.Duration(float64(perMB) * float64(size) / 1e6)

	return max(t, defaultTimeout)
}

// Write flashes opts.Size bytes from r at addr. The stub must be running.
func (s *Session) Write(addr uint32, r io.Reader, opts chip.WriteOptions) error {
	if !s.stub {
		return errors.New("writing flash requires the stub")
	}

	data, err := io.ReadAll(io.LimitReader(r, opts.Size))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", opts.Name, err)
	}

	if int64(len(data)) != opts.Size {
		return fmt.Errorf("%s is %d bytes, expected %d", opts.Name, len(data), opts.Size)
	}

	if opts.Compress {
		err = s.writeDeflated(addr, data, opts)
	} else {
		err = s.writePlain(addr, data, opts)
	}

	if err != nil {
		return err
	}

	if opts.Verify {
		if err := s.verifyFlash(data, addr); err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
	}

	return nil
}

func (s *Session) writeDeflated(addr uint32, data []byte, opts chip.WriteOptions) error {
	var buf bytes.Buffer

	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return err
	}

	if _, err := zw.Write(data); err != nil {
		return err
	}

	if err := zw.Close(); err != nil {
		return err
	}

	compressed := buf.Bytes()
	blockSize := protocol.StubFlashBlockSize
	blocks := protocol.CalculateBlocks(len(compressed), blockSize)

	s.log.Debug().Str("region", opts.Name).Int("size", len(data)).Int("compressed", len(compressed)).Msg("writing deflated")

	begin := protocol.BeginData(uint32(len(data)), blocks, uint32(blockSize), addr)
	if _, err := s.sendCommand(protocol.NewRequest(protocol.CmdFlashDeflBegin, begin), timeoutPerMB(eraseTimeoutPerMB, len(data))); err != nil {
		return fmt.Errorf("flash begin failed: %w", err)
	}

	// Each compressed block expands to roughly its share of the input.
	perBlock := len(data) / int(max(blocks, 1))

	for seq := uint32(0); seq < blocks; seq++ {
		start := int(seq) * blockSize
		end := min(start+blockSize, len(compressed))

		req := protocol.NewDataRequest(protocol.CmdFlashDeflData, compressed[start:end], seq)
		if _, err := s.sendCommand(req, timeoutPerMB(writeTimeoutPerMB, perBlock)); err != nil {
			return fmt.Errorf("flash data block %d failed: %w", seq, err)
		}

		written := int64(len(data))
		if seq+1 < blocks {
			written = int64(perBlock) * int64(seq+1)
		}

		report(opts, written)
	}

	end := protocol.NewRequest(protocol.CmdFlashDeflEnd, protocol.FlashEndData(false))
	if _, err := s.sendCommand(end, defaultTimeout); err != nil {
		return fmt.Errorf("flash end failed: %w", err)
	}

	return nil
}

func (s *Session) writePlain(addr uint32, data []byte, opts chip.WriteOptions) error {
	blockSize := protocol.StubFlashBlockSize
	blocks := protocol.CalculateBlocks(len(data), blockSize)

	begin := protocol.BeginData(uint32(len(data)), blocks, uint32(blockSize), addr)
	if _, err := s.sendCommand(protocol.NewRequest(protocol.CmdFlashBegin, begin), timeoutPerMB(eraseTimeoutPerMB, len(data))); err != nil {
		return fmt.Errorf("flash begin failed: %w", err)
	}

	for seq := uint32(0); seq < blocks; seq++ {
		start := int(seq) * blockSize
		end := min(start+blockSize, len(data))

		// The last block is padded with erased flash bytes.
		block := bytes.Repeat([]byte{0xFF}, blockSize)
		copy(block, data[start:end])

		req := protocol.NewDataRequest(protocol.CmdFlashData, block, seq)
		if _, err := s.sendCommand(req, timeoutPerMB(writeTimeoutPerMB, blockSize)); err != nil {
			return fmt.Errorf("flash data block %d failed: %w", seq, err)
		}

		report(opts, int64(end))
	}

	endReq := protocol.NewRequest(protocol.CmdFlashEnd, protocol.FlashEndData(false))
	if _, err := s.sendCommand(endReq, defaultTimeout); err != nil {
		return fmt.Errorf("flash end failed: %w", err)
	}

	return nil
}

func report(opts chip.WriteOptions, written int64) {
	if opts.Progress != nil {
		opts.Progress(opts.Name, written, opts.Size)
	}
}

// verifyFlash compares the MD5 the chip computes over the region with data.
func (s *Session) verifyFlash(data []byte, addr uint32) error {
	sum := md5.Sum(data)
	expected := hex.EncodeToString(sum[:])

	req := protocol.NewRequest(protocol.CmdSpiFlashMD5, protocol.FlashMD5Data(addr, uint32(len(data))))

	resp, err := s.sendCommand(req, timeoutPerMB(md5TimeoutPerMB, len(data)))
	if err != nil {
		return err
	}

	var actual string

	// The ROM answers in hex text, the stub with the raw digest.
	switch {
	case len(resp.Data) >= 32:
		actual = string(resp.Data[:32])
	case len(resp.Data) >= 16:
		actual = hex.EncodeToString(resp.Data[:16])
	default:
		return fmt.Errorf("MD5 response too short: %d bytes", len(resp.Data))
	}

	if actual != expected {
		return fmt.Errorf("MD5 mismatch: expected %s, got %s", expected, actual)
	}

	return nil
}
