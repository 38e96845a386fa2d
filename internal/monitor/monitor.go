// Package monitor echoes the device's serial log output with timestamps.
package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

const (
	readBufferSize = 1024
	timeLayout     = "[15:04:05]"
)

// Monitor copies lines from a device to Out, one timestamped line per
// device line.
type Monitor struct {
	Out io.Writer
	Log zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Run reads from r until ctx is cancelled or r fails. Reads returning 0, nil
// are treated as timeouts. A failing reader ends the run normally after
// printing "Serial port closed!"; only cancellation is returned as an error.
func (m *Monitor) Run(ctx context.Context, r io.Reader) error {
	fmt.Fprintln(m.Out, "Showing logs:")

	buf := make([]byte, readBufferSize)

	var line bytes.Buffer

	for {
		if err := ctx.Err(); err != nil {
			m.flush(&line)

			return err
		}

		n, err := r.Read(buf)
		if n > 0 {
			m.feed(&line, buf[:n])
		}

		if err != nil {
			m.flush(&line)

			if !errors.Is(err, io.EOF) {
				m.Log.Debug().Err(err).Msg("serial read failed")
			}

			fmt.Fprintln(m.Out, "Serial port closed!")

			return nil
		}
	}
}

func (m *Monitor) feed(line *bytes.Buffer, data []byte) {
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			line.Write(data)

			return
		}

		line.Write(data[:i])
		m.emit(line.Bytes())
		line.Reset()

		data = data[i+1:]
	}
}

func (m *Monitor) flush(line *bytes.Buffer) {
	if line.Len() > 0 {
		m.emit(line.Bytes())
		line.Reset()
	}
}

func (m *Monitor) emit(raw []byte) {
	raw = bytes.ReplaceAll(raw, []byte{'\r'}, nil)

	fmt.Fprintln(m.Out, m.now().Format(timeLayout)+Escape(raw))
}

func (m *Monitor) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}

	return time.Now()
}

// Escape returns raw as text. Lines that are not valid UTF-8 are rendered
// with their bytes escaped instead of being dropped.
func Escape(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}

	q := strconv.QuoteToASCII(string(raw))

	return q[1 : len(q)-1]
}
