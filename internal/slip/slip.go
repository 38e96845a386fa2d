// Package slip implements the SLIP framing used on the ESP32 serial link.
package slip

const (
	End    = 0xC0
	Esc    = 0xDB
	EscEnd = 0xDC
	EscEsc = 0xDD
)

// Encode wraps data in SLIP framing.
// Adds END byte at start and end, escapes special bytes.
func Encode(data []byte) []byte {
	result := make([]byte, 0, len(data)+10)
	result = append(result, End)

	for _, b := range data {
		switch b {
		case End:
			result = append(result, Esc, EscEnd)
		case Esc:
			result = append(result, Esc, EscEsc)
		default:
			result = append(result, b)
		}
	}

	return append(result, End)
}

// Decoder turns a byte stream into decoded frames. Bytes received before the
// first END are discarded, which drops the boot log the chip prints on reset.
// The zero value is ready to use.
type Decoder struct {
	inFrame bool
	escaped bool
	current []byte
	frames  [][]byte
}

// Write feeds p into the decoder. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	for _, b := range p {
		d.feed(b)
	}

	return len(p), nil
}

func (d *Decoder) feed(b byte) {
	if b == End {
		if d.inFrame && len(d.current) > 0 {
			d.frames = append(d.frames, d.current)
		}

		// Every END may open the next frame; back-to-back ENDs are empty frames.
		d.inFrame = true
		d.escaped = false
		d.current = nil

		return
	}

	if !d.inFrame {
		return
	}

	if d.escaped {
		d.escaped = false

		switch b {
		case EscEnd:
			b = End
		case EscEsc:
			b = Esc
		}

		d.current = append(d.current, b)

		return
	}

	if b == Esc {
		d.escaped = true

		return
	}

	d.current = append(d.current, b)
}

// Next pops the oldest complete frame.
func (d *Decoder) Next() ([]byte, bool) {
	if len(d.frames) == 0 {
		return nil, false
	}

	frame := d.frames[0]
	d.frames = d.frames[1:]

	return frame, true
}

// Reset drops any partial or queued frames.
func (d *Decoder) Reset() {
	*d = Decoder{}
}

// Decode extracts the payload of a single complete frame.
func Decode(frame []byte) []byte {
	var d Decoder

	d.Write(frame)

	data, _ := d.Next()

	return data
}
