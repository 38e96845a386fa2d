// Package serial wraps go.bug.st/serial with the ESP32 auto-reset sequences.
package serial

import (
	"fmt"
	"sort"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const defaultReadTimeout = 100 * time.Millisecond

// Port wraps a serial port with ESP32-specific functionality.
type Port struct {
	port     serial.Port
	portName string
	baudRate int
}

// Open opens a serial port with the specified baud rate.
func Open(portName string, baudRate int) (*Port, error) {
	port, err := serial.Open(portName, mode(baudRate))
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(defaultReadTimeout); err != nil {
		port.Close()

		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &Port{
		port:     port,
		portName: portName,
		baudRate: baudRate,
	}, nil
}

func mode(baudRate int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Close closes the serial port.
func (p *Port) Close() error {
	if p.port != nil {
		return p.port.Close()
	}

	return nil
}

// Write writes data to the serial port.
func (p *Port) Write(data []byte) (int, error) {
	return p.port.Write(data)
}

// Read reads data from the serial port. It returns 0, nil when the read
// timeout expires without data.
func (p *Port) Read(buf []byte) (int, error) {
	return p.port.Read(buf)
}

// ReadWithTimeout reads data with a specific timeout.
func (p *Port) ReadWithTimeout(buf []byte, timeout time.Duration) (int, error) {
	if err := p.port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}
	defer p.port.SetReadTimeout(defaultReadTimeout)

	return p.port.Read(buf)
}

// SetBaudRate switches the host side of the link to baudRate.
func (p *Port) SetBaudRate(baudRate int) error {
	if err := p.port.SetMode(mode(baudRate)); err != nil {
		return fmt.Errorf("failed to set baud rate %d on %s: %w", baudRate, p.portName, err)
	}

	p.baudRate = baudRate

	return nil
}

// Flush discards any buffered data.
func (p *Port) Flush() error {
	return p.port.ResetInputBuffer()
}

// SetDTR sets the DTR signal.
func (p *Port) SetDTR(value bool) error {
	return p.port.SetDTR(value)
}

// SetRTS sets the RTS signal.
func (p *Port) SetRTS(value bool) error {
	return p.port.SetRTS(value)
}

type signals struct {
	dtr, rts bool
	hold     time.Duration
}

// bootloaderSequence drives EN through RTS and GPIO0 through DTR. Both lines
// are inverted by the transistor pair found on most dev boards.
var bootloaderSequence = []signals{
	{dtr: false, rts: true, hold: 100 * time.Millisecond}, // EN low: chip in reset
	{dtr: true, rts: false, hold: 50 * time.Millisecond},  // EN high, GPIO0 low: boot mode
	{dtr: false, rts: false, hold: 100 * time.Millisecond},
}

// ResetToBootloader resets the ESP32 into its serial download mode.
func (p *Port) ResetToBootloader() error {
	for _, s := range bootloaderSequence {
		if err := p.SetDTR(s.dtr); err != nil {
			return err
		}

		if err := p.SetRTS(s.rts); err != nil {
			return err
		}

		time.Sleep(s.hold)
	}

	// Drop the boot banner printed during reset.
	return p.Flush()
}

// HardReset pulses EN so the chip boots the flashed application.
func (p *Port) HardReset() error {
	if err := p.SetRTS(true); err != nil {
		return err
	}

	time.Sleep(100 * time.Millisecond)

	return p.SetRTS(false)
}

// PortName returns the port name.
func (p *Port) PortName() string {
	return p.portName
}

// BaudRate returns the current baud rate.
func (p *Port) BaudRate() int {
	return p.baudRate
}

// PortInfo names a serial port and describes the device behind it.
type PortInfo struct {
	Name        string
	Description string
}

// ListPorts returns the available serial ports sorted by name.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{Name: d.Name, Description: describe(d)})
	}

	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })

	return ports, nil
}

func describe(d *enumerator.PortDetails) string {
	if !d.IsUSB {
		return "n/a"
	}

	desc := fmt.Sprintf("USB VID:PID=%s:%s", d.VID, d.PID)
	if d.Product != "" {
		desc = d.Product + " (" + desc + ")"
	}

	if d.SerialNumber != "" {
		desc += " SER=" + d.SerialNumber
	}

	return desc
}
