package fakes

import "github.com/smartspin2k/ss2k-flasher/internal/serial"

// Ports is a scripted port enumerator.
type Ports struct {
	List  []serial.PortInfo
	Err   error
	Calls int
}

func (p *Ports) ListPorts() ([]serial.PortInfo, error) {
	p.Calls++

	return p.List, p.Err
}
