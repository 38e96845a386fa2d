// Package detect picks the serial port a run talks to.
package detect

import (
	"fmt"
	"strings"

	"github.com/smartspin2k/ss2k-flasher/internal/flasherr"
	"github.com/smartspin2k/ss2k-flasher/internal/serial"
)

// Enumerator lists the serial ports present on the host.
type Enumerator interface {
	ListPorts() ([]serial.PortInfo, error)
}

// System enumerates the host's real serial ports.
type System struct{}

func (System) ListPorts() ([]serial.PortInfo, error) {
	return serial.ListPorts()
}

// Selection is the outcome of Select.
type Selection struct {
	Port string
	// Auto is set when the port was discovered rather than given.
	Auto bool
}

// Select returns explicit verbatim when it is set. Otherwise it enumerates
// ports and only auto-selects when exactly one exists.
func Select(explicit string, enum Enumerator) (Selection, error) {
	if explicit != "" {
		return Selection{Port: explicit}, nil
	}

	ports, err := enum.ListPorts()
	if err != nil {
		return Selection{}, flasherr.Wrap(flasherr.NoPortFound, err, "No serial port found!")
	}

	switch len(ports) {
	case 0:
		return Selection{}, flasherr.New(flasherr.NoPortFound, "No serial port found!")
	case 1:
		return Selection{Port: ports[0].Name, Auto: true}, nil
	default:
		return Selection{}, flasherr.New(flasherr.AmbiguousPort, "%s", ambiguous(ports)).WithValue(ports)
	}
}

func ambiguous(ports []serial.PortInfo) string {
	var b strings.Builder

	b.WriteString("Found more than one serial port:\n")

	for _, p := range ports {
		fmt.Fprintf(&b, " * %s (%s)\n", p.Name, p.Description)
	}

	b.WriteString("Please choose one with the --port argument.")

	return b.String()
}
