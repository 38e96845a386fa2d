// Package udplog receives the log datagrams a SmartSpin2k broadcasts over
// WiFi. At most one listener runs at a time; selecting another interface
// stops and joins the current one first.
package udplog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartspin2k/ss2k-flasher/internal/flasherr"
)

const (
	// DefaultPort is the port the device sends its logs to.
	DefaultPort = 10000

	bufferSize  = 1024
	readTimeout = 500 * time.Millisecond
)

// Interface is one IPv4 address of a host network interface.
type Interface struct {
	Name string
	IP   net.IP
}

func (i Interface) String() string {
	return fmt.Sprintf("%s (%s)", i.Name, i.IP)
}

// ListenFunc opens a packet connection, like net.ListenPacket.
type ListenFunc func(network, address string) (net.PacketConn, error)

// Interfaces returns the IPv4 addresses that port can currently be bound on.
// A successful probe does not guarantee a later listen succeeds.
func Interfaces(port int) ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing network interfaces: %w", err)
	}

	var usable []Interface

	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.To4() == nil {
				continue
			}

			if CanBind(ipnet.IP, port) {
				usable = append(usable, Interface{Name: iface.Name, IP: ipnet.IP.To4()})
			}
		}
	}

	return usable, nil
}

// CanBind reports whether a UDP socket can be bound on ip:port right now.
func CanBind(ip net.IP, port int) bool {
	conn, err := net.ListenPacket("udp4", address(ip, port))
	if err != nil {
		return false
	}

	conn.Close()

	return true
}

func address(ip net.IP, port int) string {
	return net.JoinHostPort(ip.String(), strconv.Itoa(port))
}

// Tailer forwards every datagram received on the selected interface to Out,
// undecoded. Status lines are written to Out as well.
type Tailer struct {
	Port int
	Out  io.Writer
	Log  zerolog.Logger
	// Listen defaults to net.ListenPacket.
	Listen ListenFunc

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	addr   net.Addr
}

// Select stops the running listener, if any, waits for it to exit and starts
// listening on iface. The listener runs until ctx is done or Stop or Select
// is called again.
func (t *Tailer) Select(ctx context.Context, iface Interface) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()

	listen := t.Listen
	if listen == nil {
		listen = net.ListenPacket
	}

	conn, err := listen("udp4", address(iface.IP, t.Port))
	if err != nil {
		fmt.Fprintf(t.Out, "Can not connect to : %s (%s:%d). Error = %v\n", iface.Name, iface.IP, t.Port, err)

		return flasherr.Wrap(flasherr.ConnectFailed, err, "Can not connect to : %s (%s:%d)", iface.Name, iface.IP, t.Port).
			WithValue(iface.Name)
	}

	fmt.Fprintf(t.Out, "Listening to : %s (%s:%d)\n", iface.Name, iface.IP, t.Port)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	t.cancel, t.done, t.addr = cancel, done, conn.LocalAddr()

	log := t.Log.With().Str("interface", iface.Name).Logger()

	go t.receive(ctx, conn, done, log)

	return nil
}

// Addr returns the local address of the running listener, or nil.
func (t *Tailer) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.addr
}

// Stop stops the running listener and waits until its socket is closed.
func (t *Tailer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
}

func (t *Tailer) stopLocked() {
	if t.cancel == nil {
		return
	}

	t.cancel()
	<-t.done

	t.cancel, t.done, t.addr = nil, nil, nil
}

func (t *Tailer) receive(ctx context.Context, conn net.PacketConn, done chan<- struct{}, log zerolog.Logger) {
	defer close(done)
	defer conn.Close()

	log.Debug().Msg("listener started")

	buf := make([]byte, bufferSize)

	for ctx.Err() == nil {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			log.Debug().Err(err).Msg("setting read deadline")

			return
		}

		n, _, err := conn.ReadFrom(buf)
		if n > 0 {
			if _, werr := t.Out.Write(buf[:n]); werr != nil {
				log.Debug().Err(werr).Msg("forwarding datagram")
			}
		}

		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}

			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("receive failed")
			}

			return
		}
	}

	log.Debug().Msg("listener stopped")
}
