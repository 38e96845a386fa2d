package udplog

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartspin2k/ss2k-flasher/internal/flasherr"
)

type events struct {
	mu   sync.Mutex
	list []string
}

func (e *events) add(ev string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.list = append(e.list, ev)
}

func (e *events) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]string(nil), e.list...)
}

func (e *events) index(ev string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, got := range e.list {
		if got == ev {
			return i
		}
	}

	return -1
}

func (e *events) waitFor(t *testing.T, ev string) int {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if i := e.index(ev); i >= 0 {
			return i
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("event %q never happened", ev)

	return -1
}

// fakeConn blocks every read until its deadline passes or it is closed.
type fakeConn struct {
	net.PacketConn

	name   string
	ev     *events
	mu     sync.Mutex
	until  time.Time
	closed chan struct{}
	once   sync.Once
}

func (c *fakeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.until = t

	return nil
}

func (c *fakeConn) ReadFrom([]byte) (int, net.Addr, error) {
	c.ev.add("read " + c.name)

	c.mu.Lock()
	wait := time.Until(c.until)
	c.mu.Unlock()

	select {
	case <-c.closed:
		return 0, nil, net.ErrClosed
	case <-time.After(wait):
		return 0, nil, os.ErrDeadlineExceeded
	}
}

func (c *fakeConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: DefaultPort}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		c.ev.add("close " + c.name)
		close(c.closed)
	})

	return nil
}

func fakeListen(ev *events, fail map[string]error) ListenFunc {
	return func(_, address string) (net.PacketConn, error) {
		host, _, _ := net.SplitHostPort(address)
		ev.add("listen " + host)

		if err := fail[host]; err != nil {
			return nil, err
		}

		return &fakeConn{name: host, ev: ev, closed: make(chan struct{})}, nil
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

var (
	ifaceX = Interface{Name: "eth0", IP: net.IPv4(10, 0, 0, 2)}
	ifaceY = Interface{Name: "wlan0", IP: net.IPv4(192, 168, 1, 20)}
)

func TestSelect_SwitchJoinsPreviousListener(t *testing.T) {
	ev := &events{}
	out := &syncBuffer{}

	tl := &Tailer{Port: DefaultPort, Out: out, Log: zerolog.Nop(), Listen: fakeListen(ev, nil)}
	defer tl.Stop()

	if err := tl.Select(context.Background(), ifaceX); err != nil {
		t.Fatalf("Select(X) error = %v", err)
	}

	ev.waitFor(t, "read 10.0.0.2")

	if err := tl.Select(context.Background(), ifaceY); err != nil {
		t.Fatalf("Select(Y) error = %v", err)
	}

	// Select returns only after X is joined.
	closedX := ev.index("close 10.0.0.2")
	if closedX < 0 {
		t.Fatalf("listener X still open after switching")
	}

	readY := ev.waitFor(t, "read 192.168.1.20")
	listenY := ev.index("listen 192.168.1.20")

	if !(closedX < listenY && listenY < readY) {
		t.Errorf("events = %v, want X closed before Y listens and reads", ev.snapshot())
	}

	for _, line := range []string{"Listening to : eth0 (10.0.0.2:10000)", "Listening to : wlan0 (192.168.1.20:10000)"} {
		if !strings.Contains(out.String(), line) {
			t.Errorf("output missing %q", line)
		}
	}
}

func TestStop_ClosesSocket(t *testing.T) {
	ev := &events{}

	tl := &Tailer{Port: DefaultPort, Out: &syncBuffer{}, Log: zerolog.Nop(), Listen: fakeListen(ev, nil)}

	if err := tl.Select(context.Background(), ifaceX); err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	tl.Stop()

	if ev.index("close 10.0.0.2") < 0 {
		t.Errorf("Stop() returned before the socket was closed")
	}

	if tl.Addr() != nil {
		t.Errorf("Addr() = %v after Stop, want nil", tl.Addr())
	}

	// Stopping twice is harmless.
	tl.Stop()
}

func TestSelect_ContextCancelStopsListener(t *testing.T) {
	ev := &events{}

	tl := &Tailer{Port: DefaultPort, Out: &syncBuffer{}, Log: zerolog.Nop(), Listen: fakeListen(ev, nil)}

	ctx, cancel := context.WithCancel(context.Background())

	if err := tl.Select(ctx, ifaceX); err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	cancel()

	ev.waitFor(t, "close 10.0.0.2")
	tl.Stop()
}

func TestSelect_ListenFailure(t *testing.T) {
	ev := &events{}
	out := &syncBuffer{}
	cause := errors.New("address already in use")

	tl := &Tailer{Port: DefaultPort, Out: out, Log: zerolog.Nop(), Listen: fakeListen(ev, map[string]error{"10.0.0.2": cause})}

	err := tl.Select(context.Background(), ifaceX)
	if !errors.Is(err, flasherr.ConnectFailed) || !errors.Is(err, cause) {
		t.Fatalf("Select() error = %v, want ConnectFailed wrapping the cause", err)
	}

	want := "Can not connect to : eth0 (10.0.0.2:10000). Error = address already in use\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}

	tl.Stop()
}

func TestTailer_ReceivesOnLoopback(t *testing.T) {
	out := &syncBuffer{}

	tl := &Tailer{Port: 0, Out: out, Log: zerolog.Nop()}
	defer tl.Stop()

	if err := tl.Select(context.Background(), Interface{Name: "lo", IP: net.IPv4(127, 0, 0, 1)}); err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	conn, err := net.Dial("udp4", tl.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("power: 212W\n")); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for !strings.Contains(out.String(), "power: 212W\n") {
		if time.Now().After(deadline) {
			t.Fatalf("datagram not forwarded, output = %q", out.String())
		}

		time.Sleep(10 * time.Millisecond)
	}
}

func TestCanBind(t *testing.T) {
	loopback := net.IPv4(127, 0, 0, 1)

	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	port := conn.LocalAddr().(*net.UDPAddr).Port

	if CanBind(loopback, port) {
		t.Errorf("CanBind(127.0.0.1, %d) = true for a port in use", port)
	}

	if !CanBind(loopback, 0) {
		t.Errorf("CanBind(127.0.0.1, 0) = false, want true")
	}
}

func TestInterfaces_OnlyIPv4(t *testing.T) {
	ifaces, err := Interfaces(0)
	if err != nil {
		t.Fatalf("Interfaces() error = %v", err)
	}

	for _, iface := range ifaces {
		if iface.IP.To4() == nil || iface.Name == "" {
			t.Errorf("Interfaces() returned %v", iface)
		}
	}
}
