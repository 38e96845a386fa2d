package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smartspin2k/ss2k-flasher/internal/udplog"
)

func runUDPLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ifaces, err := udplog.Interfaces(cfg.UDPPort)
	if err != nil {
		return err
	}

	if len(ifaces) == 0 {
		return fmt.Errorf("no network interface can listen on UDP port %d", cfg.UDPPort)
	}

	fmt.Println("Available network interfaces:")
	for i, iface := range ifaces {
		fmt.Printf("  %d: %s\n", i+1, iface)
	}

	ctx := cmd.Context()

	tailer := &udplog.Tailer{Port: cfg.UDPPort, Out: os.Stdout, Log: newLogger()}
	defer tailer.Stop()

	if interfaceFlag != "" {
		iface, ok := pickInterface(ifaces, interfaceFlag)
		if !ok {
			return fmt.Errorf("unknown network interface %q", interfaceFlag)
		}

		if err := tailer.Select(ctx, iface); err != nil {
			return err
		}
	} else {
		fmt.Println("Enter the number or name of the interface to listen on.")
	}

	lines := make(chan string)

	go func() {
		defer close(lines)

		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				<-ctx.Done()

				return nil
			}

			if line == "" {
				continue
			}

			iface, found := pickInterface(ifaces, line)
			if !found {
				fmt.Printf("Unknown interface %q\n", line)

				continue
			}

			// A failed listen is reported on stdout; keep reading choices.
			_ = tailer.Select(ctx, iface)
		}
	}
}

// pickInterface matches choice against a 1-based index, an interface name or
// an IP address.
func pickInterface(ifaces []udplog.Interface, choice string) (udplog.Interface, bool) {
	if n, err := strconv.Atoi(choice); err == nil && n >= 1 && n <= len(ifaces) {
		return ifaces[n-1], true
	}

	for _, iface := range ifaces {
		if iface.Name == choice || iface.IP.String() == choice {
			return iface, true
		}
	}

	return udplog.Interface{}, false
}
