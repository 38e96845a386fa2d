package main

import (
	"net"
	"testing"

	"github.com/smartspin2k/ss2k-flasher/internal/udplog"
)

func TestPickInterface(t *testing.T) {
	ifaces := []udplog.Interface{
		{Name: "lo", IP: net.IPv4(127, 0, 0, 1)},
		{Name: "wlan0", IP: net.IPv4(192, 168, 1, 20)},
	}

	tests := []struct {
		choice string
		want   string
		ok     bool
	}{
		{"1", "lo", true},
		{"2", "wlan0", true},
		{"wlan0", "wlan0", true},
		{"192.168.1.20", "wlan0", true},
		{"0", "", false},
		{"3", "", false},
		{"eth0", "", false},
	}

	for _, tc := range tests {
		got, ok := pickInterface(ifaces, tc.choice)
		if ok != tc.ok || got.Name != tc.want {
			t.Errorf("pickInterface(%q) = %q, %v, want %q, %v", tc.choice, got.Name, ok, tc.want, tc.ok)
		}
	}
}
