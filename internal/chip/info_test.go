package chip_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/smartspin2k/ss2k-flasher/internal/chip"
	"github.com/smartspin2k/ss2k-flasher/internal/flasherr"
	"github.com/smartspin2k/ss2k-flasher/internal/test/fakes"
)

func TestReadInfo(t *testing.T) {
	tests := []struct {
		name     string
		features []string
		want     chip.Info
	}{
		{
			name:     "dual core 240MHz with BT",
			features: []string{"WiFi", "BT", "Dual Core", "240MHz", "VRef calibration in efuse", "Coding Scheme None"},
			want: chip.Info{
				Family: "ESP32", Model: "ESP32-D0WDQ6 (revision 1)",
				MAC:   chip.MAC{0x24, 0x0A, 0xC4, 0x01, 0x02, 0x03},
				Cores: 2, CPUFrequency: chip.CPU240MHz,
				HasBluetooth: true, HasCalibratedADC: true,
			},
		},
		{
			name:     "single core 160MHz embedded flash",
			features: []string{"WiFi", "Single Core", "160MHz", "Embedded Flash"},
			want: chip.Info{
				Family: "ESP32", Model: "ESP32-D0WDQ6 (revision 1)",
				MAC:   chip.MAC{0x24, 0x0A, 0xC4, 0x01, 0x02, 0x03},
				Cores: 1, CPUFrequency: chip.CPU160MHz,
				HasEmbeddedFlash: true,
			},
		},
		{
			name:     "no rated frequency defaults to 80MHz",
			features: []string{"WiFi"},
			want: chip.Info{
				Family: "ESP32", Model: "ESP32-D0WDQ6 (revision 1)",
				MAC:   chip.MAC{0x24, 0x0A, 0xC4, 0x01, 0x02, 0x03},
				Cores: 1, CPUFrequency: chip.CPU80MHz,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := fakes.NewSession(fakes.SessionConfig{Features: tc.features})

			got, err := chip.ReadInfo(s)
			if err != nil {
				t.Fatalf("ReadInfo() error = %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("ReadInfo() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReadInfo_Failures(t *testing.T) {
	boom := errors.New("serial timeout")

	tests := []struct {
		name string
		cfg  fakes.SessionConfig
	}{
		{"mac", fakes.SessionConfig{MACErr: boom}},
		{"description", fakes.SessionConfig{DescriptionErr: boom}},
		{"features", fakes.SessionConfig{FeaturesErr: boom}},
		{"short mac", fakes.SessionConfig{MAC: []byte{1, 2, 3}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := chip.ReadInfo(fakes.NewSession(tc.cfg))
			if !errors.Is(err, flasherr.ChipInfoReadFailed) {
				t.Errorf("ReadInfo() error = %v, want ChipInfoReadFailed", err)
			}
		})
	}
}

func TestMAC_String(t *testing.T) {
	m := chip.MAC{0x24, 0x0a, 0xc4, 0xff, 0x00, 0x1b}
	if got := m.String(); got != "24:0A:C4:FF:00:1B" {
		t.Errorf("MAC.String() = %q, want %q", got, "24:0A:C4:FF:00:1B")
	}
}
