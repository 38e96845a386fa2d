package flasher

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMACFromEfuse(t *testing.T) {
	got := macFromEfuse(0xC4FF001B, 0xABCD240A)
	want := []byte{0x24, 0x0A, 0xC4, 0xFF, 0x00, 0x1B}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("macFromEfuse() mismatch (-want +got):\n%s", diff)
	}
}

func TestRevision(t *testing.T) {
	tests := []struct {
		w3, w5, apb uint32
		want        int
	}{
		{0, 1 << 20, 1 << 31, 0},
		{1 << 15, 0, 1 << 31, 1},
		{1 << 15, 1 << 20, 0, 2},
		{1 << 15, 1 << 20, 1 << 31, 3},
	}

	for _, tc := range tests {
		if got := revision(tc.w3, tc.w5, tc.apb); got != tc.want {
			t.Errorf("revision(0x%X, 0x%X, 0x%X) = %d, want %d", tc.w3, tc.w5, tc.apb, got, tc.want)
		}
	}
}

func TestDescription(t *testing.T) {
	tests := []struct {
		w3   uint32
		rev  int
		want string
	}{
		{0, 1, "ESP32-D0WDQ6 (revision 1)"},
		{1, 1, "ESP32-S0WDQ6 (revision 1)"},
		{1 << 9, 3, "ESP32-D0WD-V3 (revision 3)"},
		{2 << 9, 1, "ESP32-D2WD (revision 1)"},
		{4 << 9, 1, "ESP32-U4WDH (revision 1)"},
		{5 << 9, 1, "ESP32-PICO-D4 (revision 1)"},
		{5 << 9, 3, "ESP32-PICO-V3 (revision 3)"},
		{6 << 9, 3, "ESP32-PICO-V3-02 (revision 3)"},
		{1 << 2, 1, "unknown ESP32 (revision 1)"},
	}

	for _, tc := range tests {
		if got := description(tc.w3, tc.rev); got != tc.want {
			t.Errorf("description(0x%X, %d) = %q, want %q", tc.w3, tc.rev, got, tc.want)
		}
	}
}

func TestFeatures(t *testing.T) {
	tests := []struct {
		name       string
		w3, w4, w6 uint32
		want       []string
	}{
		{
			name: "plain dual core",
			want: []string{"WiFi", "BT", "Dual Core", "Coding Scheme None"},
		},
		{
			name: "single core no bt 160MHz",
			w3:   1 | 1<<1 | 1<<12 | 1<<13,
			w6:   1,
			want: []string{"WiFi", "Single Core", "160MHz", "Coding Scheme 3/4"},
		},
		{
			name: "pico v3 02",
			w3:   6<<9 | 1<<14,
			w4:   1 << 8,
			w6:   3,
			want: []string{"WiFi", "BT", "Dual Core", "Embedded Flash", "Embedded PSRAM", "VRef calibration in efuse", "BLK3 partially reserved", "Coding Scheme Invalid"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, features(tc.w3, tc.w4, tc.w6)); diff != "" {
				t.Errorf("features() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseStub(t *testing.T) {
	st, err := ParseStub(strings.NewReader(stubJSON()))
	if err != nil {
		t.Fatalf("ParseStub() error = %v", err)
	}

	if st.Entry != 1074521560 || len(st.Text) != len(stubText) || st.DataStart != 1073605544 {
		t.Errorf("ParseStub() = entry %d text %d data_start %d", st.Entry, len(st.Text), st.DataStart)
	}

	for _, bad := range []string{"not json", `{"entry": 1}`, `{"text": "AAAA"}`} {
		if _, err := ParseStub(strings.NewReader(bad)); err == nil {
			t.Errorf("ParseStub(%q) succeeded, want error", bad)
		}
	}
}

func TestTimeoutPerMB(t *testing.T) {
	if got := timeoutPerMB(eraseTimeoutPerMB, 1000); got != defaultTimeout {
		t.Errorf("timeoutPerMB(small) = %v, want %v", got, defaultTimeout)
	}

	if got := timeoutPerMB(eraseTimeoutPerMB, 4_000_000); got != 4*eraseTimeoutPerMB {
		t.Errorf("timeoutPerMB(4MB) = %v, want %v", got, 4*eraseTimeoutPerMB)
	}
}
