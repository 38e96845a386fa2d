package chip

import "testing"

func TestFlashSizeFromID(t *testing.T) {
	tests := []struct {
		id   uint32
		want FlashSize
	}{
		{0x1640EF, FlashSize4MB},
		{0x1840C8, FlashSize16MB},
		{0x1540EF, FlashSize2MB},
		{0x1240EF, FlashSize256KB},
		{0x1740EF, FlashSize8MB},
		{0x0000EF, DefaultFlashSize},
		{0xFFFFFF, DefaultFlashSize},
	}

	for _, tc := range tests {
		if got := FlashSizeFromID(tc.id); got != tc.want {
			t.Errorf("FlashSizeFromID(0x%06X) = %v, want %v", tc.id, got, tc.want)
		}
	}
}

func TestFlashSize_String(t *testing.T) {
	tests := []struct {
		size FlashSize
		want string
	}{
		{FlashSize256KB, "256KB"},
		{FlashSize512KB, "512KB"},
		{FlashSize1MB, "1MB"},
		{FlashSize4MB, "4MB"},
		{FlashSize16MB, "16MB"},
	}

	for _, tc := range tests {
		if got := tc.size.String(); got != tc.want {
			t.Errorf("FlashSize(%d).String() = %q, want %q", int(tc.size), got, tc.want)
		}
	}
}

func TestInfoFromFeatures_PrefersHigherFrequency(t *testing.T) {
	info := infoFromFeatures("WiFi, 160MHz, 240MHz")
	if info.CPUFrequency != CPU240MHz {
		t.Errorf("CPUFrequency = %v, want %v", info.CPUFrequency, CPU240MHz)
	}
}
