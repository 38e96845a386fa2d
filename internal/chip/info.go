package chip

import (
	"fmt"
	"strings"

	"github.com/smartspin2k/ss2k-flasher/internal/flasherr"
)

// FamilyESP32 is the only chip family this flasher targets.
const FamilyESP32 = "ESP32"

// MAC is a 6-byte hardware address rendered as upper-case colon separated hex.
type MAC [6]byte

func (m MAC) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", m[0], m[1], m[2], m[3], m[4], m[5])
}

// CPUFrequency is the maximum rated CPU clock.
type CPUFrequency string

const (
	CPU80MHz  CPUFrequency = "80MHz"
	CPU160MHz CPUFrequency = "160MHz"
	CPU240MHz CPUFrequency = "240MHz"
)

// Info describes a detected chip. It is read once after connecting and never changed.
type Info struct {
	Family           string
	Model            string
	MAC              MAC
	Cores            int
	CPUFrequency     CPUFrequency
	HasBluetooth     bool
	HasEmbeddedFlash bool
	HasCalibratedADC bool
}

// ReadInfo queries s for its identity and derives Info from the feature list.
// Any read failure is a ChipInfoReadFailed.
func ReadInfo(s Session) (Info, error) {
	mac, err := s.ReadMAC()
	if err != nil {
		return Info{}, readFailed(err)
	}

	if len(mac) != len(MAC{}) {
		return Info{}, readFailed(fmt.Errorf("unexpected MAC length %d", len(mac)))
	}

	model, err := s.ReadDescription()
	if err != nil {
		return Info{}, readFailed(err)
	}

	features, err := s.ReadFeatures()
	if err != nil {
		return Info{}, readFailed(err)
	}

	info := infoFromFeatures(strings.Join(features, ", "))
	info.Model = model
	copy(info.MAC[:], mac)

	return info, nil
}

func infoFromFeatures(features string) Info {
	info := Info{
		Family:           FamilyESP32,
		Cores:            1,
		CPUFrequency:     CPU80MHz,
		HasBluetooth:     strings.Contains(features, "BT"),
		HasEmbeddedFlash: strings.Contains(features, "Embedded Flash"),
		HasCalibratedADC: strings.Contains(features, "VRef calibration in efuse"),
	}

	if strings.Contains(features, "Dual Core") {
		info.Cores = 2
	}

	// The feature list names at most one rated frequency; prefer the higher.
	for _, f := range []CPUFrequency{CPU240MHz, CPU160MHz} {
		if strings.Contains(features, string(f)) {
			info.CPUFrequency = f

			break
		}
	}

	return info
}

func readFailed(err error) error {
	return flasherr.Wrap(flasherr.ChipInfoReadFailed, err, "Reading chip details failed")
}
