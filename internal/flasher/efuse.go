package flasher

import (
	"fmt"

	"github.com/smartspin2k/ss2k-flasher/internal/protocol"
)

func (s *Session) efuse(n uint32) (uint32, error) {
	return s.readReg(protocol.EfuseBase + 4*n)
}

// ReadMAC returns the factory MAC burned into eFuse words 1 and 2.
func (s *Session) ReadMAC() ([]byte, error) {
	w1, err := s.efuse(1)
	if err != nil {
		return nil, err
	}

	w2, err := s.efuse(2)
	if err != nil {
		return nil, err
	}

	return macFromEfuse(w1, w2), nil
}

// ReadDescription returns the package name and silicon revision.
func (s *Session) ReadDescription() (string, error) {
	w3, err := s.efuse(3)
	if err != nil {
		return "", err
	}

	w5, err := s.efuse(5)
	if err != nil {
		return "", err
	}

	var apbDate uint32
	if w3&(1<<15) != 0 && w5&(1<<20) != 0 {
		if apbDate, err = s.readReg(protocol.APBCtlDateReg); err != nil {
			return "", err
		}
	}

	return description(w3, revision(w3, w5, apbDate)), nil
}

// ReadFeatures returns the feature list decoded from eFuse words 3, 4 and 6.
func (s *Session) ReadFeatures() ([]string, error) {
	var w [7]uint32

	for _, n := range []uint32{3, 4, 6} {
		v, err := s.efuse(n)
		if err != nil {
			return nil, err
		}

		w[n] = v
	}

	return features(w[3], w[4], w[6]), nil
}

func macFromEfuse(w1, w2 uint32) []byte {
	return []byte{
		byte(w2 >> 8), byte(w2),
		byte(w1 >> 24), byte(w1 >> 16), byte(w1 >> 8), byte(w1),
	}
}

func pkgVersion(w3 uint32) uint32 {
	return (w3>>9)&0x07 | ((w3>>2)&0x01)<<3
}

func revision(w3, w5, apbDate uint32) int {
	switch {
	case w3&(1<<15) == 0:
		return 0
	case w5&(1<<20) == 0:
		return 1
	case apbDate&(1<<31) == 0:
		return 2
	default:
		return 3
	}
}

func description(w3 uint32, rev int) string {
	singleCore := w3&1 != 0
	rev3 := rev == 3

	var name string

	switch pkgVersion(w3) {
	case 0:
		name = pick(singleCore, "ESP32-S0WDQ6", "ESP32-D0WDQ6")
	case 1:
		name = pick(singleCore, "ESP32-S0WD", "ESP32-D0WD")
	case 2:
		name = "ESP32-D2WD"
	case 4:
		name = "ESP32-U4WDH"
	case 5:
		name = pick(rev3, "ESP32-PICO-V3", "ESP32-PICO-D4")
	case 6:
		name = "ESP32-PICO-V3-02"
	case 7:
		name = "ESP32-D0WDR2-V3"
	default:
		name = "unknown ESP32"
	}

	if rev3 && (name == "ESP32-D0WDQ6" || name == "ESP32-D0WD") {
		name += "-V3"
	}

	return fmt.Sprintf("%s (revision %d)", name, rev)
}

var codingSchemes = [4]string{"None", "3/4", "Repeat (UNSUPPORTED)", "Invalid"}

func features(w3, w4, w6 uint32) []string {
	list := []string{"WiFi"}

	if w3&(1<<1) == 0 {
		list = append(list, "BT")
	}

	list = append(list, pick(w3&1 != 0, "Single Core", "Dual Core"))

	if w3&(1<<13) != 0 {
		list = append(list, pick(w3&(1<<12) != 0, "160MHz", "240MHz"))
	}

	switch pkgVersion(w3) {
	case 2, 4, 5, 6:
		list = append(list, "Embedded Flash")
	}

	if pkgVersion(w3) == 6 {
		list = append(list, "Embedded PSRAM")
	}

	if (w4>>8)&0x1F != 0 {
		list = append(list, "VRef calibration in efuse")
	}

	if (w3>>14)&1 != 0 {
		list = append(list, "BLK3 partially reserved")
	}

	return append(list, "Coding Scheme "+codingSchemes[w6&0x3])
}

func pick(cond bool, yes, no string) string {
	if cond {
		return yes
	}

	return no
}

// ReadFlashID runs the JEDEC RDID command through the SPI1 user registers.
func (s *Session) ReadFlashID() (uint32, error) {
	return s.runSPIFlashCommand(protocol.SPIFlashRDID, 24)
}

func (s *Session) runSPIFlashCommand(cmd uint32, readBits uint32) (uint32, error) {
	oldUsr, err := s.readReg(protocol.SPIUsrReg)
	if err != nil {
		return 0, err
	}

	oldUsr2, err := s.readReg(protocol.SPIUsr2Reg)
	if err != nil {
		return 0, err
	}

	flags := uint32(protocol.SPIUsrCommand)
	if readBits > 0 {
		flags |= protocol.SPIUsrMiso

		if err := s.writeReg(protocol.SPIMisoDlen, readBits-1); err != nil {
			return 0, err
		}
	}

	writes := []struct{ addr, value uint32 }{
		{protocol.SPIUsrReg, flags},
		{protocol.SPIUsr2Reg, protocol.SPIUsr2DLen | cmd},
		{protocol.SPIW0Reg, 0},
		{protocol.SPICmdReg, protocol.SPICmdUsr},
	}

	for _, w := range writes {
		if err := s.writeReg(w.addr, w.value); err != nil {
			return 0, err
		}
	}

	done := false

	for i := 0; i < 10; i++ {
		v, err := s.readReg(protocol.SPICmdReg)
		if err != nil {
			return 0, err
		}

		if v&protocol.SPICmdUsr == 0 {
			done = true

			break
		}
	}

	if !done {
		return 0, fmt.Errorf("SPI command 0x%02X did not complete", cmd)
	}

	status, err := s.readReg(protocol.SPIW0Reg)
	if err != nil {
		return 0, err
	}

	if err := s.writeReg(protocol.SPIUsrReg, oldUsr); err != nil {
		return 0, err
	}

	if err := s.writeReg(protocol.SPIUsr2Reg, oldUsr2); err != nil {
		return 0, err
	}

	return status, nil
}
