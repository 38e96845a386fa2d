package protocol

// ESP32 ROM bootloader and stub commands
const (
	CmdFlashBegin     = 0x02
	CmdFlashData      = 0x03
	CmdFlashEnd       = 0x04
	CmdMemBegin       = 0x05
	CmdMemEnd         = 0x06
	CmdMemData        = 0x07
	CmdSync           = 0x08
	CmdWriteReg       = 0x09
	CmdReadReg        = 0x0A
	CmdSpiSetParams   = 0x0B
	CmdSpiAttach      = 0x0D
	CmdChangeBaudrate = 0x0F
	CmdFlashDeflBegin = 0x10
	CmdFlashDeflData  = 0x11
	CmdFlashDeflEnd   = 0x12
	CmdSpiFlashMD5    = 0x13
)

// Direction byte values
const (
	DirRequest  = 0x00
	DirResponse = 0x01
)

// Number of status bytes trailing a response. The ESP32 ROM sends four,
// the stub two.
const (
	ROMStatusLen  = 4
	StubStatusLen = 2
)

// Block and sector sizes
const (
	FlashSectorSize    = 0x1000
	ROMFlashBlockSize  = 0x400
	StubFlashBlockSize = 0x4000
	RAMBlockSize       = 0x1800
)

// ChecksumSeed is the initial value of the data checksum.
const ChecksumSeed = 0xEF

// Error codes from ROM bootloader
const (
	ErrInvalidMessage  = 0x05
	ErrFailedToAct     = 0x06
	ErrInvalidCRC      = 0x07
	ErrFlashWriteErr   = 0x08
	ErrFlashReadErr    = 0x09
	ErrFlashReadLenErr = 0x0A
	ErrDeflateError    = 0x0B
)

var errorMessages = map[byte]string{
	ErrInvalidMessage:  "invalid message",
	ErrFailedToAct:     "failed to act",
	ErrInvalidCRC:      "invalid CRC",
	ErrFlashWriteErr:   "flash write error",
	ErrFlashReadErr:    "flash read error",
	ErrFlashReadLenErr: "flash read length error",
	ErrDeflateError:    "deflate error",
}

// ErrorMessage returns human-readable error message
func ErrorMessage(code byte) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return "unknown error"
}

var commandNames = map[byte]string{
	CmdFlashBegin:     "FLASH_BEGIN",
	CmdFlashData:      "FLASH_DATA",
	CmdFlashEnd:       "FLASH_END",
	CmdMemBegin:       "MEM_BEGIN",
	CmdMemEnd:         "MEM_END",
	CmdMemData:        "MEM_DATA",
	CmdSync:           "SYNC",
	CmdWriteReg:       "WRITE_REG",
	CmdReadReg:        "READ_REG",
	CmdSpiSetParams:   "SPI_SET_PARAMS",
	CmdSpiAttach:      "SPI_ATTACH",
	CmdChangeBaudrate: "CHANGE_BAUDRATE",
	CmdFlashDeflBegin: "FLASH_DEFL_BEGIN",
	CmdFlashDeflData:  "FLASH_DEFL_DATA",
	CmdFlashDeflEnd:   "FLASH_DEFL_END",
	CmdSpiFlashMD5:    "SPI_FLASH_MD5",
}

// CommandName returns the protocol name of a command opcode.
func CommandName(cmd byte) string {
	if name, ok := commandNames[cmd]; ok {
		return name
	}

	return "UNKNOWN"
}
