package protocol

// Flash offsets of the SmartSpin2k partition scheme.
const (
	BootloaderAddress = 0x1000
	PartitionsAddress = 0x8000
	OTADataAddress    = 0xE000
	FirmwareAddress   = 0x10000
	FilesystemAddress = 0x3D0000
)

// ROM handshake and default upload baud rates.
const (
	ROMBaudRate    = 115200
	UploadBaudRate = 921600
)

// ChipMagicESP32 is the value of ChipDetectMagicReg on every ESP32.
const (
	ChipDetectMagicReg = 0x40001000
	ChipMagicESP32     = 0x00F01D83
)

// EfuseBase is the address of eFuse word 0; word n lives at EfuseBase+4n.
const EfuseBase = 0x3FF5A000

// APBCtlDateReg distinguishes revision 2 from revision 3 silicon.
const APBCtlDateReg = 0x3FF6607C

// SPI1 user command registers, used to run raw flash commands.
const (
	SPIBase     = 0x3FF42000
	SPICmdReg   = SPIBase + 0x00
	SPIUsrReg   = SPIBase + 0x1C
	SPIUsr1Reg  = SPIBase + 0x20
	SPIUsr2Reg  = SPIBase + 0x24
	SPIMosiDlen = SPIBase + 0x28
	SPIMisoDlen = SPIBase + 0x2C
	SPIW0Reg    = SPIBase + 0x80

	SPICmdUsr     = 1 << 18
	SPIUsrCommand = 1 << 31
	SPIUsrMiso    = 1 << 28
	SPIUsr2DLen   = 7 << 28
)

// SPIFlashRDID reads the 24-bit JEDEC id.
const SPIFlashRDID = 0x9F
