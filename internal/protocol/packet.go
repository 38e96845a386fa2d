package protocol

import (
	"encoding/binary"
	"fmt"
)

// Request represents an ESP32 bootloader request packet.
type Request struct {
	Command  byte
	Data     []byte
	Checksum uint32
}

// Response represents an ESP32 bootloader response packet.
type Response struct {
	Command byte
	Data    []byte
	Value   uint32
	Status  byte
	Error   byte
}

// NewRequest creates a new request with the checksum computed over all of data.
// The checksum is only checked by the chip for the *_DATA commands, which
// should use NewDataRequest instead.
func NewRequest(cmd byte, data []byte) *Request {
	return &Request{
		Command:  cmd,
		Data:     data,
		Checksum: Checksum(data),
	}
}

// NewDataRequest creates a MEM_DATA, FLASH_DATA or FLASH_DEFL_DATA request
// carrying block as sequence number seq.
func NewDataRequest(cmd byte, block []byte, seq uint32) *Request {
	return &Request{
		Command:  cmd,
		Data:     DataPacket(block, seq),
		Checksum: Checksum(block),
	}
}

// Checksum XORs every byte of data into ChecksumSeed.
func Checksum(data []byte) uint32 {
	var checksum byte = ChecksumSeed
	for _, b := range data {
		checksum ^= b
	}

	return uint32(checksum)
}

// Encode serializes the request to bytes (before SLIP encoding).
func (r *Request) Encode() []byte {
	// Packet format:
	// 0: direction (0x00 = request)
	// 1: command
	// 2-3: data size (little-endian)
	// 4-7: checksum (little-endian, only for data commands)
	// 8+: data
	packet := make([]byte, 8+len(r.Data))

	packet[0] = DirRequest
	packet[1] = r.Command
	binary.LittleEndian.PutUint16(packet[2:4], uint16(len(r.Data)))
	binary.LittleEndian.PutUint32(packet[4:8], r.Checksum)
	copy(packet[8:], r.Data)

	return packet
}

// DecodeResponse parses a response from raw bytes (after SLIP decoding).
// statusLen is the number of trailing status bytes, ROMStatusLen or StubStatusLen.
func DecodeResponse(data []byte, statusLen int) (*Response, error) {
	if len(data) < 8+statusLen {
		return nil, fmt.Errorf("response too short: %d bytes", len(data))
	}

	if data[0] != DirResponse {
		return nil, fmt.Errorf("invalid direction byte: 0x%02X", data[0])
	}

	size := int(binary.LittleEndian.Uint16(data[2:4]))
	if size > len(data)-8 {
		return nil, fmt.Errorf("data size mismatch: expected %d, have %d", size, len(data)-8)
	}

	if size < statusLen {
		return nil, fmt.Errorf("response carries %d bytes, need %d status bytes", size, statusLen)
	}

	body := data[8 : 8+size]
	status := body[size-statusLen:]

	return &Response{
		Command: data[1],
		Value:   binary.LittleEndian.Uint32(data[4:8]),
		Data:    body[:size-statusLen],
		Status:  status[0],
		Error:   status[1],
	}, nil
}

// IsSuccess returns true if the response indicates success.
func (r *Response) IsSuccess() bool {
	return r.Status == 0
}

// ErrorString returns a human-readable error message.
func (r *Response) ErrorString() string {
	if r.IsSuccess() {
		return ""
	}

	return fmt.Sprintf("status=0x%02X error=0x%02X (%s)", r.Status, r.Error, ErrorMessage(r.Error))
}

// SyncData returns the data payload for a SYNC command.
func SyncData() []byte {
	// SYNC payload: 0x07 0x07 0x12 0x20 followed by 32 bytes of 0x55
	data := make([]byte, 36)
	copy(data, []byte{0x07, 0x07, 0x12, 0x20})

	for i := 4; i < len(data); i++ {
		data[i] = 0x55
	}

	return data
}

// BeginData creates the payload shared by MEM_BEGIN, FLASH_BEGIN and FLASH_DEFL_BEGIN.
func BeginData(size, numBlocks, blockSize, offset uint32) []byte {
	return words(size, numBlocks, blockSize, offset)
}

// DataPacket prefixes block with the size/sequence header used by every *_DATA command.
func DataPacket(block []byte, seq uint32) []byte {
	// Header: size (4) + seq (4) + reserved (8)
	payload := make([]byte, 16+len(block))
	binary.LittleEndian.PutUint32(payload[0:4], uint32(len(block)))
	binary.LittleEndian.PutUint32(payload[4:8], seq)
	copy(payload[16:], block)

	return payload
}

// MemEndData creates the payload for MEM_END. A zero entry point means no jump.
func MemEndData(entry uint32) []byte {
	var noEntry uint32
	if entry == 0 {
		noEntry = 1
	}

	return words(noEntry, entry)
}

// FlashEndData creates the data payload for FLASH_END and FLASH_DEFL_END.
func FlashEndData(reboot bool) []byte {
	if reboot {
		return words(0) // 0 = reboot
	}

	return words(1) // 1 = stay in bootloader
}

// ReadRegData creates the payload for READ_REG.
func ReadRegData(addr uint32) []byte {
	return words(addr)
}

// WriteRegData creates the payload for WRITE_REG with a full mask and no delay.
func WriteRegData(addr, value uint32) []byte {
	return words(addr, value, 0xFFFFFFFF, 0)
}

// ChangeBaudData creates the payload for CHANGE_BAUDRATE. The stub expects the
// current rate as the second word, the ROM expects zero.
func ChangeBaudData(newBaud, oldBaud uint32) []byte {
	return words(newBaud, oldBaud)
}

// SpiAttachData creates the data payload for SPI_ATTACH. The ROM takes four
// extra reserved bytes the stub does not accept.
func SpiAttachData(stub bool) []byte {
	if stub {
		return make([]byte, 4)
	}

	return make([]byte, 8)
}

// SpiSetParamsData creates the payload for SPI_SET_PARAMS describing a flash
// chip of totalSize bytes.
func SpiSetParamsData(totalSize uint32) []byte {
	// id, total size, block size, sector size, page size, status mask
	return words(0, totalSize, 64*1024, FlashSectorSize, 256, 0xFFFF)
}

// FlashMD5Data creates the data payload for SPI_FLASH_MD5 command.
func FlashMD5Data(address, size uint32) []byte {
	return words(address, size, 0, 0)
}

// CalculateBlocks returns how many blockSize blocks hold size bytes.
func CalculateBlocks(size, blockSize int) uint32 {
	return uint32((size + blockSize - 1) / blockSize)
}

func words(v ...uint32) []byte {
	data := make([]byte, 4*len(v))
	for i, w := range v {
		binary.LittleEndian.PutUint32(data[4*i:], w)
	}

	return data
}
