package protocol

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

func TestNewRequest_Checksum_EmptyData(t *testing.T) {
	req := NewRequest(CmdSync, nil)
	// Checksum with no data should be 0xEF (initial value)
	if req.Checksum != 0xEF {
		t.Errorf("NewRequest checksum with empty data = 0x%X, want 0xEF", req.Checksum)
	}
}

func TestNewRequest_Checksum_MultipleBytes(t *testing.T) {
	req := NewRequest(CmdSync, []byte{0x01, 0x02, 0x04})
	expected := byte(0xEF) ^ 0x01 ^ 0x02 ^ 0x04
	if req.Checksum != uint32(expected) {
		t.Errorf("NewRequest checksum = 0x%X, want 0x%X", req.Checksum, expected)
	}
}

func TestNewDataRequest_ChecksumCoversBlockOnly(t *testing.T) {
	block := []byte{0x10, 0x20, 0x30}
	req := NewDataRequest(CmdMemData, block, 7)

	if want := Checksum(block); req.Checksum != want {
		t.Errorf("NewDataRequest checksum = 0x%X, want 0x%X", req.Checksum, want)
	}
	if len(req.Data) != 16+len(block) {
		t.Fatalf("NewDataRequest data length = %d, want %d", len(req.Data), 16+len(block))
	}
	if seq := binary.LittleEndian.Uint32(req.Data[4:8]); seq != 7 {
		t.Errorf("NewDataRequest seq = %d, want 7", seq)
	}
	if !bytes.Equal(req.Data[16:], block) {
		t.Errorf("NewDataRequest block = %v, want %v", req.Data[16:], block)
	}
}

func TestRequest_Encode_Format(t *testing.T) {
	data := []byte{0xAA, 0xBB}
	req := NewRequest(CmdSync, data)
	encoded := req.Encode()

	// Format: direction(1) + cmd(1) + len(2) + checksum(4) + data
	if len(encoded) != 8+len(data) {
		t.Fatalf("Encode() length = %d, want %d", len(encoded), 8+len(data))
	}
	if encoded[0] != DirRequest {
		t.Errorf("Encode()[0] direction = 0x%02X, want 0x%02X", encoded[0], DirRequest)
	}
	if encoded[1] != CmdSync {
		t.Errorf("Encode()[1] command = 0x%02X, want 0x%02X", encoded[1], CmdSync)
	}
	if n := binary.LittleEndian.Uint16(encoded[2:4]); n != uint16(len(data)) {
		t.Errorf("Encode() data length = %d, want %d", n, len(data))
	}
	if c := binary.LittleEndian.Uint32(encoded[4:8]); c != req.Checksum {
		t.Errorf("Encode() checksum = 0x%X, want 0x%X", c, req.Checksum)
	}
	if !bytes.Equal(encoded[8:], data) {
		t.Errorf("Encode() data = %v, want %v", encoded[8:], data)
	}
}

func response(cmd byte, value uint32, body []byte) []byte {
	data := make([]byte, 8+len(body))
	data[0] = DirResponse
	data[1] = cmd
	binary.LittleEndian.PutUint16(data[2:4], uint16(len(body)))
	binary.LittleEndian.PutUint32(data[4:8], value)
	copy(data[8:], body)

	return data
}

func TestDecodeResponse_ROMStatus(t *testing.T) {
	raw := response(CmdReadReg, 0x00F01D83, []byte{0x00, 0x00, 0x00, 0x00})

	resp, err := DecodeResponse(raw, ROMStatusLen)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if resp.Command != CmdReadReg {
		t.Errorf("Command = 0x%02X, want 0x%02X", resp.Command, CmdReadReg)
	}
	if resp.Value != 0x00F01D83 {
		t.Errorf("Value = 0x%08X, want 0x00F01D83", resp.Value)
	}
	if len(resp.Data) != 0 {
		t.Errorf("Data = %v, want empty", resp.Data)
	}
	if !resp.IsSuccess() {
		t.Errorf("IsSuccess() = false, want true")
	}
}

func TestDecodeResponse_StubStatusWithData(t *testing.T) {
	body := []byte{0xDE, 0xAD, 0x01, 0x07}
	raw := response(CmdSpiFlashMD5, 0, body)

	resp, err := DecodeResponse(raw, StubStatusLen)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if !bytes.Equal(resp.Data, []byte{0xDE, 0xAD}) {
		t.Errorf("Data = %v, want [DE AD]", resp.Data)
	}
	if resp.Status != 0x01 || resp.Error != ErrInvalidCRC {
		t.Errorf("Status/Error = 0x%02X/0x%02X, want 0x01/0x07", resp.Status, resp.Error)
	}
	if resp.IsSuccess() {
		t.Errorf("IsSuccess() = true, want false")
	}
}

func TestDecodeResponse_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want string
	}{
		{"too short", []byte{DirResponse, CmdSync, 0, 0}, "too short"},
		{"direction", append([]byte{DirRequest}, response(CmdSync, 0, []byte{0, 0, 0, 0})[1:]...), "invalid direction"},
		{"size mismatch", response(CmdSync, 0, []byte{0, 0, 0, 0})[:10], "too short"},
		{"missing status", response(CmdSync, 0, []byte{0, 0}), "too short"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeResponse(tc.raw, ROMStatusLen)
			if err == nil {
				t.Fatalf("DecodeResponse() error = nil, want %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("DecodeResponse() error = %q, want substring %q", err, tc.want)
			}
		})
	}
}

func TestDecodeResponse_DeclaredSizeBeyondFrame(t *testing.T) {
	raw := response(CmdSync, 0, []byte{0, 0, 0, 0})
	binary.LittleEndian.PutUint16(raw[2:4], 40)

	if _, err := DecodeResponse(raw, ROMStatusLen); err == nil || !strings.Contains(err.Error(), "size mismatch") {
		t.Errorf("DecodeResponse() error = %v, want size mismatch", err)
	}
}

func TestResponse_ErrorString(t *testing.T) {
	ok := &Response{}
	if s := ok.ErrorString(); s != "" {
		t.Errorf("ErrorString() on success = %q, want empty", s)
	}

	failed := &Response{Status: 1, Error: ErrDeflateError}
	if s := failed.ErrorString(); !strings.Contains(s, "deflate error") {
		t.Errorf("ErrorString() = %q, want it to mention deflate error", s)
	}
}
