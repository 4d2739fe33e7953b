package artnet

import (
	"encoding/binary"
	"testing"
)

func TestDMXEncodeHeader(t *testing.T) {
	tests := []struct {
		name       string
		addr       PortAddress
		channels   []byte
		wantSubUni uint8
		wantNet    uint8
		wantLength uint16
	}{
		{
			name:       "universe 1",
			addr:       PortAddress{Net: 0, SubNet: 0, Universe: 1},
			channels:   make([]byte, 512),
			wantSubUni: 0x01,
			wantNet:    0,
			wantLength: 512,
		},
		{
			name:       "net and subnet set",
			addr:       PortAddress{Net: 3, SubNet: 2, Universe: 4},
			channels:   make([]byte, 100),
			wantSubUni: 0x24,
			wantNet:    3,
			wantLength: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := DMX{Sequence: 123, Address: tt.addr, Data: tt.channels}
			packet := frame.encode()

			if string(packet[0:8]) != "Art-Net\x00" {
				t.Errorf("ID = %q, want \"Art-Net\\x00\"", packet[0:8])
			}
			if op := binary.LittleEndian.Uint16(packet[8:10]); op != uint16(OpDmx) {
				t.Errorf("OpCode = 0x%04x, want 0x%04x", op, OpDmx)
			}
			if ver := binary.BigEndian.Uint16(packet[10:12]); ver != ProtocolVersion {
				t.Errorf("ProtocolVersion = %d, want %d", ver, ProtocolVersion)
			}
			if packet[12] != 123 {
				t.Errorf("Sequence = %d, want 123", packet[12])
			}
			if packet[14] != tt.wantSubUni {
				t.Errorf("SubUni = 0x%02x, want 0x%02x", packet[14], tt.wantSubUni)
			}
			if packet[15] != tt.wantNet {
				t.Errorf("Net = %d, want %d", packet[15], tt.wantNet)
			}
			if length := binary.BigEndian.Uint16(packet[16:18]); length != tt.wantLength {
				t.Errorf("Length = %d, want %d", length, tt.wantLength)
			}
		})
	}
}

func TestDMXEncodeDecodeRoundTrip(t *testing.T) {
	channels := make([]byte, 128)
	channels[0] = 255
	channels[100] = 128
	channels[127] = 64

	frame := DMX{Sequence: 7, Physical: 1, Address: PortAddress{Net: 1, SubNet: 2, Universe: 3}, Data: channels}
	packet := frame.encode()

	decoded, err := Decode(packet)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := decoded.(DMX)
	if !ok {
		t.Fatalf("Decode returned %T, want DMX", decoded)
	}
	if got.Sequence != frame.Sequence || got.Physical != frame.Physical || got.Address != frame.Address {
		t.Errorf("decoded header mismatch: got %+v, want %+v", got, frame)
	}
	if len(got.Data) != len(channels) {
		t.Fatalf("decoded data length = %d, want %d", len(got.Data), len(channels))
	}
	for i := range channels {
		if got.Data[i] != channels[i] {
			t.Errorf("decoded channel %d = %d, want %d", i, got.Data[i], channels[i])
		}
	}
}

func TestDMXEncodePadsOddLength(t *testing.T) {
	frame := DMX{Address: PortAddress{Universe: 1}, Data: []byte{1, 2, 3}}
	packet := frame.encode()
	length := binary.BigEndian.Uint16(packet[16:18])
	if length != 4 {
		t.Errorf("encoded length = %d, want 4 (padded even)", length)
	}
	if len(packet) != dmxHeaderSize+4 {
		t.Errorf("packet length = %d, want %d", len(packet), dmxHeaderSize+4)
	}
}

func TestDMXEncodeEmptyChannels(t *testing.T) {
	frame := DMX{Address: PortAddress{Universe: 1}}
	packet := frame.encode()
	length := binary.BigEndian.Uint16(packet[16:18])
	if length != 2 {
		t.Errorf("encoded length for nil Data = %d, want 2 (minimum)", length)
	}
}

func TestDecodeTruncatedFrame(t *testing.T) {
	frame := DMX{Address: PortAddress{Universe: 1}, Data: make([]byte, 10)}
	packet := frame.encode()

	if _, err := Decode(packet[:dmxHeaderSize-1]); err != ErrTruncatedFrame {
		t.Errorf("Decode(short header) error = %v, want ErrTruncatedFrame", err)
	}
	if _, err := Decode(packet[:len(packet)-1]); err != ErrTruncatedFrame {
		t.Errorf("Decode(short data) error = %v, want ErrTruncatedFrame", err)
	}
}

func TestDecodeBadMagic(t *testing.T) {
	buf := make([]byte, 20)
	copy(buf, "NotArtNet\x00")
	if _, err := Decode(buf); err != ErrBadMagic {
		t.Errorf("Decode(bad magic) error = %v, want ErrBadMagic", err)
	}
}

func TestDecodeUnknownOpCodeLenient(t *testing.T) {
	buf := make([]byte, 16)
	copy(buf[0:8], artNetID[:])
	binary.LittleEndian.PutUint16(buf[8:10], uint16(OpSync))

	frame, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode(unknown opcode, lenient) error = %v, want nil", err)
	}
	unk, ok := frame.(Unknown)
	if !ok {
		t.Fatalf("Decode returned %T, want Unknown", frame)
	}
	if unk.OpCode != OpSync {
		t.Errorf("Unknown.OpCode = 0x%04x, want 0x%04x", unk.OpCode, OpSync)
	}
}

func TestDecodeUnknownOpCodeStrict(t *testing.T) {
	buf := make([]byte, 16)
	copy(buf[0:8], artNetID[:])
	binary.LittleEndian.PutUint16(buf[8:10], uint16(OpTrigger))

	c := Codec{Mode: Strict}
	if _, err := c.Decode(buf); err != ErrBadOpCode {
		t.Errorf("Decode(unknown opcode, strict) error = %v, want ErrBadOpCode", err)
	}
}

func TestNonGoalOpCodesNeverError(t *testing.T) {
	nonGoals := []OpCode{OpSync, OpAddress, OpTimeCode, OpIPProg, OpDataRequest, OpTrigger, OpFirmwareMaster}
	for _, op := range nonGoals {
		buf := make([]byte, 16)
		copy(buf[0:8], artNetID[:])
		binary.LittleEndian.PutUint16(buf[8:10], uint16(op))
		if _, err := Decode(buf); err != nil {
			t.Errorf("Decode(opcode 0x%04x) error = %v, want nil (lenient tolerance)", op, err)
		}
	}
}
