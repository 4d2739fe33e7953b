package artnet

import "encoding/binary"

// PortTypes bit flags (low nibble selects the port's protocol; 0x00 = DMX).
const (
	PortTypeCanOutput byte = 0x80 >> 1 // 0x40: port can act as an output (subscriber)
	PortTypeCanInput  byte = 0x80      // port can act as an input (publisher)
	PortProtocolDMX   byte = 0x00
)

// pollReplyWireSize is the total, fixed size of an ArtPollReply on the
// wire (8-byte ID + 2-byte OpCode + 229 bytes of body, no variable tail).
const pollReplyWireSize = 239

// PollReply is an ArtPollReply frame: one per bindIndex a node advertises.
type PollReply struct {
	IP              [4]byte
	FirmwareVersion uint16
	NetSwitch       byte
	SubSwitch       byte
	Oem             uint16
	UbeaVersion     byte
	Status1         byte
	EstaMan         uint16
	ShortName       string
	LongName        string
	NodeReport      string
	NumPorts        uint8
	PortTypes       [4]byte
	GoodInput       [4]byte
	GoodOutput      [4]byte
	SwIn            [4]byte
	SwOut           [4]byte
	Style           byte
	MAC             [6]byte
	BindIp          [4]byte
	BindIndex       byte
	Status2         byte
}

func (PollReply) opCode() OpCode { return OpPollReply }

func decodePollReply(buf []byte) (Frame, error) {
	if len(buf) < 213 {
		return nil, ErrTruncatedFrame
	}
	r := PollReply{}
	copy(r.IP[:], buf[10:14])
	// buf[14:16] is the port, always 0x1936 on the wire; not surfaced.
	r.FirmwareVersion = binary.BigEndian.Uint16(buf[16:18])
	r.NetSwitch = buf[18]
	r.SubSwitch = buf[19]
	r.Oem = binary.BigEndian.Uint16(buf[20:22])
	r.UbeaVersion = buf[22]
	r.Status1 = buf[23]
	r.EstaMan = binary.LittleEndian.Uint16(buf[24:26])
	r.ShortName = decodeNulPadded(buf[26:44])
	r.LongName = decodeNulPadded(buf[44:108])
	r.NodeReport = decodeNulPadded(buf[108:172])
	numPorts := binary.BigEndian.Uint16(buf[172:174])
	if numPorts > 4 {
		return nil, ErrFieldOutOfRange
	}
	r.NumPorts = uint8(numPorts)
	copy(r.PortTypes[:], buf[174:178])
	copy(r.GoodInput[:], buf[178:182])
	copy(r.GoodOutput[:], buf[182:186])
	copy(r.SwIn[:], buf[186:190])
	copy(r.SwOut[:], buf[190:194])
	// buf[194:197] SwVideo/SwMacro/SwRemote and buf[197:200] Spare1-3 are
	// decoded by no upper layer; skipped.
	r.Style = buf[200]
	copy(r.MAC[:], buf[201:207])
	copy(r.BindIp[:], buf[207:211])
	r.BindIndex = buf[211]
	r.Status2 = buf[212]
	// buf[213:239] Filler, tolerated if absent or short.
	return r, nil
}

func (r PollReply) encode() []byte {
	buf := make([]byte, pollReplyWireSize)
	putHeader(buf, OpPollReply)
	copy(buf[10:14], r.IP[:])
	binary.LittleEndian.PutUint16(buf[14:16], DefaultPort)
	binary.BigEndian.PutUint16(buf[16:18], r.FirmwareVersion)
	buf[18] = r.NetSwitch
	buf[19] = r.SubSwitch
	binary.BigEndian.PutUint16(buf[20:22], r.Oem)
	buf[22] = r.UbeaVersion
	buf[23] = r.Status1
	binary.LittleEndian.PutUint16(buf[24:26], r.EstaMan)
	encodeNulPadded(buf[26:44], r.ShortName)
	encodeNulPadded(buf[44:108], r.LongName)
	encodeNulPadded(buf[108:172], r.NodeReport)
	binary.BigEndian.PutUint16(buf[172:174], uint16(r.NumPorts))
	copy(buf[174:178], r.PortTypes[:])
	copy(buf[178:182], r.GoodInput[:])
	copy(buf[182:186], r.GoodOutput[:])
	copy(buf[186:190], r.SwIn[:])
	copy(buf[190:194], r.SwOut[:])
	buf[200] = r.Style
	copy(buf[201:207], r.MAC[:])
	copy(buf[207:211], r.BindIp[:])
	buf[211] = r.BindIndex
	buf[212] = r.Status2
	return buf
}

// Ports returns the input and output Port set this reply advertises,
// derived from PortTypes/SwIn/SwOut and the node's Net/SubNet switches, as
// described in the wire codec's ArtPollReply port derivation rule.
// Non-DMX ports (PortTypes low nibble != PortProtocolDMX) are omitted.
func (r PollReply) Ports() (inputs, outputs []PortAddress) {
	for i := 0; i < int(r.NumPorts) && i < 4; i++ {
		if r.PortTypes[i]&0x0F != PortProtocolDMX {
			continue
		}
		base := PortAddress{Net: r.NetSwitch & 0x7F, SubNet: r.SubSwitch & 0x0F}
		if r.PortTypes[i]&PortTypeCanInput != 0 {
			p := base
			p.Universe = r.SwIn[i] & 0x0F
			inputs = append(inputs, p)
		}
		if r.PortTypes[i]&PortTypeCanOutput != 0 {
			p := base
			p.Universe = r.SwOut[i] & 0x0F
			outputs = append(outputs, p)
		}
	}
	return inputs, outputs
}

func decodeNulPadded(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func encodeNulPadded(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}
