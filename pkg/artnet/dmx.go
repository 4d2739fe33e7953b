package artnet

import "encoding/binary"

// dmxHeaderSize is the number of bytes before the channel data begins:
// 8 (ID) + 2 (OpCode) + 2 (ProtVer) + 1 (Sequence) + 1 (Physical) +
// 1 (SubUni) + 1 (Net) + 2 (Length).
const dmxHeaderSize = 18

// DMX is an ArtDMX frame carrying up to 512 channels of DMX-512 data for
// one universe.
type DMX struct {
	Sequence byte
	Physical byte
	Address  PortAddress
	Data     []byte
}

func (DMX) opCode() OpCode { return OpDmx }

func decodeDMX(buf []byte) (Frame, error) {
	if len(buf) < dmxHeaderSize {
		return nil, ErrTruncatedFrame
	}
	length := binary.BigEndian.Uint16(buf[16:18])
	if len(buf) < dmxHeaderSize+int(length) {
		return nil, ErrTruncatedFrame
	}
	data := make([]byte, length)
	copy(data, buf[dmxHeaderSize:dmxHeaderSize+int(length)])
	return DMX{
		Sequence: buf[12],
		Physical: buf[13],
		Address:  fromNetSubUni(buf[15], buf[14]),
		Data:     data,
	}, nil
}

// encode serializes the frame, padding an odd-length payload to the next
// even length as the wire codec's ArtDMX encoding rule requires.
func (d DMX) encode() []byte {
	length := len(d.Data)
	if length%2 != 0 {
		length++
	}
	if length < 2 {
		length = 2
	}
	if length > DMXUniverseSize {
		length = DMXUniverseSize
	}
	buf := make([]byte, dmxHeaderSize+length)
	putHeader(buf, OpDmx)
	binary.BigEndian.PutUint16(buf[10:12], ProtocolVersion)
	buf[12] = d.Sequence
	buf[13] = d.Physical
	buf[14] = d.Address.subUni()
	buf[15] = d.Address.Net & 0x7F
	binary.BigEndian.PutUint16(buf[16:18], uint16(length))
	copy(buf[dmxHeaderSize:], d.Data)
	return buf
}
