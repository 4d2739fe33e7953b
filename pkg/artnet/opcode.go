// Package artnet provides Art-Net protocol packet building and parsing.
//
// It implements the bit-exact wire codec for the OpCodes a participant
// core needs to interoperate with existing consoles, gateways and
// monitors: ArtPoll, ArtPollReply and ArtDMX. Every other OpCode decodes
// to Unknown rather than failing, so a datagram carrying RDM, ArtSync,
// ArtAddress, ArtTimeCode, ArtIpProg, ArtDataRequest, ArtTrigger or
// firmware traffic is tolerated, never rejected.
package artnet

import "encoding/binary"

// OpCode identifies the payload that follows the Art-Net header.
type OpCode uint16

// OpCodes this codec understands and decodes into a concrete type.
const (
	OpPoll      OpCode = 0x2000
	OpPollReply OpCode = 0x2100
	OpDmx       OpCode = 0x5000
)

// Non-goal OpCodes named here only so tests can assert the codec tolerates
// them: it never handles their payloads, it only classifies them Unknown.
const (
	OpSync           OpCode = 0x5200
	OpAddress        OpCode = 0x6000
	OpTimeCode       OpCode = 0x9700
	OpIPProg         OpCode = 0xF800
	OpDataRequest    OpCode = 0x7000
	OpTrigger        OpCode = 0x9900
	OpFirmwareMaster OpCode = 0xF200
)

// ProtocolVersion is the Art-Net protocol version this codec emits.
// Decode tolerates any version <= ProtocolVersion on the wire.
const ProtocolVersion uint16 = 14

// DefaultPort is the standard Art-Net UDP port (0x1936).
const DefaultPort = 6454

// DMXUniverseSize is the number of channels in one DMX-512 universe.
const DMXUniverseSize = 512

// artNetID is the fixed 8-byte magic that begins every Art-Net datagram.
var artNetID = [8]byte{'A', 'r', 't', '-', 'N', 'e', 't', 0x00}

// DecodeMode selects how Decode treats an OpCode it does not recognize.
type DecodeMode int

const (
	// Lenient decodes unrecognized OpCodes to Unknown (the default).
	Lenient DecodeMode = iota
	// Strict returns ErrBadOpCode for unrecognized OpCodes.
	Strict
)

// Frame is implemented by Poll, PollReply, DMX and Unknown.
type Frame interface {
	opCode() OpCode
}

// Unknown is returned by Decode for any OpCode this codec does not
// otherwise handle; the raw payload (everything after the OpCode) is kept
// so a caller can log or forward it.
type Unknown struct {
	OpCode  OpCode
	Payload []byte
}

func (Unknown) opCode() OpCode { return 0 }

// Codec bundles the (rarely changed) decode mode with the OpCode dispatch.
// Its zero value is a lenient codec, matching most Art-Net consoles and
// monitors, which is why the package also exposes the Decode/Encode
// package functions that use it implicitly.
type Codec struct {
	Mode DecodeMode
}

// Decode parses a single Art-Net datagram. It returns BadMagic if the
// 8-byte preamble does not match, TruncatedFrame if buf is shorter than a
// declared field requires, and (in Strict mode only) BadOpCode for an
// OpCode this codec does not implement.
func (c Codec) Decode(buf []byte) (Frame, error) {
	if len(buf) < 10 {
		return nil, ErrTruncatedFrame
	}
	if [8]byte(buf[0:8]) != artNetID {
		return nil, ErrBadMagic
	}
	op := OpCode(binary.LittleEndian.Uint16(buf[8:10]))
	switch op {
	case OpPoll:
		return decodePoll(buf)
	case OpPollReply:
		return decodePollReply(buf)
	case OpDmx:
		return decodeDMX(buf)
	default:
		if c.Mode == Strict {
			return nil, ErrBadOpCode
		}
		payload := make([]byte, len(buf)-10)
		copy(payload, buf[10:])
		return Unknown{OpCode: op, Payload: payload}, nil
	}
}

// Encode serializes a Frame to its wire form. Unknown cannot be
// re-encoded (there is nothing meaningful to reconstruct the header for)
// and returns ErrBadOpCode.
func (c Codec) Encode(f Frame) ([]byte, error) {
	switch v := f.(type) {
	case Poll:
		return v.encode(), nil
	case PollReply:
		return v.encode(), nil
	case DMX:
		return v.encode(), nil
	default:
		return nil, ErrBadOpCode
	}
}

// Decode is a convenience wrapper around a zero-value (Lenient) Codec.
func Decode(buf []byte) (Frame, error) { return Codec{}.Decode(buf) }

// Encode is a convenience wrapper around a zero-value Codec.
func Encode(f Frame) ([]byte, error) { return Codec{}.Encode(f) }

func putHeader(buf []byte, op OpCode) {
	copy(buf[0:8], artNetID[:])
	binary.LittleEndian.PutUint16(buf[8:10], uint16(op))
}
