package artnet

import "encoding/binary"

// TalkToMe flags, per the Art-Net specification.
const (
	// TalkToMeReplyOnChange requests an unsolicited ArtPollReply whenever
	// the polled node's condition changes.
	TalkToMeReplyOnChange byte = 0x02
)

// PollPriority values.
const (
	PriorityLow     byte = 0x10
	PriorityDefault byte = 0x10
)

// Poll is an ArtPoll frame: a request for every node on the network to
// identify itself with an ArtPollReply.
type Poll struct {
	TalkToMe byte
	Priority byte
}

func (Poll) opCode() OpCode { return OpPoll }

func decodePoll(buf []byte) (Frame, error) {
	if len(buf) < 14 {
		return nil, ErrTruncatedFrame
	}
	// buf[10:12] protocol version is tolerated but not validated: a
	// smaller value is acceptable per the wire codec's numeric conventions.
	return Poll{TalkToMe: buf[12], Priority: buf[13]}, nil
}

func (p Poll) encode() []byte {
	buf := make([]byte, 14)
	putHeader(buf, OpPoll)
	binary.BigEndian.PutUint16(buf[10:12], ProtocolVersion)
	buf[12] = p.TalkToMe
	buf[13] = p.Priority
	return buf
}
