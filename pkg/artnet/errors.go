package artnet

import "errors"

// Decode errors. These are never fatal: the caller drops the offending
// datagram and (in the scheduler loop) counts it in a CodecStats.
var (
	ErrBadMagic        = errors.New("artnet: bad magic preamble")
	ErrBadOpCode       = errors.New("artnet: unrecognized opcode")
	ErrTruncatedFrame  = errors.New("artnet: frame shorter than declared length")
	ErrFieldOutOfRange = errors.New("artnet: field value out of range")
)
