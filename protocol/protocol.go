// Package protocol implements the framed serial link between the converter
// firmware and a host: VLQ-encoded commands inside length-prefixed,
// CRC-checked blocks with a 4-bit sequence number.
package protocol

// Version is the link protocol version reported in the dictionary
const Version = "0.1.0"

// Block layout
const (
	MessageMax         = 512 // scratch output capacity (several blocks)
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64

	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1

	MessageValueSync = 0x7E
	MessageDest      = 0x10
	MessageSeqMask   = 0x0F
)

// nextSequence returns the sequence value that follows seq.
func nextSequence(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}
