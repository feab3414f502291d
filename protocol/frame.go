package protocol

import (
	"bytes"
	"errors"
	"sync/atomic"
)

var (
	ErrFrameIncomplete = errors.New("incomplete frame")
	ErrFrameLength     = errors.New("frame length out of range")
	ErrFrameDest       = errors.New("frame destination mismatch")
	ErrFrameSync       = errors.New("frame sync byte missing")
	ErrFrameCRC        = errors.New("frame CRC mismatch")
)

// Message is one validated block.
type Message struct {
	Length   uint8
	Sequence uint8
	Payload  []byte // between header and trailer; aliases the receive buffer
	CRC      uint16
}

// ParseFrame validates the block at the start of data. ErrFrameIncomplete
// means more bytes are needed; any other error means the stream is out of
// sync. When checkDest is set the sequence byte must carry MessageDest.
func ParseFrame(data []byte, checkDest bool) (Message, error) {
	if len(data) < MessageLengthMin {
		return Message{}, ErrFrameIncomplete
	}
	n := int(data[MessagePositionLen])
	if n < MessageLengthMin || n > MessageLengthMax {
		return Message{}, ErrFrameLength
	}
	seq := data[MessagePositionSeq]
	if checkDest && seq&^MessageSeqMask != MessageDest {
		return Message{}, ErrFrameDest
	}
	if len(data) < n {
		return Message{}, ErrFrameIncomplete
	}
	if data[n-MessageTrailerSync] != MessageValueSync {
		return Message{}, ErrFrameSync
	}
	crc := uint16(data[n-MessageTrailerCRC])<<8 | uint16(data[n-MessageTrailerCRC+1])
	if crc != CRC16(data[:n-MessageTrailerSize]) {
		return Message{}, ErrFrameCRC
	}
	return Message{
		Length:   uint8(n),
		Sequence: seq,
		Payload:  data[MessageHeaderSize : n-MessageTrailerSize],
		CRC:      crc,
	}, nil
}

// AppendFrame encodes one block into output: header, whatever body writes,
// then CRC and sync.
func AppendFrame(output OutputBuffer, seq uint8, body func(output OutputBuffer)) {
	start := output.CurPosition()
	output.Output([]byte{0, seq})
	if body != nil {
		body(output)
	}
	n := len(output.DataSince(start)) + MessageTrailerSize
	output.Update(start+MessagePositionLen, uint8(n))

	crc := CRC16(output.DataSince(start))
	output.Output([]byte{uint8(crc >> 8), uint8(crc), MessageValueSync})
}

// frameScanner splits a byte stream into blocks. After any framing error it
// drops bytes up to the next sync byte before trying again.
type frameScanner struct {
	synced    bool
	checkDest bool
	errors    uint32
}

// scan feeds every complete block in data to onFrame and returns how many
// bytes were consumed. onResync, if set, runs whenever sync is regained.
func (s *frameScanner) scan(data []byte, onFrame func(Message), onResync func()) int {
	total := len(data)
	for len(data) > 0 {
		if !s.synced {
			i := bytes.IndexByte(data, MessageValueSync)
			if i < 0 {
				data = nil
				break
			}
			data = data[i+1:]
			s.synced = true
			if onResync != nil {
				onResync()
			}
			continue
		}
		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}
		msg, err := ParseFrame(data, s.checkDest)
		if err == ErrFrameIncomplete {
			break
		}
		if err != nil {
			s.synced = false
			atomic.AddUint32(&s.errors, 1)
			continue
		}
		data = data[msg.Length:]
		onFrame(msg)
	}
	return total - len(data)
}
